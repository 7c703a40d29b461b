package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"spendcast/internal/pipeline"
	"spendcast/internal/timeseries"
)

// ModelFile is the optional TOML file of hyperparameters. Unset keys keep
// the pipeline defaults.
//
//	[model]
//	sequence_length = 7
//	hidden_size = 64
//
//	[training]
//	epochs = 100
//	learning_rate = 0.001
type ModelFile struct {
	Model      ModelSection      `toml:"model"`
	Training   TrainingSection   `toml:"training"`
	Evaluation EvaluationSection `toml:"evaluation"`
}

type ModelSection struct {
	SequenceLength *int     `toml:"sequence_length,omitempty"`
	HiddenSize     *int     `toml:"hidden_size,omitempty"`
	NumLayers      *int     `toml:"num_layers,omitempty"`
	Dropout        *float64 `toml:"dropout,omitempty"`
	BudgetOverlap  *string  `toml:"budget_overlap,omitempty"`
}

type TrainingSection struct {
	Epochs       *int     `toml:"epochs,omitempty"`
	BatchSize    *int     `toml:"batch_size,omitempty"`
	LearningRate *float64 `toml:"learning_rate,omitempty"`
	Seed         *int64   `toml:"seed,omitempty"`
	Lanes        *int     `toml:"lanes,omitempty"`
}

type EvaluationSection struct {
	TestRatio       *float64 `toml:"test_ratio,omitempty"`
	DefaultHorizon  *int     `toml:"default_horizon,omitempty"`
	CrossValFolds   *int     `toml:"crossval_folds,omitempty"`
	CrossValEpochs  *int     `toml:"crossval_epochs,omitempty"`
	CrossValMinDays *int     `toml:"crossval_min_days,omitempty"`
}

// LoadModelFile reads path; an empty path yields an empty ModelFile.
func LoadModelFile(path string) (ModelFile, error) {
	var mf ModelFile
	if path == "" {
		return mf, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mf, fmt.Errorf("reading model config: %w", err)
	}
	md, err := toml.Decode(string(data), &mf)
	if err != nil {
		return mf, fmt.Errorf("parsing model config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return mf, fmt.Errorf("parsing model config: unknown keys %v", undecoded)
	}
	return mf, nil
}

// Apply overlays the file's values on base.
func (m ModelFile) Apply(base pipeline.Config) pipeline.Config {
	cfg := base
	set(&cfg.SequenceLength, m.Model.SequenceLength)
	set(&cfg.HiddenSize, m.Model.HiddenSize)
	set(&cfg.NumLayers, m.Model.NumLayers)
	set(&cfg.Dropout, m.Model.Dropout)
	if m.Model.BudgetOverlap != nil {
		cfg.Overlap = timeseries.OverlapPolicy(*m.Model.BudgetOverlap)
	}

	set(&cfg.Train.Epochs, m.Training.Epochs)
	set(&cfg.Train.BatchSize, m.Training.BatchSize)
	set(&cfg.Train.LearningRate, m.Training.LearningRate)
	set(&cfg.Train.Seed, m.Training.Seed)
	set(&cfg.Train.Lanes, m.Training.Lanes)

	set(&cfg.TestRatio, m.Evaluation.TestRatio)
	set(&cfg.DefaultHorizon, m.Evaluation.DefaultHorizon)
	set(&cfg.CrossValFolds, m.Evaluation.CrossValFolds)
	set(&cfg.CrossValEpochs, m.Evaluation.CrossValEpochs)
	set(&cfg.CrossValMinDays, m.Evaluation.CrossValMinDays)
	return cfg
}

// PipelineConfig loads the model file named by the environment and applies
// it to the pipeline defaults. The result is validated.
func (c *Config) PipelineConfig() (pipeline.Config, error) {
	mf, err := LoadModelFile(c.ModelConfigFile)
	if err != nil {
		return pipeline.Config{}, err
	}
	cfg := mf.Apply(pipeline.DefaultConfig())
	cfg.DefaultHorizon = c.ForecastHorizon
	if mf.Evaluation.DefaultHorizon != nil {
		cfg.DefaultHorizon = *mf.Evaluation.DefaultHorizon
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
