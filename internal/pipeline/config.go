package pipeline

import (
	"fmt"
	"strings"

	"spendcast/internal/nn"
	"spendcast/internal/timeseries"
)

// Config holds the hyperparameters and policies of a Manager.
type Config struct {
	SequenceLength int
	TestRatio      float64
	HiddenSize     int
	NumLayers      int
	// Dropout is applied to the multivariate variant only.
	Dropout        float64
	Train          nn.TrainOptions
	Overlap        timeseries.OverlapPolicy
	DefaultHorizon int

	CrossValFolds   int
	CrossValEpochs  int
	CrossValMinDays int
}

// DefaultConfig returns the production hyperparameters.
func DefaultConfig() Config {
	return Config{
		SequenceLength:  7,
		TestRatio:       0.2,
		HiddenSize:      64,
		NumLayers:       2,
		Dropout:         0.2,
		Train:           nn.DefaultTrainOptions(),
		Overlap:         timeseries.OverlapSum,
		DefaultHorizon:  30,
		CrossValFolds:   3,
		CrossValEpochs:  50,
		CrossValMinDays: 90,
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []string
	if c.SequenceLength < 1 {
		errs = append(errs, fmt.Sprintf("sequence length %d must be positive", c.SequenceLength))
	}
	if c.TestRatio < 0 || c.TestRatio >= 1 {
		errs = append(errs, fmt.Sprintf("test ratio %v outside [0, 1)", c.TestRatio))
	}
	if c.HiddenSize < 2 {
		errs = append(errs, fmt.Sprintf("hidden size %d must be at least 2", c.HiddenSize))
	}
	if c.NumLayers < 1 {
		errs = append(errs, fmt.Sprintf("layer count %d must be positive", c.NumLayers))
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		errs = append(errs, fmt.Sprintf("dropout %v outside [0, 1)", c.Dropout))
	}
	if c.Train.Epochs < 1 || c.Train.BatchSize < 1 || c.Train.LearningRate <= 0 {
		errs = append(errs, "training needs positive epochs, batch size and learning rate")
	}
	if c.Overlap != "" && !c.Overlap.IsValid() {
		errs = append(errs, fmt.Sprintf("unknown overlap policy %q", c.Overlap))
	}
	if c.DefaultHorizon < 1 {
		errs = append(errs, fmt.Sprintf("default horizon %d must be positive", c.DefaultHorizon))
	}
	if c.CrossValFolds < 1 || c.CrossValEpochs < 1 {
		errs = append(errs, "cross validation needs at least one fold and one epoch")
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline config:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func (c Config) modelConfig(v nn.Variant) nn.Config {
	cfg := nn.DefaultConfig(v)
	cfg.HiddenSize = c.HiddenSize
	cfg.NumLayers = c.NumLayers
	if v == nn.Multivariate {
		cfg.Dropout = c.Dropout
	} else {
		cfg.Dropout = 0
	}
	return cfg
}
