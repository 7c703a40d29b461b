// Package nn implements the sequence-to-one LSTM regressor used to predict
// the next day's spending from a window of daily feature rows.
package nn

import (
	"fmt"

	"spendcast/internal/core"
)

// Variant distinguishes the model configurations by input channel count.
type Variant string

const (
	Univariate   Variant = "univariate"
	Multivariate Variant = "multivariate"
)

func (v Variant) IsValid() bool {
	return v == Univariate || v == Multivariate
}

// InputWidth is the number of feature channels the variant consumes.
func (v Variant) InputWidth() int {
	if v == Multivariate {
		return 4
	}
	return 1
}

// Config fixes the architecture of a Regressor.
type Config struct {
	Variant    Variant
	InputWidth int
	HiddenSize int
	NumLayers  int
	// Dropout applies between stacked LSTM layers and inside the projection
	// head. Only active while training.
	Dropout float64
}

// DefaultConfig returns the production architecture for a variant: two
// stacked layers of 64 units, with dropout for the multivariate variant.
func DefaultConfig(v Variant) Config {
	cfg := Config{
		Variant:    v,
		InputWidth: v.InputWidth(),
		HiddenSize: 64,
		NumLayers:  2,
	}
	if v == Multivariate {
		cfg.Dropout = 0.2
	}
	return cfg
}

func (c Config) Validate() error {
	var problems []string
	if !c.Variant.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown variant %q", c.Variant))
	}
	if c.InputWidth < 1 {
		problems = append(problems, fmt.Sprintf("input width %d must be positive", c.InputWidth))
	}
	if c.HiddenSize < 2 {
		problems = append(problems, fmt.Sprintf("hidden size %d must be at least 2", c.HiddenSize))
	}
	if c.NumLayers < 1 {
		problems = append(problems, fmt.Sprintf("layer count %d must be positive", c.NumLayers))
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		problems = append(problems, fmt.Sprintf("dropout %v outside [0, 1)", c.Dropout))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid model config: %v", problems)
	}
	return nil
}

// Meta is the architecture description persisted next to the weights.
type Meta struct {
	Variant    Variant `json:"variant"`
	InputWidth int     `json:"input_width"`
	HiddenSize int     `json:"hidden_size"`
	NumLayers  int     `json:"num_layers"`
}

func (c Config) Meta() Meta {
	return Meta{
		Variant:    c.Variant,
		InputWidth: c.InputWidth,
		HiddenSize: c.HiddenSize,
		NumLayers:  c.NumLayers,
	}
}

// Check fails with core.ErrCheckpointIncompatible unless m matches want exactly.
func (m Meta) Check(want Meta) error {
	if m != want {
		return fmt.Errorf("stored %s/%d/%dx%d, requested %s/%d/%dx%d: %w",
			m.Variant, m.InputWidth, m.NumLayers, m.HiddenSize,
			want.Variant, want.InputWidth, want.NumLayers, want.HiddenSize,
			core.ErrCheckpointIncompatible)
	}
	return nil
}

// layout records where every tensor lives inside the flat parameter vector.
type layout struct {
	width, hidden, layers int
	// headHidden is 0 for the single linear head.
	headHidden int
	lstm       []lstmOffsets
	w1, b1     int
	w2, b2     int
	size       int
}

type lstmOffsets struct {
	in             int
	wih, whh, bias int
}

func newLayout(cfg Config) layout {
	l := layout{width: cfg.InputWidth, hidden: cfg.HiddenSize, layers: cfg.NumLayers}
	h := cfg.HiddenSize
	pos := 0
	for i := 0; i < cfg.NumLayers; i++ {
		in := h
		if i == 0 {
			in = cfg.InputWidth
		}
		off := lstmOffsets{in: in, wih: pos}
		pos += 4 * h * in
		off.whh = pos
		pos += 4 * h * h
		off.bias = pos
		pos += 4 * h
		l.lstm = append(l.lstm, off)
	}

	if cfg.Variant == Multivariate {
		l.headHidden = h / 2
		l.w1 = pos
		pos += l.headHidden * h
		l.b1 = pos
		pos += l.headHidden
		l.w2 = pos
		pos += l.headHidden
		l.b2 = pos
		pos++
	} else {
		l.w1 = pos
		pos += h
		l.b1 = pos
		pos++
	}
	l.size = pos
	return l
}
