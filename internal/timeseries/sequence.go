package timeseries

import (
	"fmt"
	"math"
	"slices"
	"time"

	"spendcast/internal/core"
)

// Sample is one model input window and its next-day expense target.
// Anchor is the date of the target.
type Sample struct {
	Anchor time.Time
	Window [][]float64
	Target float64
}

// Dataset is the temporally ordered train/test split of a frame's windows.
type Dataset struct {
	Train      []Sample
	Test       []Sample
	Duplicated bool
}

// Windows slices the frame into every length-row window followed by a target
// row. The target is the expense channel of the row after the window.
func Windows(f FeatureFrame, length int) ([]Sample, error) {
	if length < 1 {
		return nil, fmt.Errorf("sequence length %d must be positive", length)
	}
	target := f.Index(ChannelExpense)
	if target < 0 {
		return nil, fmt.Errorf("frame has no %s channel: %w", ChannelExpense, core.ErrShapeMismatch)
	}
	n := f.Len()
	if n <= length {
		return nil, fmt.Errorf("%d rows for sequence length %d: %w", n, length, core.ErrInsufficientHistory)
	}

	samples := make([]Sample, 0, n-length)
	for i := 0; i < n-length; i++ {
		window := make([][]float64, length)
		for k := range window {
			window[k] = slices.Clone(f.Rows[i+k])
		}
		samples = append(samples, Sample{
			Anchor: f.Dates[i+length],
			Window: window,
			Target: f.Rows[i+length][target],
		})
	}
	return samples, nil
}

// BuildSequences windows the frame and splits it at
// max(1, floor(count*(1-testRatio))). A frame yielding a single window has it
// duplicated so both sides of the split can be populated.
func BuildSequences(f FeatureFrame, length int, testRatio float64) (Dataset, error) {
	if testRatio < 0 || testRatio >= 1 {
		return Dataset{}, fmt.Errorf("test ratio %v outside [0, 1)", testRatio)
	}
	samples, err := Windows(f, length)
	if err != nil {
		return Dataset{}, err
	}

	var ds Dataset
	if len(samples) == 1 {
		samples = append(samples, samples[0].clone())
		ds.Duplicated = true
	}

	split := max(1, int(math.Floor(float64(len(samples))*(1-testRatio))))
	ds.Train = samples[:split]
	ds.Test = samples[split:]
	return ds, nil
}

func (s Sample) clone() Sample {
	window := make([][]float64, len(s.Window))
	for i, row := range s.Window {
		window[i] = slices.Clone(row)
	}
	return Sample{Anchor: s.Anchor, Window: window, Target: s.Target}
}
