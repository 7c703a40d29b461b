package timeseries

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"gonum.org/v1/gonum/floats"

	"spendcast/internal/core"
)

// Range is the fitted [Min, Max] of one channel.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (r Range) forward(x float64) float64 {
	span := r.Max - r.Min
	if span == 0 {
		return x - r.Min
	}
	return (x - r.Min) / span
}

func (r Range) inverse(y float64) float64 {
	span := r.Max - r.Min
	if span == 0 {
		return y + r.Min
	}
	return y*span + r.Min
}

// Scaler maps channel values into [0, 1] using per-channel ranges. It is a
// value: fitting produces a new Scaler and no method mutates one.
type Scaler struct {
	ranges map[string]Range
}

// NewScaler builds a scaler from explicit ranges.
func NewScaler(ranges map[string]Range) Scaler {
	return Scaler{ranges: maps.Clone(ranges)}
}

// FitScaler computes the min and max of every channel of the frame.
func FitScaler(f FeatureFrame) (Scaler, error) {
	if f.Len() == 0 {
		return Scaler{}, fmt.Errorf("fit scaler: %w", core.ErrDataUnavailable)
	}
	ranges := make(map[string]Range, f.Width())
	for _, ch := range f.Channels {
		col, _ := f.Column(ch)
		ranges[ch] = Range{Min: floats.Min(col), Max: floats.Max(col)}
	}
	return Scaler{ranges: ranges}, nil
}

// Channels lists the fitted channels in sorted order.
func (s Scaler) Channels() []string {
	return slices.Sorted(maps.Keys(s.ranges))
}

func (s Scaler) Range(channel string) (Range, bool) {
	r, ok := s.ranges[channel]
	return r, ok
}

// Covers fails with core.ErrScalerMismatch unless every channel was fitted.
func (s Scaler) Covers(channels []string) error {
	for _, ch := range channels {
		if _, ok := s.ranges[ch]; !ok {
			return fmt.Errorf("channel %q not fitted: %w", ch, core.ErrScalerMismatch)
		}
	}
	return nil
}

func (s Scaler) Forward(channel string, x float64) (float64, error) {
	r, ok := s.ranges[channel]
	if !ok {
		return 0, fmt.Errorf("channel %q not fitted: %w", channel, core.ErrScalerMismatch)
	}
	return r.forward(x), nil
}

func (s Scaler) Inverse(channel string, y float64) (float64, error) {
	r, ok := s.ranges[channel]
	if !ok {
		return 0, fmt.Errorf("channel %q not fitted: %w", channel, core.ErrScalerMismatch)
	}
	return r.inverse(y), nil
}

// Normalize returns a copy of the frame with every channel scaled.
func (s Scaler) Normalize(f FeatureFrame) (FeatureFrame, error) {
	if err := s.Covers(f.Channels); err != nil {
		return FeatureFrame{}, err
	}
	out := f.Slice(0, f.Len())
	for _, row := range out.Rows {
		for j, ch := range out.Channels {
			row[j] = s.ranges[ch].forward(row[j])
		}
	}
	return out, nil
}

func (s Scaler) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ranges)
}

func (s *Scaler) UnmarshalJSON(data []byte) error {
	var ranges map[string]Range
	if err := json.Unmarshal(data, &ranges); err != nil {
		return err
	}
	s.ranges = ranges
	return nil
}
