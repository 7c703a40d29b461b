package nn

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"slices"

	"spendcast/internal/core"
)

// Checkpoint is a regressor's weights together with the architecture they
// belong to.
type Checkpoint struct {
	Meta    Meta
	Weights []float64
}

// Snapshot copies the current weights out of the regressor.
func (r *Regressor) Snapshot() Checkpoint {
	return Checkpoint{Meta: r.Meta(), Weights: slices.Clone(r.params)}
}

// Restore rebuilds a regressor for cfg from a checkpoint. Metadata is
// compared before any weight is touched; a checkpoint for a different
// architecture fails with core.ErrCheckpointIncompatible.
func Restore(cp Checkpoint, cfg Config) (*Regressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cp.Meta.Check(cfg.Meta()); err != nil {
		return nil, err
	}
	shape := newLayout(cfg)
	if len(cp.Weights) != shape.size {
		return nil, fmt.Errorf("checkpoint holds %d weights, architecture needs %d: %w",
			len(cp.Weights), shape.size, core.ErrCheckpointIncompatible)
	}
	return &Regressor{cfg: cfg, shape: shape, params: slices.Clone(cp.Weights)}, nil
}

// EncodeWeights serialises a weight vector for storage.
func EncodeWeights(w []float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, fmt.Errorf("encode weights: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeWeights is the inverse of EncodeWeights.
func DecodeWeights(data []byte) ([]float64, error) {
	var w []float64
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, fmt.Errorf("decode weights: %w: %w", err, core.ErrCheckpointIncompatible)
	}
	return w, nil
}
