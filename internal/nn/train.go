package nn

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"spendcast/internal/core"
	"spendcast/internal/timeseries"
)

// TrainOptions controls one call to Train.
type TrainOptions struct {
	Epochs       int
	BatchSize    int
	LearningRate float64
	// Seed drives batch shuffling and dropout.
	Seed int64
	// Lanes is the number of goroutines computing gradients for a batch.
	// Zero uses GOMAXPROCS, capped at 8. Runs with the same seed and lane
	// count are bit-for-bit reproducible.
	Lanes int
	// Progress, when set, is called after every epoch.
	Progress func(epoch int, loss float64)
}

// DefaultTrainOptions mirrors the production schedule.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Epochs:       100,
		BatchSize:    16,
		LearningRate: 0.001,
		Seed:         42,
	}
}

// TrainReport summarises a completed training call.
type TrainReport struct {
	Epochs    int
	BatchSize int
	Losses    []float64
}

// FinalLoss is the mean training loss of the last epoch.
func (r TrainReport) FinalLoss() float64 {
	if len(r.Losses) == 0 {
		return math.NaN()
	}
	return r.Losses[len(r.Losses)-1]
}

// Train minimises mean squared error over samples with Adam. Batches are
// reshuffled every epoch and the batch size is clamped to the sample count.
// A non-finite loss aborts with core.ErrNumericalFailure; the weights are then
// left in an unspecified state and the regressor must be discarded.
func (r *Regressor) Train(ctx context.Context, samples []timeseries.Sample, opts TrainOptions) (TrainReport, error) {
	if len(samples) == 0 {
		return TrainReport{}, fmt.Errorf("train: no samples: %w", core.ErrInsufficientHistory)
	}
	if opts.Epochs < 1 || opts.BatchSize < 1 || opts.LearningRate <= 0 {
		return TrainReport{}, fmt.Errorf("train: invalid options epochs=%d batch=%d lr=%v",
			opts.Epochs, opts.BatchSize, opts.LearningRate)
	}
	steps := len(samples[0].Window)
	for i, s := range samples {
		if len(s.Window) != steps {
			return TrainReport{}, fmt.Errorf("sample %d has %d steps, want %d: %w", i, len(s.Window), steps, core.ErrShapeMismatch)
		}
		if err := r.checkWindow(s.Window); err != nil {
			return TrainReport{}, fmt.Errorf("sample %d: %w", i, err)
		}
	}

	batch := min(opts.BatchSize, len(samples))
	lanes := opts.Lanes
	if lanes <= 0 {
		lanes = min(runtime.GOMAXPROCS(0), 8)
	}
	lanes = min(lanes, batch)

	w := &workers{
		grads: make([][]float64, lanes),
		tapes: make([]*tape, lanes),
		loss:  make([]float64, lanes),
	}
	for i := range w.grads {
		w.grads[i] = make([]float64, len(r.params))
		w.tapes[i] = newTape(r.shape, steps)
	}
	grad := make([]float64, len(r.params))
	opt := newAdam(len(r.params), opts.LearningRate)
	rng := rand.New(rand.NewSource(opts.Seed))

	report := TrainReport{Epochs: opts.Epochs, BatchSize: batch}
	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		order := rng.Perm(len(samples))
		var epochLoss float64
		for start := 0; start < len(order); start += batch {
			idx := order[start:min(start+batch, len(order))]
			drawn := make([]*masks, len(idx))
			for k := range drawn {
				drawn[k] = r.drawMasks(rng, steps)
			}

			loss, err := r.batchGradient(ctx, samples, idx, drawn, w, grad)
			if err != nil {
				return report, err
			}
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return report, fmt.Errorf("epoch %d loss is %v: %w", epoch, loss, core.ErrNumericalFailure)
			}
			opt.step(r.params, grad)
			epochLoss += loss * float64(len(idx))
		}
		epochLoss /= float64(len(samples))
		report.Losses = append(report.Losses, epochLoss)
		if opts.Progress != nil {
			opts.Progress(epoch, epochLoss)
		}
	}
	return report, nil
}

type workers struct {
	grads [][]float64
	tapes []*tape
	loss  []float64
}

// batchGradient splits the batch into contiguous chunks, one per lane, and
// sums the lane gradients in lane order so the result is independent of
// scheduling.
func (r *Regressor) batchGradient(ctx context.Context, samples []timeseries.Sample, idx []int, drawn []*masks, w *workers, grad []float64) (float64, error) {
	n := len(idx)
	lanes := min(len(w.grads), n)
	chunk := (n + lanes - 1) / lanes
	scale := 2 / float64(n)

	g, _ := errgroup.WithContext(ctx)
	for lane := 0; lane < lanes; lane++ {
		from, to := lane*chunk, min((lane+1)*chunk, n)
		g.Go(func() error {
			lg, tp := w.grads[lane], w.tapes[lane]
			clear(lg)
			w.loss[lane] = 0
			for k := from; k < to; k++ {
				s := samples[idx[k]]
				y := r.forward(s.Window, drawn[k], tp)
				diff := y - s.Target
				w.loss[lane] += diff * diff
				r.backward(scale*diff, drawn[k], tp, lg)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	clear(grad)
	var loss float64
	for lane := 0; lane < lanes; lane++ {
		for i, v := range w.grads[lane] {
			grad[i] += v
		}
		loss += w.loss[lane]
	}
	return loss / float64(n), nil
}

type adam struct {
	lr, beta1, beta2, eps float64
	m, v                  []float64
	t                     int
}

func newAdam(size int, lr float64) *adam {
	return &adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     make([]float64, size),
		v:     make([]float64, size),
	}
}

func (a *adam) step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.beta1*a.m[i] + (1-a.beta1)*g
		a.v[i] = a.beta2*a.v[i] + (1-a.beta2)*g*g
		params[i] -= a.lr * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.eps)
	}
}
