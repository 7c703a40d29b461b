package nn

import (
	"fmt"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/floats"

	"spendcast/internal/core"
)

// Regressor is a stacked LSTM followed by a projection head. All weights
// live in one flat vector so optimisation, gradient reduction and
// persistence treat them uniformly.
type Regressor struct {
	cfg    Config
	shape  layout
	params []float64
}

// New initialises a regressor with weights drawn from a generator seeded
// with seed, so two calls with the same arguments produce identical models.
func New(cfg Config, seed int64) (*Regressor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Regressor{cfg: cfg, shape: newLayout(cfg)}
	r.params = make([]float64, r.shape.size)

	rng := rand.New(rand.NewSource(seed))
	uniform := func(dst []float64, bound float64) {
		for i := range dst {
			dst[i] = (rng.Float64()*2 - 1) * bound
		}
	}

	h := r.shape.hidden
	k := 1 / math.Sqrt(float64(h))
	for _, off := range r.shape.lstm {
		uniform(r.params[off.wih:off.bias+4*h], k)
	}
	if r.shape.headHidden > 0 {
		uniform(r.params[r.shape.w1:r.shape.b1+r.shape.headHidden], k)
		uniform(r.params[r.shape.w2:r.shape.b2+1], 1/math.Sqrt(float64(r.shape.headHidden)))
	} else {
		uniform(r.params[r.shape.w1:r.shape.b1+1], k)
	}
	return r, nil
}

func (r *Regressor) Config() Config  { return r.cfg }
func (r *Regressor) Meta() Meta      { return r.cfg.Meta() }
func (r *Regressor) InputWidth() int { return r.cfg.InputWidth }

// ParamCount is the number of trainable weights.
func (r *Regressor) ParamCount() int { return len(r.params) }

// Predict runs the window through the network in inference mode.
func (r *Regressor) Predict(window [][]float64) (float64, error) {
	if err := r.checkWindow(window); err != nil {
		return 0, err
	}
	tp := newTape(r.shape, len(window))
	y := r.forward(window, nil, tp)
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return 0, fmt.Errorf("prediction is %v: %w", y, core.ErrNumericalFailure)
	}
	return y, nil
}

func (r *Regressor) checkWindow(window [][]float64) error {
	if len(window) == 0 {
		return fmt.Errorf("empty input window: %w", core.ErrShapeMismatch)
	}
	for t, row := range window {
		if len(row) != r.cfg.InputWidth {
			return fmt.Errorf("window row %d has width %d, model expects %d: %w",
				t, len(row), r.cfg.InputWidth, core.ErrShapeMismatch)
		}
	}
	return nil
}

// masks holds the pre-drawn dropout multipliers for one sample. Entries are 0
// for dropped units and 1/(1-p) for kept ones.
type masks struct {
	layers [][][]float64 // [layer][t][hidden], for every layer but the last
	head   []float64
}

func (r *Regressor) drawMasks(rng *rand.Rand, steps int) *masks {
	p := r.cfg.Dropout
	if p == 0 {
		return nil
	}
	keep := 1 / (1 - p)
	draw := func(n int) []float64 {
		m := make([]float64, n)
		for i := range m {
			if rng.Float64() >= p {
				m[i] = keep
			}
		}
		return m
	}
	m := &masks{layers: make([][][]float64, r.shape.layers-1)}
	for l := range m.layers {
		m.layers[l] = make([][]float64, steps)
		for t := range m.layers[l] {
			m.layers[l][t] = draw(r.shape.hidden)
		}
	}
	if r.shape.headHidden > 0 {
		m.head = draw(r.shape.headHidden)
	}
	return m
}

// tape keeps every intermediate value of a forward pass for backpropagation.
type tape struct {
	xs    [][][]float64 // [layer][t] input row
	hs    [][][]float64 // [layer][t+1] hidden state, hs[l][0] is zero
	cs    [][][]float64 // [layer][t+1] cell state
	gates [][][]float64 // [layer][t] activated i, f, g, o
	tanhC [][][]float64 // [layer][t]
	a1    []float64     // head pre-activation
	d1    []float64     // head activation after relu and dropout

	// backward scratch
	dHout  [][][]float64
	dz     []float64
	dh     []float64
	dhNext []float64
	dcNext []float64
	dTop   []float64
}

func newTape(s layout, steps int) *tape {
	h := s.hidden
	grid := func(rows, cols int) [][]float64 {
		out := make([][]float64, rows)
		for i := range out {
			out[i] = make([]float64, cols)
		}
		return out
	}
	tp := &tape{
		dz:     make([]float64, 4*h),
		dh:     make([]float64, h),
		dhNext: make([]float64, h),
		dcNext: make([]float64, h),
		dTop:   make([]float64, h),
	}
	for l := 0; l < s.layers; l++ {
		tp.xs = append(tp.xs, make([][]float64, steps))
		if l > 0 {
			tp.xs[l] = grid(steps, h)
		}
		tp.hs = append(tp.hs, grid(steps+1, h))
		tp.cs = append(tp.cs, grid(steps+1, h))
		tp.gates = append(tp.gates, grid(steps, 4*h))
		tp.tanhC = append(tp.tanhC, grid(steps, h))
		tp.dHout = append(tp.dHout, grid(steps, h))
	}
	if s.headHidden > 0 {
		tp.a1 = make([]float64, s.headHidden)
		tp.d1 = make([]float64, s.headHidden)
	}
	return tp
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// forward evaluates the network. Gate order follows the common i, f, g, o
// layout. With m == nil no dropout is applied.
func (r *Regressor) forward(window [][]float64, m *masks, tp *tape) float64 {
	s := r.shape
	h := s.hidden
	p := r.params
	steps := len(window)

	for l, off := range s.lstm {
		for t := 0; t < steps; t++ {
			var x []float64
			if l == 0 {
				x = window[t]
				tp.xs[0][t] = x
			} else {
				x = tp.xs[l][t]
			}
			hPrev, cPrev := tp.hs[l][t], tp.cs[l][t]
			z := tp.gates[l][t]
			for j := 0; j < 4*h; j++ {
				z[j] = p[off.bias+j] +
					floats.Dot(p[off.wih+j*off.in:off.wih+(j+1)*off.in], x) +
					floats.Dot(p[off.whh+j*h:off.whh+(j+1)*h], hPrev)
			}
			hOut, cOut, tc := tp.hs[l][t+1], tp.cs[l][t+1], tp.tanhC[l][t]
			for k := 0; k < h; k++ {
				i := sigmoid(z[k])
				f := sigmoid(z[h+k])
				g := math.Tanh(z[2*h+k])
				o := sigmoid(z[3*h+k])
				z[k], z[h+k], z[2*h+k], z[3*h+k] = i, f, g, o
				cOut[k] = f*cPrev[k] + i*g
				tc[k] = math.Tanh(cOut[k])
				hOut[k] = o * tc[k]
			}
			if l+1 < s.layers {
				next := tp.xs[l+1][t]
				copy(next, hOut)
				if m != nil {
					floats.Mul(next, m.layers[l][t])
				}
			}
		}
	}

	top := tp.hs[s.layers-1][steps]
	if s.headHidden == 0 {
		return p[s.b1] + floats.Dot(p[s.w1:s.w1+h], top)
	}
	for j := 0; j < s.headHidden; j++ {
		a := p[s.b1+j] + floats.Dot(p[s.w1+j*h:s.w1+(j+1)*h], top)
		tp.a1[j] = a
		tp.d1[j] = math.Max(a, 0)
	}
	if m != nil {
		floats.Mul(tp.d1, m.head)
	}
	return p[s.b2] + floats.Dot(p[s.w2:s.w2+s.headHidden], tp.d1)
}

// backward accumulates into grad the gradient of the loss given dOut, the
// derivative of the loss with respect to the network output.
func (r *Regressor) backward(dOut float64, m *masks, tp *tape, grad []float64) {
	s := r.shape
	h := s.hidden
	p := r.params
	steps := len(tp.gates[0])
	top := tp.hs[s.layers-1][steps]

	for l := range tp.dHout {
		for t := range tp.dHout[l] {
			clear(tp.dHout[l][t])
		}
	}

	dTop := tp.dTop
	if s.headHidden == 0 {
		grad[s.b1] += dOut
		floats.AddScaled(grad[s.w1:s.w1+h], dOut, top)
		copy(dTop, p[s.w1:s.w1+h])
		floats.Scale(dOut, dTop)
	} else {
		clear(dTop)
		grad[s.b2] += dOut
		floats.AddScaled(grad[s.w2:s.w2+s.headHidden], dOut, tp.d1)
		for j := 0; j < s.headHidden; j++ {
			if tp.a1[j] <= 0 {
				continue
			}
			da := dOut * p[s.w2+j]
			if m != nil {
				da *= m.head[j]
			}
			grad[s.b1+j] += da
			floats.AddScaled(grad[s.w1+j*h:s.w1+(j+1)*h], da, top)
			floats.AddScaled(dTop, da, p[s.w1+j*h:s.w1+(j+1)*h])
		}
	}
	copy(tp.dHout[s.layers-1][steps-1], dTop)

	for l := s.layers - 1; l >= 0; l-- {
		off := s.lstm[l]
		clear(tp.dhNext)
		clear(tp.dcNext)
		for t := steps - 1; t >= 0; t-- {
			dh := tp.dh
			copy(dh, tp.dHout[l][t])
			floats.Add(dh, tp.dhNext)

			gates, tc := tp.gates[l][t], tp.tanhC[l][t]
			cPrev := tp.cs[l][t]
			dz := tp.dz
			for k := 0; k < h; k++ {
				i, f, g, o := gates[k], gates[h+k], gates[2*h+k], gates[3*h+k]
				dc := dh[k]*o*(1-tc[k]*tc[k]) + tp.dcNext[k]
				dz[k] = dc * g * i * (1 - i)
				dz[h+k] = dc * cPrev[k] * f * (1 - f)
				dz[2*h+k] = dc * i * (1 - g*g)
				dz[3*h+k] = dh[k] * tc[k] * o * (1 - o)
				tp.dcNext[k] = dc * f
			}

			x, hPrev := tp.xs[l][t], tp.hs[l][t]
			floats.Add(grad[off.bias:off.bias+4*h], dz)
			clear(tp.dhNext)
			var dx []float64
			if l > 0 {
				dx = tp.dHout[l-1][t]
			}
			for j := 0; j < 4*h; j++ {
				if dz[j] == 0 {
					continue
				}
				wih := p[off.wih+j*off.in : off.wih+(j+1)*off.in]
				whh := p[off.whh+j*h : off.whh+(j+1)*h]
				floats.AddScaled(grad[off.wih+j*off.in:off.wih+(j+1)*off.in], dz[j], x)
				floats.AddScaled(grad[off.whh+j*h:off.whh+(j+1)*h], dz[j], hPrev)
				floats.AddScaled(tp.dhNext, dz[j], whh)
				if dx != nil {
					floats.AddScaled(dx, dz[j], wih)
				}
			}
			if dx != nil && m != nil {
				floats.Mul(dx, m.layers[l-1][t])
			}
		}
	}
}

// Weights returns a copy of the flat parameter vector.
func (r *Regressor) Weights() []float64 {
	return slices.Clone(r.params)
}
