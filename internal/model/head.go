package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	activationReLU    = "relu"
	activationSoftmax = "softmax"
)

type dense struct {
	w          *mat.Dense // inputs x outputs
	b          *mat.VecDense
	activation string
}

// Head is the trainable classification head: zero or more ReLU dense layers
// followed by a softmax dense layer.
type Head struct {
	layers []*dense
}

// newHead initializes weights with Glorot-uniform values and zero biases.
func newHead(inputs, hidden, classes int, rng *rand.Rand) *Head {
	var layers []*dense
	in := inputs
	if hidden > 0 {
		layers = append(layers, newDense(in, hidden, activationReLU, rng))
		in = hidden
	}
	layers = append(layers, newDense(in, classes, activationSoftmax, rng))
	return &Head{layers: layers}
}

func newDense(in, out int, activation string, rng *rand.Rand) *dense {
	limit := math.Sqrt(6 / float64(in+out))
	w := make([]float64, in*out)
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
	return &dense{
		w:          mat.NewDense(in, out, w),
		b:          mat.NewVecDense(out, nil),
		activation: activation,
	}
}

func headFromLayers(layers []DenseLayer) (*Head, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("head has no layers")
	}
	h := &Head{}
	for i, l := range layers {
		if l.Inputs <= 0 || l.Outputs <= 0 {
			return nil, fmt.Errorf("head layer %d has invalid size %dx%d", i, l.Inputs, l.Outputs)
		}
		if len(l.Weights) != l.Inputs*l.Outputs || len(l.Bias) != l.Outputs {
			return nil, fmt.Errorf("head layer %d: weights/bias do not match %dx%d", i, l.Inputs, l.Outputs)
		}
		if i > 0 && layers[i-1].Outputs != l.Inputs {
			return nil, fmt.Errorf("head layer %d expects %d inputs, previous layer has %d outputs", i, l.Inputs, layers[i-1].Outputs)
		}
		switch l.Activation {
		case activationReLU, activationSoftmax:
		default:
			return nil, fmt.Errorf("head layer %d: unsupported activation %q", i, l.Activation)
		}
		h.layers = append(h.layers, &dense{
			w:          mat.NewDense(l.Inputs, l.Outputs, append([]float64(nil), l.Weights...)),
			b:          mat.NewVecDense(l.Outputs, append([]float64(nil), l.Bias...)),
			activation: l.Activation,
		})
	}
	if h.layers[len(h.layers)-1].activation != activationSoftmax {
		return nil, fmt.Errorf("last head layer must be softmax")
	}
	return h, nil
}

func (h *Head) Inputs() int {
	r, _ := h.layers[0].w.Dims()
	return r
}

func (h *Head) Classes() int {
	_, c := h.layers[len(h.layers)-1].w.Dims()
	return c
}

func (h *Head) export() []DenseLayer {
	out := make([]DenseLayer, len(h.layers))
	for i, l := range h.layers {
		r, c := l.w.Dims()
		out[i] = DenseLayer{
			Inputs:     r,
			Outputs:    c,
			Activation: l.activation,
			Weights:    mat.DenseCopyOf(l.w).RawMatrix().Data,
			Bias:       append([]float64(nil), l.b.RawVector().Data...),
		}
	}
	return out
}

// forward runs a batch through the head and returns every layer's
// pre-activation and activation. activations[0] is x.
func (h *Head) forward(x *mat.Dense) (pre, activations []*mat.Dense) {
	activations = append(activations, x)
	a := x
	for _, l := range h.layers {
		rows, _ := a.Dims()
		_, cols := l.w.Dims()
		z := mat.NewDense(rows, cols, nil)
		z.Mul(a, l.w)
		bias := l.b.RawVector().Data
		z.Apply(func(_, j int, v float64) float64 { return v + bias[j] }, z)
		pre = append(pre, z)

		next := mat.NewDense(rows, cols, nil)
		switch l.activation {
		case activationReLU:
			next.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, z)
		case activationSoftmax:
			next.Copy(z)
			for i := 0; i < rows; i++ {
				softmax(next.RawRowView(i))
			}
		}
		activations = append(activations, next)
		a = next
	}
	return pre, activations
}

// Predict returns the class probabilities for a single feature vector.
func (h *Head) Predict(features []float64) []float64 {
	x := mat.NewDense(1, len(features), append([]float64(nil), features...))
	_, acts := h.forward(x)
	return append([]float64(nil), acts[len(acts)-1].RawRowView(0)...)
}

type gradients struct {
	w []*mat.Dense
	b []*mat.VecDense
}

// backward computes the gradients of the mean categorical cross-entropy for
// a batch with one-hot targets y.
func (h *Head) backward(pre, activations []*mat.Dense, y *mat.Dense) gradients {
	rows, _ := y.Dims()
	n := len(h.layers)
	g := gradients{w: make([]*mat.Dense, n), b: make([]*mat.VecDense, n)}

	// softmax + cross-entropy: dL/dz = (p - y) / batch
	delta := mat.NewDense(rows, h.Classes(), nil)
	delta.Sub(activations[n], y)
	delta.Scale(1/float64(rows), delta)

	for i := n - 1; i >= 0; i-- {
		l := h.layers[i]
		in, out := l.w.Dims()

		gw := mat.NewDense(in, out, nil)
		gw.Mul(activations[i].T(), delta)
		g.w[i] = gw

		gb := mat.NewVecDense(out, nil)
		for j := 0; j < out; j++ {
			gb.SetVec(j, floats.Sum(mat.Col(nil, j, delta)))
		}
		g.b[i] = gb

		if i == 0 {
			break
		}
		prev := mat.NewDense(rows, in, nil)
		prev.Mul(delta, l.w.T())
		if h.layers[i-1].activation == activationReLU {
			z := pre[i-1]
			prev.Apply(func(r, c int, v float64) float64 {
				if z.At(r, c) <= 0 {
					return 0
				}
				return v
			}, prev)
		}
		delta = prev
	}
	return g
}

func softmax(row []float64) {
	maxVal := floats.Max(row)
	var sum float64
	for i, v := range row {
		row[i] = math.Exp(v - maxVal)
		sum += row[i]
	}
	floats.Scale(1/sum, row)
}

// crossEntropy returns the mean loss and the accuracy of probabilities p
// against one-hot targets y.
func crossEntropy(p, y *mat.Dense) (loss, accuracy float64) {
	rows, _ := p.Dims()
	if rows == 0 {
		return 0, 0
	}
	var correct int
	for i := 0; i < rows; i++ {
		pr := p.RawRowView(i)
		yr := y.RawRowView(i)
		target := floats.MaxIdx(yr)
		loss -= math.Log(math.Max(pr[target], 1e-7))
		if floats.MaxIdx(pr) == target {
			correct++
		}
	}
	return loss / float64(rows), float64(correct) / float64(rows)
}
