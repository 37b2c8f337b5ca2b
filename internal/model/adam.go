package model

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// adam implements the Adam optimizer with the epsilon-hat update used by
// Keras.
type adam struct {
	lr, beta1, beta2, eps float64

	t      int
	mW, vW []*mat.Dense
	mB, vB []*mat.VecDense
}

func newAdam(h *Head, lr float64) *adam {
	o := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	for _, l := range h.layers {
		r, c := l.w.Dims()
		o.mW = append(o.mW, mat.NewDense(r, c, nil))
		o.vW = append(o.vW, mat.NewDense(r, c, nil))
		o.mB = append(o.mB, mat.NewVecDense(c, nil))
		o.vB = append(o.vB, mat.NewVecDense(c, nil))
	}
	return o
}

func (o *adam) step(h *Head, g gradients) {
	o.t++
	lrT := o.lr * math.Sqrt(1-math.Pow(o.beta2, float64(o.t))) / (1 - math.Pow(o.beta1, float64(o.t)))

	for i, l := range h.layers {
		update(l.w.RawMatrix().Data, g.w[i].RawMatrix().Data, o.mW[i].RawMatrix().Data, o.vW[i].RawMatrix().Data, o.beta1, o.beta2, lrT, o.eps)
		update(l.b.RawVector().Data, g.b[i].RawVector().Data, o.mB[i].RawVector().Data, o.vB[i].RawVector().Data, o.beta1, o.beta2, lrT, o.eps)
	}
}

func update(param, grad, m, v []float64, beta1, beta2, lrT, eps float64) {
	for j, gj := range grad {
		m[j] = beta1*m[j] + (1-beta1)*gj
		v[j] = beta2*v[j] + (1-beta2)*gj*gj
		param[j] -= lrT * m[j] / (math.Sqrt(v[j]) + eps)
	}
}
