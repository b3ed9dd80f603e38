// tensor_arithmetic.go - Elementweise Operationen und Reduktionen
// Enthaelt: Add, Sub, Mul, Scale, Mean, Detach

package cpu

import (
	"fmt"
	"slices"

	"github.com/archsearch/nas/ml"
)

// binary wendet f elementweise an. b darf ein einzelnes Element sein und
// wird dann ueber a verteilt.
func binary(name string, a, b *Tensor, f func(x, y float32) float32, dfa, dfb func(x, y, g float32) float32) *Tensor {
	scalar := len(b.data) == 1 && len(a.data) != 1
	if !scalar && !slices.Equal(a.shape, b.shape) {
		panic(fmt.Errorf("cpu: %s shape mismatch %v vs %v", name, a.shape, b.shape))
	}

	at := func(i int) float32 {
		if scalar {
			return b.data[0]
		}
		return b.data[i]
	}

	out := make([]float32, len(a.data))
	for i, x := range a.data {
		out[i] = f(x, at(i))
	}

	return newResult(name, slices.Clone(a.shape), out, []*Tensor{a, b}, func(g []float32) {
		if a.requiresGrad {
			ga := make([]float32, len(g))
			for i, gi := range g {
				ga[i] = dfa(a.data[i], at(i), gi)
			}
			a.accumulate(ga)
		}
		if b.requiresGrad {
			gb := make([]float32, len(b.data))
			for i, gi := range g {
				v := dfb(a.data[i], at(i), gi)
				if scalar {
					gb[0] += v
				} else {
					gb[i] = v
				}
			}
			b.accumulate(gb)
		}
	})
}

func (t *Tensor) Add(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return binary("add", t, cast(t2),
		func(x, y float32) float32 { return x + y },
		func(_, _, g float32) float32 { return g },
		func(_, _, g float32) float32 { return g },
	)
}

func (t *Tensor) Sub(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return binary("sub", t, cast(t2),
		func(x, y float32) float32 { return x - y },
		func(_, _, g float32) float32 { return g },
		func(_, _, g float32) float32 { return -g },
	)
}

func (t *Tensor) Mul(ctx ml.Context, t2 ml.Tensor) ml.Tensor {
	return binary("mul", t, cast(t2),
		func(x, y float32) float32 { return x * y },
		func(_, y, g float32) float32 { return g * y },
		func(x, _, g float32) float32 { return g * x },
	)
}

// Scale multipliziert mit einer Konstanten
func (t *Tensor) Scale(ctx ml.Context, s float64) ml.Tensor {
	f := float32(s)
	out := make([]float32, len(t.data))
	for i, x := range t.data {
		out[i] = x * f
	}

	return newResult("scale", slices.Clone(t.shape), out, []*Tensor{t}, func(g []float32) {
		gt := make([]float32, len(g))
		for i, gi := range g {
			gt[i] = gi * f
		}
		t.accumulate(gt)
	})
}

// Mean reduziert alle Elemente auf ihren Mittelwert
func (t *Tensor) Mean(ctx ml.Context) ml.Tensor {
	var sum float64
	for _, x := range t.data {
		sum += float64(x)
	}
	n := float32(len(t.data))

	return newResult("mean", []int{1}, []float32{float32(sum) / n}, []*Tensor{t}, func(g []float32) {
		gt := make([]float32, len(t.data))
		for i := range gt {
			gt[i] = g[0] / n
		}
		t.accumulate(gt)
	})
}

// Detach teilt die Werte, haengt den Tensor aber vom Autograd-Graphen ab
func (t *Tensor) Detach(ctx ml.Context) ml.Tensor {
	return &Tensor{shape: slices.Clone(t.shape), dtype: t.dtype, data: t.data, ints: t.ints}
}
