// tensor_shape.go - Form-Operationen
// Enthaelt: Reshape, Slice, Concat

package cpu

import (
	"fmt"
	"slices"

	"github.com/archsearch/nas/ml"
)

// Reshape gibt eine neue Sicht mit gleicher Elementzahl zurueck. Eine
// Dimension darf -1 sein und wird dann abgeleitet.
func (t *Tensor) Reshape(ctx ml.Context, shape ...int) ml.Tensor {
	shape = slices.Clone(shape)
	n := len(t.data)
	if t.dtype == ml.DTypeI32 {
		n = len(t.ints)
	}

	infer := -1
	known := 1
	for i, d := range shape {
		if d == -1 {
			infer = i
			continue
		}
		known *= d
	}
	if infer >= 0 && known > 0 {
		shape[infer] = n / known
	}
	if numel(shape) != n {
		panic(fmt.Errorf("cpu: cannot reshape %v to %v", t.shape, shape))
	}

	if t.dtype == ml.DTypeI32 {
		return &Tensor{shape: shape, dtype: ml.DTypeI32, ints: slices.Clone(t.ints)}
	}

	return newResult("reshape", shape, slices.Clone(t.data), []*Tensor{t}, func(g []float32) {
		t.accumulate(g)
	})
}

// strides zerlegt shape bezueglich dim in (aussen, dim, innen)
func strides(shape []int, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

// Slice schneidet [low, high) entlang dim aus
func (t *Tensor) Slice(ctx ml.Context, dim, low, high int) ml.Tensor {
	if dim < 0 {
		dim += len(t.shape)
	}
	if low < 0 || high > t.shape[dim] || low > high {
		panic(fmt.Errorf("cpu: slice [%d:%d] out of range for dim %d of %v", low, high, dim, t.shape))
	}

	outer, size, inner := strides(t.shape, dim)
	width := high - low
	out := make([]float32, outer*width*inner)
	for o := range outer {
		src := t.data[(o*size+low)*inner : (o*size+high)*inner]
		copy(out[o*width*inner:], src)
	}

	shape := slices.Clone(t.shape)
	shape[dim] = width
	return newResult("slice", shape, out, []*Tensor{t}, func(g []float32) {
		gt := make([]float32, len(t.data))
		for o := range outer {
			copy(gt[(o*size+low)*inner:(o*size+high)*inner], g[o*width*inner:(o+1)*width*inner])
		}
		t.accumulate(gt)
	})
}

// Concat fuegt t2 entlang dim an t an
func (t *Tensor) Concat(ctx ml.Context, t2 ml.Tensor, dim int) ml.Tensor {
	b := cast(t2)
	if dim < 0 {
		dim += len(t.shape)
	}
	if len(t.shape) != len(b.shape) {
		panic(fmt.Errorf("cpu: concat rank mismatch %v vs %v", t.shape, b.shape))
	}
	for i := range t.shape {
		if i != dim && t.shape[i] != b.shape[i] {
			panic(fmt.Errorf("cpu: concat shape mismatch %v vs %v", t.shape, b.shape))
		}
	}

	outer, sa, inner := strides(t.shape, dim)
	sb := b.shape[dim]
	width := sa + sb
	out := make([]float32, outer*width*inner)
	for o := range outer {
		copy(out[o*width*inner:], t.data[o*sa*inner:(o+1)*sa*inner])
		copy(out[(o*width+sa)*inner:], b.data[o*sb*inner:(o+1)*sb*inner])
	}

	shape := slices.Clone(t.shape)
	shape[dim] = width
	return newResult("concat", shape, out, []*Tensor{t, b}, func(g []float32) {
		if t.requiresGrad {
			ga := make([]float32, len(t.data))
			for o := range outer {
				copy(ga[o*sa*inner:(o+1)*sa*inner], g[o*width*inner:(o*width+sa)*inner])
			}
			t.accumulate(ga)
		}
		if b.requiresGrad {
			gb := make([]float32, len(b.data))
			for o := range outer {
				copy(gb[o*sb*inner:(o+1)*sb*inner], g[(o*width+sa)*inner:(o+1)*width*inner])
			}
			b.accumulate(gb)
		}
	})
}
