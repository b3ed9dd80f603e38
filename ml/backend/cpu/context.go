// context.go - Context-Struktur und Tensor-Fabriken
// Enthaelt: Context struct, Zeros(), FromFloats(), FromInts(), Compute(), Close()

package cpu

import (
	"fmt"
	"slices"

	"github.com/archsearch/nas/ml"
)

// Context ist ein eager Rechenkontext. Tensoren werden sofort berechnet.
type Context struct {
	b *Backend
}

// Zeros erstellt einen mit Nullen gefuellten Tensor
func (c *Context) Zeros(dtype ml.DType, shape ...int) ml.Tensor {
	n := numel(shape)
	t := &Tensor{shape: slices.Clone(shape), dtype: dtype}
	if dtype == ml.DTypeI32 {
		t.ints = make([]int32, n)
	} else {
		t.dtype = ml.DTypeF32
		t.data = make([]float32, n)
	}
	return t
}

// FromFloats erstellt einen Tensor aus einer Kopie von s
func (c *Context) FromFloats(s []float32, shape ...int) ml.Tensor {
	if len(s) != numel(shape) {
		panic(fmt.Errorf("cpu: %d values do not fit shape %v", len(s), shape))
	}
	return &Tensor{shape: slices.Clone(shape), dtype: ml.DTypeF32, data: slices.Clone(s)}
}

// FromInts erstellt einen Integer-Tensor aus einer Kopie von s
func (c *Context) FromInts(s []int32, shape ...int) ml.Tensor {
	if len(s) != numel(shape) {
		panic(fmt.Errorf("cpu: %d values do not fit shape %v", len(s), shape))
	}
	return &Tensor{shape: slices.Clone(shape), dtype: ml.DTypeI32, ints: slices.Clone(s)}
}

// Device gibt das Geraet des Kontexts zurueck
func (c *Context) Device() ml.Device {
	return c.b.device
}

// Compute ist fuer das eager Backend ein No-op
func (c *Context) Compute(...ml.Tensor) {}

// Close gibt den Kontext frei
func (c *Context) Close() {}
