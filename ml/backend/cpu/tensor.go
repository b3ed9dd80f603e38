// tensor.go - Tensor-Struktur, Basis-Methoden und Backward-Pass
// Enthaelt: Tensor struct, Shape, Floats, Grad, Backward

package cpu

import (
	"log/slog"
	"slices"

	"github.com/emirpasic/gods/v2/stacks/arraystack"

	"github.com/archsearch/nas/ml"
)

// Tensor repraesentiert einen CPU-Tensor im Row-Major-Layout
type Tensor struct {
	shape []int
	dtype ml.DType
	data  []float32
	ints  []int32

	grad         []float32
	requiresGrad bool

	// op ist die Operation, die diesen Tensor erzeugt hat (nil fuer Blaetter)
	op *node
}

// node verbindet einen Tensor mit seinen Eingaben
type node struct {
	name   string
	inputs []*Tensor

	// backward verteilt den Gradienten g des Ausgangs auf die Eingaben
	backward func(g []float32)
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func cast(t ml.Tensor) *Tensor {
	if t == nil {
		return nil
	}
	return t.(*Tensor)
}

// newResult erzeugt einen Ergebnistensor. Gradienten werden nur aufgezeichnet,
// wenn mindestens eine Eingabe sie benoetigt.
func newResult(name string, shape []int, data []float32, inputs []*Tensor, backward func(g []float32)) *Tensor {
	t := &Tensor{shape: shape, dtype: ml.DTypeF32, data: data}
	for _, in := range inputs {
		if in != nil && in.requiresGrad {
			t.requiresGrad = true
			break
		}
	}

	if t.requiresGrad && backward != nil {
		t.op = &node{name: name, inputs: inputs, backward: backward}
	}
	return t
}

// LogValue gibt den Tensor als slog-Wert zurueck
func (t *Tensor) LogValue() slog.Value {
	name := "leaf"
	if t.op != nil {
		name = t.op.name
	}
	return slog.GroupValue(
		slog.String("op", name),
		slog.String("type", t.dtype.String()),
		slog.Any("shape", t.shape),
	)
}

// Dim gibt die Groesse einer Dimension zurueck
func (t *Tensor) Dim(n int) int {
	return t.shape[n]
}

// Shape gibt die Form des Tensors zurueck
func (t *Tensor) Shape() []int {
	return slices.Clone(t.shape)
}

// DType gibt den Datentyp zurueck
func (t *Tensor) DType() ml.DType {
	return t.dtype
}

// Floats gibt eine Kopie der Daten zurueck
func (t *Tensor) Floats() []float32 {
	if t.dtype == ml.DTypeI32 {
		f := make([]float32, len(t.ints))
		for i, v := range t.ints {
			f[i] = float32(v)
		}
		return f
	}
	return slices.Clone(t.data)
}

// Ints gibt eine Kopie der Integer-Daten zurueck
func (t *Tensor) Ints() []int32 {
	if t.dtype != ml.DTypeI32 {
		s := make([]int32, len(t.data))
		for i, v := range t.data {
			s[i] = int32(v)
		}
		return s
	}
	return slices.Clone(t.ints)
}

// FromFloats ueberschreibt die Daten in place
func (t *Tensor) FromFloats(s []float32) {
	if len(s) != len(t.data) {
		panic("cpu: FromFloats size mismatch")
	}
	copy(t.data, s)
}

// Grad gibt eine Kopie des akkumulierten Gradienten zurueck
func (t *Tensor) Grad() []float32 {
	if t.grad == nil {
		return nil
	}
	return slices.Clone(t.grad)
}

// SetGrad ueberschreibt den Gradienten
func (t *Tensor) SetGrad(g []float32) {
	if g == nil {
		t.grad = nil
		return
	}
	if len(g) != len(t.data) {
		panic("cpu: SetGrad size mismatch")
	}
	t.grad = slices.Clone(g)
}

// ZeroGrad setzt den Gradienten zurueck
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(b bool) {
	t.requiresGrad = b
}

// accumulate addiert g auf den Gradienten des Tensors
func (t *Tensor) accumulate(g []float32) {
	if t == nil || !t.requiresGrad {
		return
	}
	if t.grad == nil {
		t.grad = make([]float32, len(t.data))
	}
	for i, v := range g {
		t.grad[i] += v
	}
}

// Backward berechnet die Gradienten aller Blaetter, die zu t beitragen.
// Gradienten von Zwischenergebnissen werden danach verworfen, die der
// Blaetter akkumulieren bis ZeroGrad.
func (t *Tensor) Backward() {
	if len(t.data) != 1 {
		panic("cpu: backward requires a single-element tensor")
	}
	if !t.requiresGrad {
		return
	}

	order := t.topo()
	t.accumulate([]float32{1})
	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.op == nil || n.grad == nil {
			continue
		}
		n.op.backward(n.grad)
		n.grad = nil
	}
}

// topo liefert alle Tensoren des Graphen unter t in Post-Order
func (t *Tensor) topo() []*Tensor {
	type frame struct {
		t    *Tensor
		next int
	}

	visited := map[*Tensor]bool{t: true}
	stack := arraystack.New[*frame]()
	stack.Push(&frame{t: t})

	var order []*Tensor
	for !stack.Empty() {
		f, _ := stack.Peek()
		if f.t.op != nil && f.next < len(f.t.op.inputs) {
			in := f.t.op.inputs[f.next]
			f.next++
			if in != nil && in.requiresGrad && !visited[in] {
				visited[in] = true
				stack.Push(&frame{t: in})
			}
			continue
		}

		stack.Pop()
		order = append(order, f.t)
	}

	return order
}
