// op_basic.go - Einfache Operatoren ohne raeumliche Fenster
//
// Dieses Modul enthaelt:
// - Input: Eingabeterminal mit deklarierter Form
// - ReLU, Identity, Zero: formerhaltende Ops
// - Collapse: (N, C, 1, 1) -> (N, C)
// - Linear: vollverbundene Schicht
// - Merge: Addition oder Konkatenation mehrerer Eltern
package graph

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/archsearch/nas/ml"
)

// =============================================================================
// Input
// =============================================================================

// Input ist ein Eingabeterminal. Der Wert wird mit Module.SetValue gesetzt.
type Input struct {
	shape []int
}

func NewInput(shape ...int) *Input {
	return &Input{shape: slices.Clone(shape)}
}

func (o *Input) Kind() string { return "input" }

func (o *Input) Shape(in [][]int) ([]int, error) {
	if len(in) != 0 {
		return nil, shapeErrorf(in, "input takes no parents")
	}
	return slices.Clone(o.shape), nil
}

func (o *Input) Forward(ml.Context, []ml.Tensor, bool) (ml.Tensor, error) {
	return nil, &StructureError{Err: ErrMissingInput}
}

func (o *Input) Params() []*Parameter { return nil }

func (o *Input) Signature() string { return fmt.Sprintf("shape=%v", o.shape) }

// =============================================================================
// Formerhaltende Ops
// =============================================================================

func sameShape(in [][]int) ([]int, error) {
	if err := requireParents(in, 1); err != nil {
		return nil, err
	}
	return slices.Clone(in[0]), nil
}

// ReLU ist max(x, 0)
type ReLU struct{}

func (ReLU) Kind() string                    { return "relu" }
func (ReLU) Shape(in [][]int) ([]int, error) { return sameShape(in) }
func (ReLU) Params() []*Parameter            { return nil }
func (ReLU) Signature() string               { return "" }
func (ReLU) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	return in[0].RELU(ctx), nil
}

// Identity reicht die Eingabe durch
type Identity struct{}

func (Identity) Kind() string                    { return "identity" }
func (Identity) Shape(in [][]int) ([]int, error) { return sameShape(in) }
func (Identity) Params() []*Parameter            { return nil }
func (Identity) Signature() string               { return "" }
func (Identity) Forward(_ ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	return in[0], nil
}

// Zero gibt Nullen der Eingabeform aus ("none"-Kandidat einer Zelle)
type Zero struct{}

func (Zero) Kind() string                    { return "zero" }
func (Zero) Shape(in [][]int) ([]int, error) { return sameShape(in) }
func (Zero) Params() []*Parameter            { return nil }
func (Zero) Signature() string               { return "" }
func (Zero) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	return in[0].Scale(ctx, 0), nil
}

// =============================================================================
// Collapse und Linear
// =============================================================================

// Collapse entfernt die raeumlichen Einheitsdimensionen
type Collapse struct{}

func (Collapse) Kind() string         { return "collapse" }
func (Collapse) Params() []*Parameter { return nil }
func (Collapse) Signature() string    { return "" }

func (Collapse) Shape(in [][]int) ([]int, error) {
	if err := requireParents(in, 1); err != nil {
		return nil, err
	}
	s := in[0]
	if len(s) != 4 || s[2] != 1 || s[3] != 1 {
		return nil, shapeErrorf(in, "collapse expects (N, C, 1, 1)")
	}
	return []int{s[0], s[1]}, nil
}

func (Collapse) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	return in[0].Reshape(ctx, in[0].Dim(0), in[0].Dim(1)), nil
}

// Linear berechnet x W^T + b fuer x (N, In)
type Linear struct {
	In, Out int
	W, B    *Parameter
}

func NewLinear(in, out int, r *rand.Rand) *Linear {
	limit := 1 / math.Sqrt(float64(max(in, 1)))
	return &Linear{
		In:  in,
		Out: out,
		W:   NewParameter("W", []int{out, in}, true, Uniform(limit), r),
		B:   NewParameter("b", []int{out}, true, Constant(0), r),
	}
}

func (o *Linear) Kind() string         { return "linear" }
func (o *Linear) Params() []*Parameter { return []*Parameter{o.W, o.B} }
func (o *Linear) Signature() string    { return fmt.Sprintf("in=%d out=%d", o.In, o.Out) }

func (o *Linear) Shape(in [][]int) ([]int, error) {
	if err := requireParents(in, 1); err != nil {
		return nil, err
	}
	if err := requireRank(in[0], 2); err != nil {
		return nil, err
	}
	if in[0][1] != o.In {
		return nil, shapeErrorf(in, "linear expects %d input features", o.In)
	}
	return []int{in[0][0], o.Out}, nil
}

func (o *Linear) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	return in[0].Linear(ctx, o.W.Value(ctx), o.B.Value(ctx)), nil
}

// =============================================================================
// Merge
// =============================================================================

// MergeMode bestimmt, wie Merge seine Eltern kombiniert
type MergeMode string

const (
	MergeAdd    MergeMode = "add"
	MergeConcat MergeMode = "concat"
)

// Merge kombiniert alle Eltern per Addition oder Kanal-Konkatenation
type Merge struct {
	Mode MergeMode
}

func (o *Merge) Kind() string         { return "merge" }
func (o *Merge) Params() []*Parameter { return nil }
func (o *Merge) Signature() string    { return "mode=" + string(o.Mode) }

func (o *Merge) Shape(in [][]int) ([]int, error) {
	if len(in) == 0 {
		return nil, shapeErrorf(in, "merge needs at least one parent")
	}

	switch o.Mode {
	case MergeAdd:
		for _, s := range in[1:] {
			if !slices.Equal(s, in[0]) {
				return nil, shapeErrorf(in, "add merge needs equal shapes")
			}
		}
		return slices.Clone(in[0]), nil
	case MergeConcat:
		out := slices.Clone(in[0])
		if len(out) < 2 {
			return nil, shapeErrorf(in, "concat merge needs a channel axis")
		}
		for _, s := range in[1:] {
			if len(s) != len(out) {
				return nil, shapeErrorf(in, "concat merge needs equal ranks")
			}
			for i := range s {
				if i != 1 && s[i] != out[i] {
					return nil, shapeErrorf(in, "concat merge needs equal shapes except axis 1")
				}
			}
			out[1] += s[1]
		}
		return out, nil
	}
	return nil, errors.New("unknown merge mode " + string(o.Mode))
}

func (o *Merge) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	out := in[0]
	for _, t := range in[1:] {
		if o.Mode == MergeConcat {
			out = out.Concat(ctx, t, 1)
		} else {
			out = out.Add(ctx, t)
		}
	}
	return out, nil
}
