// op_norm.go - Batch-Normalisierung
// Dieses Modul enthaelt BatchNorm mit lernbarem gamma/beta und laufenden
// Statistiken als Puffer ohne Gradient.
package graph

import (
	"fmt"
	"math/rand/v2"

	"github.com/archsearch/nas/ml"
)

// BatchNorm normalisiert pro Kanal. Im Training werden Batch-Statistiken
// verwendet und Mean/Var nachgefuehrt.
type BatchNorm struct {
	C        int
	Momentum float32
	Eps      float32

	Beta  *Parameter
	Gamma *Parameter
	Mean  *Parameter
	Var   *Parameter
}

func NewBatchNorm(c int, r *rand.Rand) *BatchNorm {
	shape := []int{c}
	return &BatchNorm{
		C:        c,
		Momentum: 0.9,
		Eps:      1e-5,
		Beta:     NewParameter("beta", shape, true, Constant(0), r),
		Gamma:    NewParameter("gamma", shape, true, Constant(1), r),
		Mean:     NewParameter("mean", shape, false, Constant(0), r),
		Var:      NewParameter("var", shape, false, Constant(1), r),
	}
}

func (o *BatchNorm) Kind() string { return "batchnorm" }

func (o *BatchNorm) Signature() string {
	return fmt.Sprintf("c=%d eps=%g", o.C, o.Eps)
}

func (o *BatchNorm) Params() []*Parameter {
	return []*Parameter{o.Beta, o.Gamma, o.Mean, o.Var}
}

func (o *BatchNorm) Shape(in [][]int) ([]int, error) {
	s, err := sameShape(in)
	if err != nil {
		return nil, err
	}
	if (len(s) != 2 && len(s) != 4) || s[1] != o.C {
		return nil, shapeErrorf(in, "batchnorm expects %d channels", o.C)
	}
	return s, nil
}

func (o *BatchNorm) Forward(ctx ml.Context, in []ml.Tensor, training bool) (ml.Tensor, error) {
	return in[0].BatchNorm(ctx,
		o.Gamma.Value(ctx), o.Beta.Value(ctx),
		o.Mean.Value(ctx), o.Var.Value(ctx),
		o.Momentum, o.Eps, training), nil
}
