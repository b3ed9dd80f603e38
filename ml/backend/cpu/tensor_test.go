// MODUL: tensor_test
// ZWECK: Unit-Tests fuer CPU-Tensor-Operationen und den Backward-Pass
// INPUT: Keine
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: testify, go-cmp, ml
// HINWEISE: Gradienten werden gegen zentrale Differenzen in float64 geprueft

package cpu

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/ml"
)

func newTestContext(t *testing.T) ml.Context {
	t.Helper()
	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b.NewContext()
}

func randFloats(r *rand.Rand, n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(r.NormFloat64())
	}
	return s
}

// gradCheck vergleicht den analytischen Gradienten von mean(f(x) * w) mit
// zentralen Differenzen
func gradCheck(t *testing.T, ctx ml.Context, shape []int, f func(x ml.Tensor) ml.Tensor) {
	t.Helper()
	r := rand.New(rand.NewPCG(1, 2))

	xs := randFloats(r, numel(shape))
	x := ctx.FromFloats(xs, shape...)
	x.SetRequiresGrad(true)

	out := f(x)
	ws := randFloats(r, numel(out.Shape()))
	w := ctx.FromFloats(ws, out.Shape()...)
	out.Mul(ctx, w).Mean(ctx).Backward()
	analytic := x.Grad()
	require.Len(t, analytic, len(xs))

	loss := func(s []float32) float64 {
		y := f(ctx.FromFloats(s, shape...)).Floats()
		var sum float64
		for i, v := range y {
			sum += float64(v) * float64(ws[i])
		}
		return sum / float64(len(y))
	}

	const eps = 1e-2
	for i := range xs {
		p := append([]float32(nil), xs...)
		p[i] += eps
		m := append([]float32(nil), xs...)
		m[i] -= eps
		numeric := (loss(p) - loss(m)) / (2 * eps)
		assert.InDelta(t, numeric, float64(analytic[i]), 2e-3, "Gradient an Index %d", i)
	}
}

func TestConv2DShapeAndValue(t *testing.T) {
	ctx := newTestContext(t)

	x := ctx.FromFloats([]float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}, 1, 1, 3, 3)
	w := ctx.FromFloats([]float32{1, 1, 1, 1}, 1, 1, 2, 2)
	b := ctx.FromFloats([]float32{0.5}, 1)

	y := x.Conv2D(ctx, w, b, 1, ml.Window2D{Kernel: [2]int{2, 2}})
	if diff := cmp.Diff([]int{1, 1, 2, 2}, y.Shape()); diff != "" {
		t.Errorf("Conv2D Form (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{12.5, 16.5, 24.5, 28.5}, y.Floats()); diff != "" {
		t.Errorf("Conv2D Werte (-want +got):\n%s", diff)
	}
}

func TestConv2DPaddingStrideGroups(t *testing.T) {
	ctx := newTestContext(t)

	x := ctx.Zeros(ml.DTypeF32, 2, 4, 8, 8)
	w := ctx.Zeros(ml.DTypeF32, 6, 2, 3, 3)
	y := x.Conv2D(ctx, w, nil, 2, ml.Window2D{
		Kernel: [2]int{3, 3},
		Stride: [2]int{2, 2},
		Pad:    [2]int{1, 1},
	})
	assert.Equal(t, []int{2, 6, 4, 4}, y.Shape())
}

func TestConv2DGradient(t *testing.T) {
	ctx := newTestContext(t)
	r := rand.New(rand.NewPCG(3, 4))
	w := ctx.FromFloats(randFloats(r, 4*1*3*3), 4, 1, 3, 3)

	gradCheck(t, ctx, []int{1, 2, 5, 5}, func(x ml.Tensor) ml.Tensor {
		return x.Conv2D(ctx, w, nil, 2, ml.Window2D{
			Kernel:   [2]int{3, 3},
			Pad:      [2]int{2, 2},
			Dilation: [2]int{2, 2},
		})
	})
}

func TestConv2DWeightGradient(t *testing.T) {
	ctx := newTestContext(t)
	r := rand.New(rand.NewPCG(5, 6))
	x := ctx.FromFloats(randFloats(r, 1*3*4*4), 1, 3, 4, 4)

	gradCheck(t, ctx, []int{2, 3, 3, 3}, func(w ml.Tensor) ml.Tensor {
		return x.Conv2D(ctx, w, nil, 1, ml.Window2D{Kernel: [2]int{3, 3}, Pad: [2]int{1, 1}})
	})
}

func TestBatchNormTraining(t *testing.T) {
	ctx := newTestContext(t)

	x := ctx.FromFloats([]float32{1, 2, 3, 4, 10, 20, 30, 40}, 2, 2, 1, 2)
	mean := ctx.Zeros(ml.DTypeF32, 2)
	variance := ctx.FromFloats([]float32{1, 1}, 2)

	y := x.BatchNorm(ctx, nil, nil, mean, variance, 0.9, 1e-5, true)
	var sum float64
	for _, v := range y.Floats() {
		sum += float64(v)
	}
	assert.InDelta(t, 0, sum, 1e-4, "normalisierte Summe")

	// channel 0 holds 1, 2, 10, 20 and channel 1 holds 3, 4, 30, 40
	got := mean.Floats()
	assert.InDelta(t, 0.1*8.25, float64(got[0]), 1e-5)
	assert.InDelta(t, 0.1*19.25, float64(got[1]), 1e-4)
}

func TestBatchNormGradient(t *testing.T) {
	ctx := newTestContext(t)
	gamma := ctx.FromFloats([]float32{1.5, -0.5, 2}, 3)
	beta := ctx.FromFloats([]float32{0.1, 0.2, 0.3}, 3)

	gradCheck(t, ctx, []int{4, 3, 2, 2}, func(x ml.Tensor) ml.Tensor {
		mean := ctx.Zeros(ml.DTypeF32, 3)
		variance := ctx.FromFloats([]float32{1, 1, 1}, 3)
		return x.BatchNorm(ctx, gamma, beta, mean, variance, 0.9, 1e-5, true)
	})
}

func TestPooling(t *testing.T) {
	ctx := newTestContext(t)

	x := ctx.FromFloats([]float32{
		1, 2, 3, 4,
		5, 6, 7, 8,
		9, 10, 11, 12,
		13, 14, 15, 16,
	}, 1, 1, 4, 4)
	win := ml.Window2D{Kernel: [2]int{2, 2}, Stride: [2]int{2, 2}}

	if diff := cmp.Diff([]float32{6, 8, 14, 16}, x.MaxPool2D(ctx, win).Floats()); diff != "" {
		t.Errorf("MaxPool2D (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float32{3.5, 5.5, 11.5, 13.5}, x.AvgPool2D(ctx, win).Floats()); diff != "" {
		t.Errorf("AvgPool2D (-want +got):\n%s", diff)
	}

	// padding is excluded from the average
	padded := x.AvgPool2D(ctx, ml.Window2D{Kernel: [2]int{3, 3}, Stride: [2]int{1, 1}, Pad: [2]int{1, 1}})
	assert.Equal(t, []int{1, 1, 4, 4}, padded.Shape())
	assert.InDelta(t, (1.0+2+5+6)/4, float64(padded.Floats()[0]), 1e-6)

	gap := x.GlobalAvgPool(ctx)
	assert.Equal(t, []int{1, 1, 1, 1}, gap.Shape())
	assert.InDelta(t, 8.5, float64(gap.Floats()[0]), 1e-6)
}

func TestPoolingGradient(t *testing.T) {
	ctx := newTestContext(t)
	win := ml.Window2D{Kernel: [2]int{3, 3}, Stride: [2]int{2, 2}, Pad: [2]int{1, 1}}

	gradCheck(t, ctx, []int{1, 2, 5, 5}, func(x ml.Tensor) ml.Tensor {
		return x.AvgPool2D(ctx, win)
	})
	gradCheck(t, ctx, []int{2, 3, 3, 3}, func(x ml.Tensor) ml.Tensor {
		return x.GlobalAvgPool(ctx)
	})
}

func TestLinearGradient(t *testing.T) {
	ctx := newTestContext(t)
	r := rand.New(rand.NewPCG(7, 8))
	w := ctx.FromFloats(randFloats(r, 3*4), 3, 4)
	b := ctx.FromFloats(randFloats(r, 3), 3)

	gradCheck(t, ctx, []int{2, 4}, func(x ml.Tensor) ml.Tensor {
		return x.Linear(ctx, w, b)
	})
}

func TestSoftmax(t *testing.T) {
	ctx := newTestContext(t)

	x := ctx.FromFloats([]float32{0, 0, 1, 1000, 1000, 1000}, 2, 3)
	p := x.Softmax(ctx).Floats()

	assert.InDelta(t, 1, float64(p[0]+p[1]+p[2]), 1e-6)
	opt := cmpopts.EquateApprox(0, 1e-6)
	if diff := cmp.Diff([]float32{1.0 / 3, 1.0 / 3, 1.0 / 3}, p[3:], opt); diff != "" {
		t.Errorf("Softmax grosse Werte (-want +got):\n%s", diff)
	}

	gradCheck(t, ctx, []int{2, 4}, func(x ml.Tensor) ml.Tensor {
		return x.Softmax(ctx)
	})
}

func TestCrossEntropy(t *testing.T) {
	ctx := newTestContext(t)

	logits := ctx.FromFloats([]float32{0, 0, 0, 0}, 1, 4)
	labels := ctx.FromInts([]int32{2}, 1)
	loss := logits.CrossEntropy(ctx, labels, 0)
	assert.InDelta(t, math.Log(4), float64(loss.Floats()[0]), 1e-6)

	labels = ctx.FromInts([]int32{1, 0}, 2)
	gradCheck(t, ctx, []int{2, 3}, func(x ml.Tensor) ml.Tensor {
		return x.CrossEntropy(ctx, labels, 0.1)
	})
}

func TestShapeOps(t *testing.T) {
	ctx := newTestContext(t)

	x := ctx.FromFloats([]float32{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	assert.Equal(t, []int{2, 3}, x.Reshape(ctx, -1, 3).Shape())

	s := x.Slice(ctx, 2, 1, 3)
	assert.Equal(t, []int{1, 2, 2}, s.Shape())
	assert.Equal(t, []float32{2, 3, 5, 6}, s.Floats())

	c := x.Concat(ctx, s, 2)
	assert.Equal(t, []int{1, 2, 5}, c.Shape())
	assert.Equal(t, []float32{1, 2, 3, 2, 3, 4, 5, 6, 5, 6}, c.Floats())

	gradCheck(t, ctx, []int{2, 3, 2}, func(x ml.Tensor) ml.Tensor {
		return x.Concat(ctx, x.Slice(ctx, 1, 0, 2), 1)
	})
}

func TestBackwardAccumulatesLeaves(t *testing.T) {
	ctx := newTestContext(t)

	a := ctx.FromFloats([]float32{2}, 1)
	a.SetRequiresGrad(true)
	b := ctx.FromFloats([]float32{3}, 1)
	b.SetRequiresGrad(true)

	// y = a*b + a
	y := a.Mul(ctx, b).Add(ctx, a)
	y.Backward()
	assert.Equal(t, []float32{4}, a.Grad())
	assert.Equal(t, []float32{2}, b.Grad())

	y = a.Mul(ctx, b).Add(ctx, a)
	y.Backward()
	assert.Equal(t, []float32{8}, a.Grad(), "Blatt-Gradienten akkumulieren")

	a.ZeroGrad()
	assert.Nil(t, a.Grad())
}

func TestDetachStopsGradient(t *testing.T) {
	ctx := newTestContext(t)

	a := ctx.FromFloats([]float32{1, 2}, 2)
	a.SetRequiresGrad(true)

	d := a.Detach(ctx)
	assert.False(t, d.RequiresGrad())
	assert.Equal(t, a.Floats(), d.Floats())

	a.Sub(ctx, d).Mean(ctx).Backward()
	assert.Equal(t, []float32{0.5, 0.5}, a.Grad())
}

func TestScalarBroadcast(t *testing.T) {
	ctx := newTestContext(t)

	a := ctx.FromFloats([]float32{1, 2, 3}, 3)
	a.SetRequiresGrad(true)
	s := ctx.FromFloats([]float32{2}, 1)
	s.SetRequiresGrad(true)

	a.Mul(ctx, s).Mean(ctx).Backward()
	assert.Equal(t, []float32{2, 4, 6}, a.Mul(ctx, s).Floats())
	assert.InDelta(t, 2, float64(s.Grad()[0]), 1e-6)
	assert.InDeltaSlice(t, []float64{2.0 / 3, 2.0 / 3, 2.0 / 3}, toF64(a.Grad()), 1e-6)
}

func toF64(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}

func TestNewBackendRejectsDevice(t *testing.T) {
	_, err := New(ml.Device{Library: "cpu", ID: 1}, ml.BackendParams{})
	assert.Error(t, err)
}
