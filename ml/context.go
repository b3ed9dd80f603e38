// context.go - Context und Tensor Interfaces fuer ML-Operationen
// Dieses Modul definiert die Schnittstellen fuer Tensor-Operationen und Compute-Kontexte.
package ml

// Context represents an execution context for tensor operations. A context is
// bound to exactly one device; every tensor created through it lives there.
type Context interface {
	Zeros(dtype DType, shape ...int) Tensor
	FromFloats(s []float32, shape ...int) Tensor
	FromInts(s []int32, shape ...int) Tensor

	// Device returns the device this context executes on
	Device() Device

	// Compute blocks until all pending work for the given tensors has
	// finished. Eager backends return immediately.
	Compute(...Tensor)

	Close()
}

// Tensor represents a multi-dimensional array with various operations.
//
// Operations record their inputs so that Backward can propagate gradients to
// every tensor created with RequiresGrad set.
type Tensor interface {
	Dim(n int) int
	Shape() []int
	DType() DType

	Floats() []float32
	Ints() []int32
	FromFloats([]float32)

	// Grad returns a copy of the accumulated gradient, nil if none was
	// accumulated yet.
	Grad() []float32
	SetGrad([]float32)
	ZeroGrad()
	RequiresGrad() bool
	SetRequiresGrad(bool)

	Add(ctx Context, t2 Tensor) Tensor
	Sub(ctx Context, t2 Tensor) Tensor
	// Mul multiplies element-wise. t2 may hold a single element, which is
	// then broadcast over t.
	Mul(ctx Context, t2 Tensor) Tensor
	Scale(ctx Context, s float64) Tensor

	// Conv2D convolves t (N, C, H, W) with weight (O, C/groups, KH, KW).
	// bias (O) may be nil.
	Conv2D(ctx Context, weight, bias Tensor, groups int, w Window2D) Tensor
	BatchNorm(ctx Context, gamma, beta, mean, variance Tensor, momentum, eps float32, training bool) Tensor
	MaxPool2D(ctx Context, w Window2D) Tensor
	AvgPool2D(ctx Context, w Window2D) Tensor
	// GlobalAvgPool averages every channel over its spatial extent and
	// returns a (N, C, 1, 1) tensor.
	GlobalAvgPool(ctx Context) Tensor
	Linear(ctx Context, weight, bias Tensor) Tensor

	RELU(ctx Context) Tensor
	Softmax(ctx Context) Tensor

	Reshape(ctx Context, shape ...int) Tensor
	Slice(ctx Context, dim, low, high int) Tensor
	Concat(ctx Context, t2 Tensor, dim int) Tensor
	// Detach returns a tensor sharing the values of t that is not part of
	// the autograd graph.
	Detach(ctx Context) Tensor

	Mean(ctx Context) Tensor
	// CrossEntropy computes the mean softmax cross entropy of logits t
	// (N, K) against integer labels (N). A positive smoothing mixes the
	// uniform distribution into the target.
	CrossEntropy(ctx Context, labels Tensor, smoothing float32) Tensor

	// Backward propagates gradients from a single-element tensor.
	Backward()
}
