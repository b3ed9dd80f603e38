// op_conv.go - Faltungen mit fester und elastischer Breite
//
// Dieses Modul enthaelt:
// - ConvConfig: Hyperparameter einer 2D-Faltung
// - Conv: Faltung mit Gewicht W (Out, In/Groups, KH, KW) und optionalem Bias
// - DynamicConv: Faltung mit einstellbarer aktiver Ausgabebreite
package graph

import (
	"fmt"
	"math/rand/v2"

	"github.com/archsearch/nas/ml"
)

// Pair gibt (k, k) zurueck
func Pair(k int) [2]int {
	return [2]int{k, k}
}

// ConvConfig beschreibt eine 2D-Faltung. Nullwerte fuer Stride, Dilation und
// Groups bedeuten 1.
type ConvConfig struct {
	Out      int
	Kernel   [2]int
	Stride   [2]int
	Pad      [2]int
	Dilation [2]int
	Groups   int
	Bias     bool
}

func (c ConvConfig) window() ml.Window2D {
	return ml.Window2D{Kernel: c.Kernel, Stride: c.Stride, Pad: c.Pad, Dilation: c.Dilation}
}

func (c ConvConfig) groups() int {
	return max(c.Groups, 1)
}

func (c ConvConfig) signature(in int) string {
	w := c.window()
	return fmt.Sprintf("in=%d out=%d k=%dx%d s=%dx%d p=%dx%d d=%dx%d g=%d bias=%t",
		in, c.Out,
		w.Kernel[0], w.Kernel[1],
		max(w.Stride[0], 1), max(w.Stride[1], 1),
		w.Pad[0], w.Pad[1],
		max(w.Dilation[0], 1), max(w.Dilation[1], 1),
		c.groups(), c.Bias)
}

// convShape prueft eine (N, C, H, W)-Eingabe und berechnet die Ausgabeform
func convShape(in [][]int, channels, out int, win ml.Window2D) ([]int, error) {
	if err := requireParents(in, 1); err != nil {
		return nil, err
	}
	s := in[0]
	if err := requireRank(s, 4); err != nil {
		return nil, err
	}
	if s[1] != channels {
		return nil, shapeErrorf(in, "expected %d input channels", channels)
	}

	oh, ow := win.OutputSize(s[2], s[3])
	if oh <= 0 || ow <= 0 {
		return nil, shapeErrorf(in, "window %v does not fit input", win.Kernel)
	}
	return []int{s[0], out, oh, ow}, nil
}

// Conv ist eine 2D-Faltung
type Conv struct {
	In int
	ConvConfig

	W *Parameter
	B *Parameter
}

// NewConv erstellt eine Faltung fuer in Eingabekanaele
func NewConv(in int, cfg ConvConfig, r *rand.Rand) (*Conv, error) {
	g := cfg.groups()
	if cfg.Out <= 0 || in <= 0 || in%g != 0 || cfg.Out%g != 0 {
		return nil, shapeErrorf([][]int{{in}}, "invalid conv channels in=%d out=%d groups=%d", in, cfg.Out, g)
	}
	if cfg.Kernel[0] <= 0 || cfg.Kernel[1] <= 0 {
		return nil, shapeErrorf(nil, "invalid kernel %v", cfg.Kernel)
	}

	fanIn := in / g * cfg.Kernel[0] * cfg.Kernel[1]
	c := &Conv{
		In:         in,
		ConvConfig: cfg,
		W:          NewParameter("W", []int{cfg.Out, in / g, cfg.Kernel[0], cfg.Kernel[1]}, true, HeNormal(fanIn), r),
	}
	if cfg.Bias {
		c.B = NewParameter("b", []int{cfg.Out}, true, Constant(0), r)
	}
	return c, nil
}

func (o *Conv) Kind() string      { return "conv" }
func (o *Conv) Signature() string { return o.signature(o.In) }

func (o *Conv) Params() []*Parameter {
	if o.B != nil {
		return []*Parameter{o.W, o.B}
	}
	return []*Parameter{o.W}
}

func (o *Conv) Shape(in [][]int) ([]int, error) {
	return convShape(in, o.In, o.Out, o.window())
}

func (o *Conv) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	var b ml.Tensor
	if o.B != nil {
		b = o.B.Value(ctx)
	}
	return in[0].Conv2D(ctx, o.W.Value(ctx), b, o.groups(), o.window()), nil
}

// =============================================================================
// DynamicConv
// =============================================================================

// DynamicConv ist eine Faltung mit elastischer Ausgabebreite. Gerechnet wird
// mit den ersten Width Filtern, die restlichen Kanaele sind Null. Die
// Ausgabeform bleibt dadurch bei Out Kanaelen.
type DynamicConv struct {
	Conv
	Width int
}

// NewDynamicConv erstellt eine elastische Faltung mit voller Breite
func NewDynamicConv(in int, cfg ConvConfig, r *rand.Rand) (*DynamicConv, error) {
	if cfg.groups() != 1 {
		return nil, shapeErrorf(nil, "dynamic conv does not support groups")
	}
	c, err := NewConv(in, cfg, r)
	if err != nil {
		return nil, err
	}
	return &DynamicConv{Conv: *c, Width: cfg.Out}, nil
}

func (o *DynamicConv) Kind() string { return "dynamic_conv" }

func (o *DynamicConv) Signature() string {
	return fmt.Sprintf("%s width=%d", o.signature(o.In), o.Width)
}

func (o *DynamicConv) Forward(ctx ml.Context, in []ml.Tensor, training bool) (ml.Tensor, error) {
	if o.Width == o.Out {
		return o.Conv.Forward(ctx, in, training)
	}

	w := o.W.Value(ctx).Slice(ctx, 0, 0, o.Width)
	var b ml.Tensor
	if o.B != nil {
		b = o.B.Value(ctx).Slice(ctx, 0, 0, o.Width)
	}
	y := in[0].Conv2D(ctx, w, b, 1, o.window())

	pad := ctx.Zeros(ml.DTypeF32, y.Dim(0), o.Out-o.Width, y.Dim(2), y.Dim(3))
	return y.Concat(ctx, pad, 1), nil
}

// SetWidth setzt die aktive Ausgabebreite eines DynamicConv-Moduls
func (m *Module) SetWidth(width int) error {
	o, ok := m.op.(*DynamicConv)
	if !ok {
		return &StructureError{Module: m.path, Reason: "SetWidth on non-dynamic module"}
	}
	if width <= 0 || width > o.Out {
		return &ShapeError{Module: m.path, Shapes: [][]int{{width}}, Reason: fmt.Sprintf("width must be in [1,%d]", o.Out)}
	}

	o.Width = width
	m.arena.invalidateDown(m.id)
	return nil
}
