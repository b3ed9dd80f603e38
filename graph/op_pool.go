// op_pool.go - Pooling-Operatoren
//
// Dieses Modul enthaelt:
// - MaxPool/AvgPool: Fenster-Pooling, Ausgabe floor((H+2p-k)/s)+1
// - GlobalAvgPool: (N, C, H, W) -> (N, C, 1, 1)
package graph

import (
	"fmt"

	"github.com/archsearch/nas/ml"
)

// Pool ist ein Fenster-Pooling; Max waehlt das Maximum, sonst den Mittelwert
// ohne Padding
type Pool struct {
	Max    bool
	Window ml.Window2D
}

// NewPool erstellt ein Pooling mit quadratischem Kernel
func NewPool(isMax bool, kernel, stride, pad int) *Pool {
	return &Pool{Max: isMax, Window: ml.Window2D{Kernel: Pair(kernel), Stride: Pair(stride), Pad: Pair(pad)}}
}

func (o *Pool) Kind() string {
	if o.Max {
		return "maxpool"
	}
	return "avgpool"
}

func (o *Pool) Params() []*Parameter { return nil }

func (o *Pool) Signature() string {
	w := o.Window
	return fmt.Sprintf("k=%dx%d s=%dx%d p=%dx%d", w.Kernel[0], w.Kernel[1], max(w.Stride[0], 1), max(w.Stride[1], 1), w.Pad[0], w.Pad[1])
}

func (o *Pool) Shape(in [][]int) ([]int, error) {
	if err := requireParents(in, 1); err != nil {
		return nil, err
	}
	s := in[0]
	if err := requireRank(s, 4); err != nil {
		return nil, err
	}
	return convShape(in, s[1], s[1], o.Window)
}

func (o *Pool) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	if o.Max {
		return in[0].MaxPool2D(ctx, o.Window), nil
	}
	return in[0].AvgPool2D(ctx, o.Window), nil
}

// GlobalAvgPool mittelt jeden Kanal ueber die gesamte Flaeche
type GlobalAvgPool struct{}

func (GlobalAvgPool) Kind() string         { return "global_avgpool" }
func (GlobalAvgPool) Params() []*Parameter { return nil }
func (GlobalAvgPool) Signature() string    { return "" }

func (GlobalAvgPool) Shape(in [][]int) ([]int, error) {
	if err := requireParents(in, 1); err != nil {
		return nil, err
	}
	s := in[0]
	if err := requireRank(s, 4); err != nil {
		return nil, err
	}
	return []int{s[0], s[1], 1, 1}, nil
}

func (GlobalAvgPool) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	return in[0].GlobalAvgPool(ctx), nil
}
