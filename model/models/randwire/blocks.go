// Modul: blocks.go
// Beschreibung: Knoten eines zufaellig verdrahteten Netzes
// Hauptstrukturen:
//   - vertex: Teilgraph mit Projektion, Formangleichung und Operation
//   - project: 1x1-Projektion je Elternteil und additive Zusammenfuehrung
//   - sepConv: Depthwise- und Pointwise-Faltung mit BN und ReLU

package randwire

import (
	"fmt"
	"log/slog"

	"github.com/archsearch/nas/graph"
)

// vertex haengt einen Knoten vom Typ kind als Teilgraph an g an
func vertex(g *graph.Module, name, kind string, channels int, parents []*graph.Module) (*graph.Module, error) {
	v, err := g.AppendGraph(name, parents...)
	if err != nil {
		return nil, err
	}

	last, err := project(v, channels, parents)
	if err != nil {
		return nil, err
	}

	switch kind {
	case kindConv3x3:
		_, err = conv(v, last, channels, 3)
	case kindConv5x5:
		_, err = conv(v, last, channels, 5)
	case kindSepConv3x3:
		_, err = sepConv(v, last, channels, 3)
	case kindSepConv5x5:
		_, err = sepConv(v, last, channels, 5)
	case kindMaxPool, kindAvgPool:
		s, serr := last.Shape()
		if serr != nil {
			return nil, serr
		}
		if s[2] < 2 || s[3] < 2 {
			slog.Debug("input too small for pooling, keeping projection", "vertex", v.Path(), "shape", s)
			break
		}
		if kind == kindMaxPool {
			_, err = v.MaxPool("max_pool", last, 2, 2, 0)
		} else {
			_, err = v.AvgPool("avg_pool", last, 2, 2, 0)
		}
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// project bringt jeden Elternteil auf channels Kanaele und die kleinste
// raeumliche Groesse und addiert die Ergebnisse
func project(v *graph.Module, channels int, parents []*graph.Module) (*graph.Module, error) {
	minH, minW := -1, -1
	projected := make([]*graph.Module, len(parents))
	for i, p := range parents {
		c, err := v.Conv(fmt.Sprintf("input_conv_%d", i), p, graph.ConvConfig{Out: channels, Kernel: graph.Pair(1)})
		if err != nil {
			return nil, err
		}
		bn, err := v.BatchNorm(fmt.Sprintf("input_conv_bn_%d", i), c)
		if err != nil {
			return nil, err
		}
		if projected[i], err = v.ReLU(fmt.Sprintf("input_relu_%d", i), bn); err != nil {
			return nil, err
		}

		s, err := p.Shape()
		if err != nil {
			return nil, err
		}
		if minH < 0 || s[2] < minH {
			minH = s[2]
		}
		if minW < 0 || s[3] < minW {
			minW = s[3]
		}
	}

	for i, p := range projected {
		s, err := p.Shape()
		if err != nil {
			return nil, err
		}
		if s[2] == minH && s[3] == minW {
			continue
		}

		// kernel und stride so, dass die Ausgabe genau minH hoch ist
		stride := s[2] / minH
		kernel := s[2] - (minH-1)*stride
		if projected[i], err = v.MaxPool(fmt.Sprintf("shape_adapt_pool_%d", i), p, kernel, stride, 0); err != nil {
			return nil, err
		}
	}

	if len(projected) == 1 {
		return projected[0], nil
	}
	return v.Merge("merging", graph.MergeAdd, projected...)
}

func conv(v, parent *graph.Module, channels, kernel int) (*graph.Module, error) {
	c, err := v.Conv("conv", parent, graph.ConvConfig{Out: channels, Kernel: graph.Pair(kernel), Pad: graph.Pair(kernel / 2)})
	if err != nil {
		return nil, err
	}
	bn, err := v.BatchNorm("conv_bn", c)
	if err != nil {
		return nil, err
	}
	return v.ReLU("conv_relu", bn)
}

func sepConv(v, parent *graph.Module, channels, kernel int) (*graph.Module, error) {
	s, err := parent.Shape()
	if err != nil {
		return nil, err
	}

	dw, err := v.Conv("conv_dw", parent, graph.ConvConfig{
		Out:    s[1],
		Kernel: graph.Pair(kernel),
		Pad:    graph.Pair(kernel / 2),
		Groups: s[1],
	})
	if err != nil {
		return nil, err
	}
	pw, err := v.Conv("conv_pw", dw, graph.ConvConfig{Out: channels, Kernel: graph.Pair(1)})
	if err != nil {
		return nil, err
	}
	bn, err := v.BatchNorm("conv_bn", pw)
	if err != nil {
		return nil, err
	}
	return v.ReLU("conv_relu", bn)
}
