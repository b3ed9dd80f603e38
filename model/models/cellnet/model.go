// Modul: model.go
// Beschreibung: Zellbasierter Suchraum mit Join-Kanten
// Hauptstrukturen:
//   - New: Baut Stem, Zellen und Klassifikator
//   - cell: Zelle mit zwei Eingangszustaenden und Zwischenknoten
//   - edge: Teilgraph mit allen Kandidaten und einem Join
//   - init: Registriert den Suchraum unter "cellnet"

package cellnet

import (
	"fmt"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/model"
)

// New baut ein Netz aus opts.Cells Zellen. Jede Kante zwischen zwei
// Zustaenden ist ein Join ueber alle Kandidaten; alle Kandidaten erhalten
// Kanalzahl und Aufloesung, damit der full-Modus sie gewichten kann.
func New(c model.Config) (*model.Model, error) {
	opts := defaultOptions()
	if err := model.Populate(&opts, c.Options); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
	}

	g := graph.New("cellnet", graph.WithSeed(c.Seed))
	in, err := g.Input("input", c.Input...)
	if err != nil {
		return nil, err
	}

	stem, err := g.DynamicConv("stem_conv", in, graph.ConvConfig{
		Out:    opts.Channels,
		Kernel: graph.Pair(3),
		Pad:    graph.Pair(1),
	})
	if err != nil {
		return nil, err
	}
	if opts.StemWidth < opts.Channels {
		if err := stem.SetWidth(opts.StemWidth); err != nil {
			return nil, err
		}
	}
	s1, err := g.BatchNorm("stem_bn", stem)
	if err != nil {
		return nil, err
	}

	s0 := s1
	for i := range opts.Cells {
		next, err := cell(g, fmt.Sprintf("cell%d", i), s0, s1, c.Mode, &opts)
		if err != nil {
			return nil, err
		}
		s0, s1 = s1, next
	}

	gap, err := g.GlobalAvgPool("global_average_pool", s1)
	if err != nil {
		return nil, err
	}
	flat, err := g.Collapse("output_reshape", gap)
	if err != nil {
		return nil, err
	}
	out, err := g.Linear("classifier", flat, c.Classes)
	if err != nil {
		return nil, err
	}

	return &model.Model{Graph: g, Input: in, Output: out}, nil
}

// cell haengt eine Zelle mit den Eingangszustaenden s0 und s1 an g an.
// Knoten i summiert die Kanten aller vorherigen Zustaende; die Zwischenknoten
// werden konkateniert und per 1x1-Faltung auf opts.Channels reduziert.
func cell(g *graph.Module, name string, s0, s1 *graph.Module, mode graph.JoinMode, opts *Options) (*graph.Module, error) {
	parents := []*graph.Module{s0, s1}
	if s0 == s1 {
		parents = parents[:1]
	}
	cg, err := g.AppendGraph(name, parents...)
	if err != nil {
		return nil, err
	}

	states := []*graph.Module{s0, s1}
	for i := range opts.Nodes {
		edges := make([]*graph.Module, len(states))
		for j, s := range states {
			if edges[j], err = edge(cg, fmt.Sprintf("edge_%d_%d", j, i+2), s, mode, opts); err != nil {
				return nil, err
			}
		}
		node, err := cg.Merge(fmt.Sprintf("node%d", i+2), graph.MergeAdd, edges...)
		if err != nil {
			return nil, err
		}
		states = append(states, node)
	}

	cat := states[2]
	if len(states) > 3 {
		if cat, err = cg.Merge("concat", graph.MergeConcat, states[2:]...); err != nil {
			return nil, err
		}
	}
	reduce, err := cg.Conv("reduce", cat, graph.ConvConfig{Out: opts.Channels, Kernel: graph.Pair(1)})
	if err != nil {
		return nil, err
	}
	if _, err := cg.BatchNorm("reduce_bn", reduce); err != nil {
		return nil, err
	}
	return cg, nil
}

// edge baut einen Teilgraphen mit einem Zweig pro Kandidat und einem Join
// als Ausgang
func edge(cg *graph.Module, name string, state *graph.Module, mode graph.JoinMode, opts *Options) (*graph.Module, error) {
	e, err := cg.AppendGraph(name, state)
	if err != nil {
		return nil, err
	}

	branches := make([]*graph.Module, len(opts.Candidates))
	for i, op := range opts.Candidates {
		if branches[i], err = candidate(e, op, state, opts.Channels); err != nil {
			return nil, err
		}
	}

	j, err := e.Join("join", mode, branches...)
	if err != nil {
		return nil, err
	}
	op, _ := j.AsJoin()
	op.StraightThrough = opts.StraightThrough
	return e, nil
}

func candidate(e *graph.Module, op string, x *graph.Module, channels int) (*graph.Module, error) {
	switch op {
	case OpConv3x3, OpConv5x5:
		k := 3
		if op == OpConv5x5 {
			k = 5
		}
		r, err := e.ReLU(op+"_relu", x)
		if err != nil {
			return nil, err
		}
		c, err := e.Conv(op, r, graph.ConvConfig{Out: channels, Kernel: graph.Pair(k), Pad: graph.Pair(k / 2)})
		if err != nil {
			return nil, err
		}
		return e.BatchNorm(op+"_bn", c)
	case OpSepConv3x3:
		r, err := e.ReLU(op+"_relu", x)
		if err != nil {
			return nil, err
		}
		dw, err := e.Conv(op+"_dw", r, graph.ConvConfig{Out: channels, Kernel: graph.Pair(3), Pad: graph.Pair(1), Groups: channels})
		if err != nil {
			return nil, err
		}
		pw, err := e.Conv(op+"_pw", dw, graph.ConvConfig{Out: channels, Kernel: graph.Pair(1)})
		if err != nil {
			return nil, err
		}
		return e.BatchNorm(op+"_bn", pw)
	case OpMaxPool:
		return e.MaxPool(op, x, 3, 1, 1)
	case OpAvgPool:
		return e.AvgPool(op, x, 3, 1, 1)
	case OpIdentity:
		return e.Identity(op, x)
	case OpZero:
		return e.Zero(op, x)
	}
	return nil, fmt.Errorf("unknown candidate %q", op)
}

func init() {
	model.Register("cellnet", New)
}
