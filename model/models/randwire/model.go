// Modul: model.go
// Beschreibung: Zufaellig verdrahtetes Netz als Suchraum
// Hauptstrukturen:
//   - New: Zieht einen Graphen und baut daraus die Module
//   - init: Registriert den Suchraum unter "randwire"

package randwire

import (
	"fmt"
	"log/slog"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/model"
)

// New zieht einen Watts-Strogatz-Graphen und baut fuer jeden Knoten einen
// Teilgraphen mit zufaelligem Typ und zufaelliger Kanalzahl. Gleicher Seed
// ergibt dasselbe Netz.
func New(c model.Config) (*model.Model, error) {
	opts := defaultOptions()
	if err := model.Populate(&opts, c.Options); err != nil {
		return nil, err
	}
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidConfig, err)
	}

	g := graph.New("randwire", graph.WithSeed(c.Seed))
	r := g.Rand()

	dag := orient(wattsStrogatz(opts.Vertices, opts.K, opts.P, r), opts.Vertices)
	order, err := sortDAG(dag)
	if err != nil {
		return nil, err
	}

	var in, last *graph.Module
	nodes := make(map[int64]*graph.Module, len(order))
	for _, id := range order {
		ps := predecessors(dag, id)
		if len(ps) == 0 {
			if in, err = g.Input("input", c.Input...); err != nil {
				return nil, err
			}
			nodes[id], last = in, in
			continue
		}

		parents := make([]*graph.Module, len(ps))
		for i, p := range ps {
			parents[i] = nodes[p]
		}

		kind := opts.Candidates[r.IntN(len(opts.Candidates))]
		channels := opts.MinChannels
		if opts.MaxChannels > opts.MinChannels {
			channels += r.IntN(opts.MaxChannels - opts.MinChannels)
		}

		if last, err = vertex(g, fmt.Sprintf("v%d", id), kind, channels, parents); err != nil {
			return nil, err
		}
		nodes[id] = last
		slog.Debug("randwire vertex", "id", id, "kind", kind, "channels", channels, "parents", ps)
	}

	gap, err := g.GlobalAvgPool("global_average_pool", last)
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

func init() {
	model.Register("randwire", New)
}
