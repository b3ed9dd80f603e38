// Modul: wiring.go
// Beschreibung: Zufaellige Verdrahtung nach Watts-Strogatz
// Hauptstrukturen:
//   - wattsStrogatz: Ungerichteter Kleine-Welt-Graph
//   - orient: Gerichteter azyklischer Graph mit einem Ein- und Ausgang
//   - sortDAG: Stabile topologische Reihenfolge

package randwire

import (
	"cmp"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// wattsStrogatz erzeugt einen Ring aus n Knoten, jeder mit seinen k/2
// naechsten Nachbarn auf jeder Seite verbunden, und verdrahtet jede Kante
// mit Wahrscheinlichkeit p zu einem zufaelligen Ziel um
func wattsStrogatz(n, k int, p float64, r *rand.Rand) *simple.UndirectedGraph {
	g := simple.NewUndirectedGraph()
	for u := range n {
		g.AddNode(simple.Node(u))
	}
	for j := 1; j <= k/2; j++ {
		for u := range n {
			v := (u + j) % n
			g.SetEdge(g.NewEdge(simple.Node(u), simple.Node(v)))
		}
	}

	for j := 1; j <= k/2; j++ {
		for u := range n {
			v := (u + j) % n
			if r.Float64() >= p || !g.HasEdgeBetween(int64(u), int64(v)) {
				continue
			}
			if g.From(int64(u)).Len() >= n-1 {
				continue
			}

			w := r.IntN(n)
			for w == u || g.HasEdgeBetween(int64(u), int64(w)) {
				w = r.IntN(n)
			}
			g.RemoveEdge(int64(u), int64(v))
			g.SetEdge(g.NewEdge(simple.Node(u), simple.Node(w)))
		}
	}
	return g
}

// orient richtet jede Kante vom kleineren zum groesseren Knoten aus und
// verschiebt die Knoten um eins. Knoten 0 ist der Eingang vor allen Quellen,
// Knoten n+1 der Ausgang hinter allen Senken.
func orient(u *simple.UndirectedGraph, n int) *simple.DirectedGraph {
	d := simple.NewDirectedGraph()
	for i := range n + 2 {
		d.AddNode(simple.Node(i))
	}

	edges := u.Edges()
	for edges.Next() {
		e := edges.Edge()
		from, to := e.From().ID(), e.To().ID()
		if from > to {
			from, to = to, from
		}
		d.SetEdge(d.NewEdge(simple.Node(from+1), simple.Node(to+1)))
	}

	for i := 1; i <= n; i++ {
		if d.To(int64(i)).Len() == 0 {
			d.SetEdge(d.NewEdge(simple.Node(0), simple.Node(i)))
		}
		if d.From(int64(i)).Len() == 0 {
			d.SetEdge(d.NewEdge(simple.Node(i), simple.Node(n+1)))
		}
	}
	return d
}

// predecessors gibt die Vorgaenger von id nach ID sortiert zurueck
func predecessors(d graph.Directed, id int64) []int64 {
	var ids []int64
	to := d.To(id)
	for to.Next() {
		ids = append(ids, to.Node().ID())
	}
	slices.Sort(ids)
	return ids
}

// sortDAG gibt die Knoten-IDs in topologischer Reihenfolge zurueck.
// Unabhaengige Knoten werden nach ID geordnet.
func sortDAG(d graph.Directed) ([]int64, error) {
	nodes, err := topo.SortStabilized(d, func(ns []graph.Node) {
		slices.SortFunc(ns, func(a, b graph.Node) int {
			return cmp.Compare(a.ID(), b.ID())
		})
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID()
	}
	return ids, nil
}
