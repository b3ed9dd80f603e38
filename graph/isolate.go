// isolate.go - Herausloesen einzelner Module und Signaturen
// Dieses Modul enthaelt Isolate (eigenstaendiger Mini-Graph fuer Messungen)
// und Module.Signature als Cache-Schluessel.
package graph

import (
	"fmt"
	"strconv"
)

// Signature beschreibt die Berechnung von m: Op-Typ, formrelevante
// Hyperparameter und Eingabeformen. Module mit gleicher Signatur haben
// dieselben Kosten.
func (m *Module) Signature() (string, error) {
	if m.IsGraph() {
		return "", &StructureError{Module: m.path, Reason: "graphs have no signature"}
	}

	in := make([][]int, len(m.parents))
	for i, p := range m.Parents() {
		s, err := p.Shape()
		if err != nil {
			return "", err
		}
		in[i] = s
	}
	return fmt.Sprintf("%s(%s)<-%s", m.Kind(), m.op.Signature(), formatShapes(in)), nil
}

// Isolate baut einen eigenstaendigen Graphen, der nur die Berechnung von m
// enthaelt: ein Input pro Elternteil mit dessen Form und dieselbe Op. Die
// Parameter werden geteilt, nicht kopiert.
func Isolate(m *Module) (*Module, error) {
	if m.IsGraph() {
		return nil, &StructureError{Module: m.path, Reason: "cannot isolate a graph"}
	}
	if _, ok := m.op.(*Input); ok {
		return nil, &StructureError{Module: m.path, Reason: "cannot isolate an input"}
	}

	g := New("isolated:"+m.path, WithRand(m.arena.rng))
	g.SetTraining(m.arena.training)

	inputs := make([]*Module, len(m.parents))
	for i, p := range m.Parents() {
		s, err := p.Shape()
		if err != nil {
			return nil, err
		}
		in, err := g.Append("x"+strconv.Itoa(i), NewInput(s...))
		if err != nil {
			return nil, err
		}
		inputs[i] = in
	}

	if _, err := g.Append(m.name, m.op, inputs...); err != nil {
		return nil, err
	}
	return g, nil
}
