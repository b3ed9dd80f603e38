// op.go - Op-Interface fuer Graph-Knoten
//
// Dieses Modul enthaelt:
// - Op: gemeinsame Schnittstelle aller Operatoren
// - Selector: optionale Schnittstelle fuer Knoten mit Elternauswahl
// - Trainable: optionale Schnittstelle fuer Ops mit Train/Eval-Verhalten
package graph

import (
	"fmt"
	"strings"

	"github.com/archsearch/nas/ml"
)

// Op ist eine Berechnung an einem Graph-Knoten
type Op interface {
	// Kind ist der Typname, z.B. "conv" oder "join"
	Kind() string

	// Shape leitet die Ausgabeform aus den Formen aller Eltern ab
	Shape(in [][]int) ([]int, error)

	// Forward berechnet die Ausgabe. in enthaelt die Werte der aktiven
	// Eltern in Elternreihenfolge.
	Forward(ctx ml.Context, in []ml.Tensor, training bool) (ml.Tensor, error)

	// Params gibt die Parameter der Op zurueck. Parameter.Name ist der
	// lokale Name innerhalb des Moduls.
	Params() []*Parameter

	// Signature beschreibt alle formrelevanten Hyperparameter
	Signature() string
}

// Selector wird von Ops implementiert, die nur einen Teil ihrer Eltern
// auswerten
type Selector interface {
	// ActiveParents gibt die Indizes der auszuwertenden Eltern zurueck
	ActiveParents(n int) []int
}

func allParents(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func formatShapes(in [][]int) string {
	parts := make([]string, len(in))
	for i, s := range in {
		parts[i] = fmt.Sprint(s)
	}
	return strings.Join(parts, ",")
}

func requireParents(in [][]int, n int) error {
	if len(in) != n {
		return shapeErrorf(in, "expected %d parent(s), got %d", n, len(in))
	}
	return nil
}

func requireRank(in []int, rank int) error {
	if len(in) != rank {
		return shapeErrorf([][]int{in}, "expected rank %d", rank)
	}
	return nil
}
