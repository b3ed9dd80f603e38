// errors.go - Fehlertypen fuer Graph-Aufbau und Form-Inferenz
// Dieses Modul definiert StructureError und ShapeError.
package graph

import (
	"errors"
	"fmt"
)

// ErrDuplicateName wird von StructureError umhuellt, wenn ein Name im
// selben Graphen bereits vergeben ist
var ErrDuplicateName = errors.New("duplicate module name")

// ErrMissingInput wird von StructureError umhuellt, wenn ein Input-Modul
// ausgewertet wird, bevor ein Wert gesetzt wurde
var ErrMissingInput = errors.New("input value not set")

// StructureError beschreibt einen ungueltigen Graph-Aufbau: Vorwaerts- oder
// Fremdreferenzen, zyklische Eltern, Namenskollisionen, fehlende Eingaben.
type StructureError struct {
	Module string
	Reason string
	Err    error
}

func (e *StructureError) Error() string {
	msg := e.Reason
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Module == "" {
		return "graph structure: " + msg
	}
	return fmt.Sprintf("graph structure: %s: %s", e.Module, msg)
}

func (e *StructureError) Unwrap() error {
	return e.Err
}

// ShapeError beschreibt inkompatible Tensorformen an einem Modul
type ShapeError struct {
	Module string
	Shapes [][]int
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("graph shape: %s %v", e.Reason, e.Shapes)
	}
	return fmt.Sprintf("graph shape: %s: %s %v", e.Module, e.Reason, e.Shapes)
}

func shapeErrorf(shapes [][]int, format string, args ...any) *ShapeError {
	return &ShapeError{Shapes: shapes, Reason: fmt.Sprintf(format, args...)}
}

// withModule setzt den Modulpfad in Struktur- und Formfehlern, die von Ops
// ohne Kenntnis ihres Moduls erzeugt wurden
func withModule(err error, path string) error {
	var se *ShapeError
	if errors.As(err, &se) && se.Module == "" {
		se.Module = path
	}
	var ste *StructureError
	if errors.As(err, &ste) && ste.Module == "" {
		ste.Module = path
	}
	return err
}
