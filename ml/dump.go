// dump.go - Lesbare Textdarstellung von Tensoren
//
// Dieses Modul enthaelt:
// - Dump: Formatiert einen Tensor verschachtelt nach Dimensionen
// - DumpOptions: Genauigkeit, Schwelle und Randelemente der Ausgabe
package ml

import (
	"strconv"
	"strings"
)

// DumpOptions veraendert die Ausgabe von Dump
type DumpOptions func(*dumpOptions)

// DumpWithPrecision setzt die Anzahl der Nachkommastellen
func DumpWithPrecision(n int) DumpOptions {
	return func(o *dumpOptions) { o.precision = n }
}

// DumpWithThreshold setzt die Elementzahl, ab der gekuerzt wird
func DumpWithThreshold(n int) DumpOptions {
	return func(o *dumpOptions) { o.threshold = n }
}

// DumpWithEdgeItems setzt die Anzahl der Elemente, die beim Kuerzen am Anfang
// und Ende jeder Dimension stehen bleiben
func DumpWithEdgeItems(n int) DumpOptions {
	return func(o *dumpOptions) { o.edge = n }
}

type dumpOptions struct {
	precision, threshold, edge int
}

// Dump formatiert t als verschachtelte Liste. Tensoren mit mehr als
// threshold Elementen zeigen pro Dimension nur die Randelemente.
func Dump(t Tensor, opts ...DumpOptions) string {
	o := dumpOptions{precision: 4, threshold: 1000, edge: 3}
	for _, fn := range opts {
		fn(&o)
	}

	shape := t.Shape()
	n := 1
	for _, d := range shape {
		n *= d
	}

	var cells []string
	switch t.DType() {
	case DTypeF32, DTypeF16, DTypeBF16:
		for _, v := range t.Floats() {
			cells = append(cells, strconv.FormatFloat(float64(v), 'f', o.precision, 32))
		}
	case DTypeI32:
		for _, v := range t.Ints() {
			cells = append(cells, strconv.FormatInt(int64(v), 10))
		}
	default:
		return "<unsupported " + t.DType().String() + ">"
	}

	if len(shape) == 0 {
		if len(cells) == 0 {
			return "[]"
		}
		return cells[0]
	}

	edge := o.edge
	if n <= o.threshold {
		edge = n
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}

	var sb strings.Builder
	writeDim(&sb, cells, shape, strides, 0, 0, edge)
	return sb.String()
}

// writeDim schreibt die Dimension dim ab Element offset
func writeDim(sb *strings.Builder, cells []string, shape, strides []int, dim, offset, edge int) {
	sb.WriteByte('[')
	last := dim == len(shape)-1
	sep := ", "
	if !last {
		sep = "," + strings.Repeat("\n", len(shape)-dim-1) + strings.Repeat(" ", dim+1)
	}

	size := shape[dim]
	for i := 0; i < size; i++ {
		if i > 0 {
			sb.WriteString(sep)
		}
		if size > 2*edge && i == edge {
			sb.WriteString("...")
			i = size - edge - 1
			continue
		}

		at := offset + i*strides[dim]
		if !last {
			writeDim(sb, cells, shape, strides, dim+1, at, edge)
			continue
		}
		if c := cells[at]; c[0] != '-' {
			sb.WriteByte(' ')
		}
		sb.WriteString(cells[at])
	}
	sb.WriteByte(']')
}
