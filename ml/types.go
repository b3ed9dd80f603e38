// types.go - Datentypen und Konstanten fuer Tensor-Operationen
// Dieses Modul definiert grundlegende Typen wie DType und Pooling-Parameter.
package ml

import "fmt"

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeOther DType = iota
	DTypeF32
	DTypeF16
	DTypeBF16
	DTypeI32
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeBF16:
		return "bf16"
	case DTypeI32:
		return "i32"
	default:
		return "other"
	}
}

// Size gibt die Breite eines Elements in Bytes zurueck
func (d DType) Size() int {
	switch d {
	case DTypeF16, DTypeBF16:
		return 2
	default:
		return 4
	}
}

// ParseDType liest einen DType aus seinem Namen ("f32", "f16", "bf16")
func ParseDType(s string) (DType, error) {
	switch s {
	case "", "f32", "float32":
		return DTypeF32, nil
	case "f16", "float16":
		return DTypeF16, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	case "i32", "int32":
		return DTypeI32, nil
	}
	return DTypeOther, fmt.Errorf("unsupported dtype %q", s)
}

// Window2D beschreibt ein 2D-Fenster (Kernel, Stride, Padding, Dilation).
// Werte sind jeweils (Hoehe, Breite).
type Window2D struct {
	Kernel   [2]int
	Stride   [2]int
	Pad      [2]int
	Dilation [2]int
}

// OutputSize berechnet die raeumliche Ausgabegroesse fuer eine Eingabe h x w
func (w Window2D) OutputSize(h, wd int) (int, int) {
	dh, dw := max(w.Dilation[0], 1), max(w.Dilation[1], 1)
	sh, sw := max(w.Stride[0], 1), max(w.Stride[1], 1)
	oh := (h+2*w.Pad[0]-dh*(w.Kernel[0]-1)-1)/sh + 1
	ow := (wd+2*w.Pad[1]-dw*(w.Kernel[1]-1)-1)/sw + 1
	return oh, ow
}
