// Package gguf - Tensor-Daten
//
// Dieses Modul enthaelt:
// - Tensor: Name, Form, Speichertyp und float32-Werte
// - WriteTo: Kodierung nach F32, F16 (x448/float16) oder BF16 (go-bfloat16)
// - decode: Gegenrichtung beim Lesen
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// Tensor ist ein benannter Tensor. Shape ist row-major (aeusserste Dimension
// zuerst); in der Datei stehen die Dimensionen wie bei ggml umgekehrt.
type Tensor struct {
	Name   string
	Type   TensorType
	Shape  []int
	Data   []float32
	Offset uint64
}

// NewTensor erstellt einen Tensor; data wird nicht kopiert
func NewTensor(name string, typ TensorType, shape []int, data []float32) *Tensor {
	return &Tensor{Name: name, Type: typ, Shape: slices.Clone(shape), Data: data}
}

// Elements gibt die Elementzahl laut Form zurueck
func (t *Tensor) Elements() uint64 {
	n := uint64(1)
	for _, d := range t.Shape {
		n *= uint64(d)
	}
	return n
}

// Size gibt die Groesse der kodierten Daten in Bytes zurueck
func (t *Tensor) Size() uint64 {
	return t.Elements() * t.Type.TypeSize()
}

// WriteTo kodiert die Daten im Speichertyp des Tensors
func (t *Tensor) WriteTo(w io.Writer) (int64, error) {
	if uint64(len(t.Data)) != t.Elements() {
		return 0, fmt.Errorf("tensor %s: %d values for shape %v", t.Name, len(t.Data), t.Shape)
	}

	var bts []byte
	switch t.Type {
	case TensorTypeF32:
		bts = make([]byte, 4*len(t.Data))
		for i, f := range t.Data {
			binary.LittleEndian.PutUint32(bts[4*i:], math.Float32bits(f))
		}
	case TensorTypeF16:
		bts = make([]byte, 2*len(t.Data))
		for i, f := range t.Data {
			binary.LittleEndian.PutUint16(bts[2*i:], float16.Fromfloat32(f).Bits())
		}
	case TensorTypeBF16:
		bts = bfloat16.EncodeFloat32(t.Data)
	default:
		return 0, fmt.Errorf("%w tensor type %s", ErrUnsupported, t.Type)
	}

	n, err := w.Write(bts)
	return int64(n), err
}

// decode wandelt kodierte Daten zurueck in float32
func decode(typ TensorType, bts []byte) ([]float32, error) {
	switch typ {
	case TensorTypeF32:
		s := make([]float32, len(bts)/4)
		for i := range s {
			s[i] = math.Float32frombits(binary.LittleEndian.Uint32(bts[4*i:]))
		}
		return s, nil
	case TensorTypeF16:
		s := make([]float32, len(bts)/2)
		for i := range s {
			s[i] = float16.Frombits(binary.LittleEndian.Uint16(bts[2*i:])).Float32()
		}
		return s, nil
	case TensorTypeBF16:
		return bfloat16.DecodeFloat32(bts), nil
	default:
		return nil, fmt.Errorf("%w tensor type %s", ErrUnsupported, typ)
	}
}

// ggmlShape dreht die Form in die Reihenfolge der Datei
func ggmlShape(shape []int) []uint64 {
	out := make([]uint64, len(shape))
	for i, d := range shape {
		out[len(shape)-1-i] = uint64(d)
	}
	return out
}

func rowMajorShape(dims []uint64) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[len(dims)-1-i] = int(d)
	}
	return out
}
