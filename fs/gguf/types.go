// Package gguf - GGUF-Teilmenge fuer Gewichts- und Zustandsdateien
//
// Dieses Modul enthaelt:
// - Type-Konstanten fuer KV-Werte
// - TensorType: F32, F16, BF16 mit Elementgroesse und ml.DType-Abbildung
// - KV: Metadaten mit typisierten Zugriffen
package gguf

import (
	"errors"
	"fmt"
	"strings"

	"github.com/archsearch/nas/ml"
)

// Type-Konstanten fuer GGUF-Datentypen
const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

// Architecture ist der Wert von general.architecture in allen Dateien
const Architecture = "nas"

var (
	// ErrUnsupported wird bei nicht unterstuetzten Formaten oder Versionen zurueckgegeben
	ErrUnsupported = errors.New("unsupported")

	// ErrCorrupt wird bei inkonsistenten Dateien zurueckgegeben
	ErrCorrupt = errors.New("corrupt gguf file")
)

// TensorType ist die ggml-Typnummer eines Tensors
type TensorType uint32

const (
	TensorTypeF32  TensorType = 0
	TensorTypeF16  TensorType = 1
	TensorTypeBF16 TensorType = 30
)

func (t TensorType) String() string {
	switch t {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeBF16:
		return "BF16"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}

// TypeSize gibt die Groesse eines Elements in Bytes zurueck, 0 fuer
// unbekannte Typen
func (t TensorType) TypeSize() uint64 {
	switch t {
	case TensorTypeF32:
		return 4
	case TensorTypeF16, TensorTypeBF16:
		return 2
	default:
		return 0
	}
}

// TensorTypeFor bildet einen ml.DType auf den Speichertyp ab
func TensorTypeFor(d ml.DType) (TensorType, error) {
	switch d {
	case ml.DTypeF32:
		return TensorTypeF32, nil
	case ml.DTypeF16:
		return TensorTypeF16, nil
	case ml.DTypeBF16:
		return TensorTypeBF16, nil
	default:
		return 0, fmt.Errorf("%w storage dtype %s", ErrUnsupported, d)
	}
}

// KV sind die Metadaten einer Datei. Schluessel ohne "general."-Prefix
// bekommen beim Schreiben den Architektur-Prefix.
type KV map[string]any

func (kv KV) key(k string) string {
	if strings.HasPrefix(k, "general.") || strings.HasPrefix(k, Architecture+".") {
		return k
	}
	return Architecture + "." + k
}

// Value sucht einen Wert mit oder ohne Architektur-Prefix
func (kv KV) Value(k string) any {
	if v, ok := kv[k]; ok {
		return v
	}
	return kv[kv.key(k)]
}

// String gibt einen String-Wert zurueck, sonst den Default
func (kv KV) String(k string, defaultValue ...string) string {
	if s, ok := kv.Value(k).(string); ok {
		return s
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

// Uint gibt einen ganzzahligen Wert zurueck, sonst den Default
func (kv KV) Uint(k string, defaultValue ...uint64) uint64 {
	switch v := kv.Value(k).(type) {
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case int32:
		return uint64(max(v, 0))
	case int64:
		return uint64(max(v, 0))
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return 0
}

// Strings gibt ein String-Array zurueck
func (kv KV) Strings(k string) []string {
	s, _ := kv.Value(k).([]string)
	return s
}
