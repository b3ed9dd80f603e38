// Package gguf - GGUF Write Operations
//
// Dieses Modul enthaelt Funktionen zum Schreiben von GGUF-Dateien:
// - Write: Schreibt komplettes GGUF-File mit KV und Tensors (V3)
// - WriteFile: Schreibt atomar ueber eine temporaere Datei
// - writeKV / writeTensorInfo: Metadaten-Serialisierung
package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Write schreibt ein GGUF-File mit KV-Paaren und Tensors. Die Tensors
// werden in der uebergebenen Reihenfolge abgelegt; ihre Offsets werden
// gesetzt.
func Write(f *os.File, kv KV, ts []*Tensor) error {
	kv = maps.Clone(kv)
	if kv == nil {
		kv = KV{}
	}
	if _, ok := kv["general.architecture"]; !ok {
		kv["general.architecture"] = Architecture
	}

	names := make(map[string]bool, len(ts))
	for _, t := range ts {
		if names[t.Name] {
			return fmt.Errorf("duplicate tensor %q", t.Name)
		}
		names[t.Name] = true
	}

	// Magic, Version, Tensor Count, KV Count
	for _, v := range []any{[]byte("GGUF"), uint32(3), uint64(len(ts)), uint64(len(kv))} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, key := range slices.Sorted(maps.Keys(kv)) {
		if err := writeKV(f, kv.key(key), kv[key]); err != nil {
			return err
		}
	}

	alignment := kv.Uint("general.alignment", 32)

	// Offsets berechnen und Tensor-Infos schreiben
	var s uint64
	for _, t := range ts {
		t.Offset = s
		if err := writeTensorInfo(f, t); err != nil {
			return err
		}
		s += t.Size()
		s += uint64(padding(int64(s), int64(alignment)))
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += padding(offset, int64(alignment))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.Offset))
		g.Go(func() error {
			_, err := t.WriteTo(w)
			return err
		})
	}
	return g.Wait()
}

// WriteFile schreibt nach path.tmp und benennt danach um
func WriteFile(path string, kv KV, ts []*Tensor) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := Write(f, kv, ts); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	slog.Debug("gguf: wrote file", "path", path, "tensors", len(ts))
	return os.Rename(tmp, path)
}

// writeGGUF schreibt einen typisierten Wert mit Typ-Prefix
func writeGGUF[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

// writeString schreibt einen String mit Laenge
func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.Copy(w, strings.NewReader(s))
	return err
}

// writeArray schreibt ein Array mit Typ-Prefix
func writeArray[S ~[]E, E any](w io.Writer, t uint32, s S) error {
	for _, v := range []any{typeArray, t, uint64(len(s))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	// Strings muessen einzeln geschrieben werden
	if t == typeString {
		for _, e := range any(s).([]string) {
			if err := writeString(w, e); err != nil {
				return err
			}
		}
		return nil
	}

	return binary.Write(w, binary.LittleEndian, s)
}

// writeKV schreibt ein Key-Value Paar
func writeKV(w io.Writer, k string, v any) error {
	slog.Debug(k, "type", fmt.Sprintf("%T", v))

	if err := writeString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case int32:
		return writeGGUF(w, typeInt32, v)
	case int64:
		return writeGGUF(w, typeInt64, v)
	case uint32:
		return writeGGUF(w, typeUint32, v)
	case uint64:
		return writeGGUF(w, typeUint64, v)
	case float32:
		return writeGGUF(w, typeFloat32, v)
	case float64:
		return writeGGUF(w, typeFloat64, v)
	case bool:
		return writeGGUF(w, typeBool, v)
	case string:
		if err := binary.Write(w, binary.LittleEndian, typeString); err != nil {
			return err
		}
		return writeString(w, v)
	case []int32:
		return writeArray(w, typeInt32, v)
	case []int64:
		return writeArray(w, typeInt64, v)
	case []uint32:
		return writeArray(w, typeUint32, v)
	case []float32:
		return writeArray(w, typeFloat32, v)
	case []string:
		return writeArray(w, typeString, v)
	case []bool:
		return writeArray(w, typeBool, v)
	default:
		return fmt.Errorf("improper type for '%s'", k)
	}
}

// writeTensorInfo schreibt die Tensor-Metadaten
func writeTensorInfo(w io.Writer, t *Tensor) error {
	slog.Debug(t.Name, "type", t.Type, "shape", t.Shape, "offset", t.Offset)

	if t.Type.TypeSize() == 0 {
		return fmt.Errorf("%w tensor type %s for %s", ErrUnsupported, t.Type, t.Name)
	}

	if err := writeString(w, t.Name); err != nil {
		return err
	}

	dims := ggmlShape(t.Shape)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(dims))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dims); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(t.Type)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Offset)
}

// padding berechnet das Padding fuer Alignment
func padding(offset, align int64) int64 {
	return (align - offset%align) % align
}
