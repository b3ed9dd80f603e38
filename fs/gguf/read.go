// Package gguf - GGUF Read Funktionen
//
// Dieses Modul enthaelt:
// - File: geparste Datei mit Metadaten und Tensors
// - Open/ReadFile: liest Header, KV-Paare, Tensor-Infos und Daten
// - read[T], readString, readArray: Low-Level Deserialisierung
package gguf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// File ist eine vollstaendig gelesene GGUF-Datei
type File struct {
	Magic   [4]byte
	Version uint32

	KV      KV
	Tensors []*Tensor

	byName map[string]*Tensor
}

// Tensor sucht einen Tensor nach Name
func (f *File) Tensor(name string) (*Tensor, bool) {
	t, ok := f.byName[name]
	return t, ok
}

// Architecture gibt general.architecture zurueck
func (f *File) Architecture() string {
	return f.KV.String("general.architecture")
}

// countingReader zaehlt die gelesenen Bytes fuer die Offset-Berechnung
type countingReader struct {
	r      *bufio.Reader
	offset int64
	bts    []byte
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.offset += int64(n)
	return n, err
}

// ReadFile oeffnet path und liest die Datei vollstaendig
func ReadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(f, info.Size())
}

// Read liest eine GGUF-Datei der Groesse size aus ra
func Read(ra io.ReaderAt, size int64) (*File, error) {
	r := &countingReader{
		r:   bufio.NewReaderSize(io.NewSectionReader(ra, 0, size), 32<<10),
		bts: make([]byte, 4096),
	}

	f := &File{KV: KV{}, byName: make(map[string]*Tensor)}
	if err := binary.Read(r, binary.LittleEndian, &f.Magic); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if !bytes.Equal(f.Magic[:], []byte("GGUF")) {
		return nil, fmt.Errorf("%w file type %v", ErrUnsupported, f.Magic)
	}

	if err := binary.Read(r, binary.LittleEndian, &f.Version); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.Version < 2 || f.Version > 3 {
		return nil, fmt.Errorf("%w version %v", ErrUnsupported, f.Version)
	}

	numTensors, err := read[uint64](r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	numKV, err := read[uint64](r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	for range numKV {
		key, value, err := readKeyValue(r)
		if err != nil {
			return nil, fmt.Errorf("%w: key value: %v", ErrCorrupt, err)
		}
		f.KV[key] = value
	}

	for range numTensors {
		t, err := readTensorInfo(r)
		if err != nil {
			return nil, fmt.Errorf("%w: tensor info: %v", ErrCorrupt, err)
		}
		if _, ok := f.byName[t.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate tensor %q", ErrCorrupt, t.Name)
		}
		f.Tensors = append(f.Tensors, t)
		f.byName[t.Name] = t
	}

	alignment := int64(f.KV.Uint("general.alignment", 32))
	offset := r.offset + padding(r.offset, alignment)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range f.Tensors {
		start := offset + int64(t.Offset)
		n := int64(t.Size())
		if n > 0 && start+n > size {
			return nil, fmt.Errorf("%w: tensor %s exceeds file size", ErrCorrupt, t.Name)
		}

		g.Go(func() error {
			bts := make([]byte, n)
			if m, err := ra.ReadAt(bts, start); m < len(bts) {
				return fmt.Errorf("tensor %s: %w", t.Name, err)
			}
			data, err := decode(t.Type, bts)
			if err != nil {
				return err
			}
			t.Data = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return f, nil
}

// readTensorInfo liest die Metadaten eines einzelnen Tensors
func readTensorInfo(r *countingReader) (*Tensor, error) {
	name, err := readString(r)
	if err != nil {
		return nil, err
	}

	dims, err := read[uint32](r)
	if err != nil {
		return nil, err
	}

	shape := make([]uint64, dims)
	for i := range dims {
		shape[i], err = read[uint64](r)
		if err != nil {
			return nil, err
		}
	}

	typ, err := read[uint32](r)
	if err != nil {
		return nil, err
	}
	if TensorType(typ).TypeSize() == 0 {
		return nil, fmt.Errorf("%w tensor type %d for %s", ErrUnsupported, typ, name)
	}

	offset, err := read[uint64](r)
	if err != nil {
		return nil, err
	}

	return &Tensor{
		Name:   name,
		Type:   TensorType(typ),
		Shape:  rowMajorShape(shape),
		Offset: offset,
	}, nil
}

// readKeyValue liest ein einzelnes Key-Value Paar
func readKeyValue(r *countingReader) (string, any, error) {
	key, err := readString(r)
	if err != nil {
		return "", nil, err
	}

	t, err := read[uint32](r)
	if err != nil {
		return "", nil, err
	}

	value, err := func() (any, error) {
		switch t {
		case typeUint8:
			return read[uint8](r)
		case typeInt8:
			return read[int8](r)
		case typeUint16:
			return read[uint16](r)
		case typeInt16:
			return read[int16](r)
		case typeUint32:
			return read[uint32](r)
		case typeInt32:
			return read[int32](r)
		case typeUint64:
			return read[uint64](r)
		case typeInt64:
			return read[int64](r)
		case typeFloat32:
			return read[float32](r)
		case typeFloat64:
			return read[float64](r)
		case typeBool:
			return read[bool](r)
		case typeString:
			return readString(r)
		case typeArray:
			return readArray(r)
		default:
			return nil, fmt.Errorf("%w type %d", ErrUnsupported, t)
		}
	}()
	if err != nil {
		return "", nil, err
	}

	return key, value, nil
}

// read liest einen typisierten Wert aus dem Reader
func read[T any](r *countingReader) (t T, err error) {
	err = binary.Read(r, binary.LittleEndian, &t)
	return t, err
}

// readString liest einen String aus dem Reader
func readString(r *countingReader) (string, error) {
	n, err := read[uint64](r)
	if err != nil {
		return "", err
	}
	if n > 1<<30 {
		return "", fmt.Errorf("string length %d out of range", n)
	}

	if int(n) > len(r.bts) {
		r.bts = make([]byte, n)
	}

	bts := r.bts[:n]
	if _, err := io.ReadFull(r, bts); err != nil {
		return "", err
	}
	defer clear(bts)

	return string(bts), nil
}

// readArray liest ein typisiertes Array aus dem Reader
func readArray(r *countingReader) (any, error) {
	t, err := read[uint32](r)
	if err != nil {
		return nil, err
	}

	n, err := read[uint64](r)
	if err != nil {
		return nil, err
	}
	if n > 1<<30 {
		return nil, fmt.Errorf("array length %d out of range", n)
	}

	switch t {
	case typeUint8:
		return readArrayData[uint8](r, n)
	case typeInt8:
		return readArrayData[int8](r, n)
	case typeUint16:
		return readArrayData[uint16](r, n)
	case typeInt16:
		return readArrayData[int16](r, n)
	case typeUint32:
		return readArrayData[uint32](r, n)
	case typeInt32:
		return readArrayData[int32](r, n)
	case typeUint64:
		return readArrayData[uint64](r, n)
	case typeInt64:
		return readArrayData[int64](r, n)
	case typeFloat32:
		return readArrayData[float32](r, n)
	case typeFloat64:
		return readArrayData[float64](r, n)
	case typeBool:
		return readArrayData[bool](r, n)
	case typeString:
		return readArrayString(r, n)
	default:
		return nil, fmt.Errorf("%w type %d", ErrUnsupported, t)
	}
}

// readArrayData liest typisierte Array-Daten
func readArrayData[T any](r *countingReader, n uint64) ([]T, error) {
	s := make([]T, n)
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}

// readArrayString liest ein String-Array
func readArrayString(r *countingReader, n uint64) ([]string, error) {
	s := make([]string, n)
	for i := range n {
		e, err := readString(r)
		if err != nil {
			return nil, err
		}
		s[i] = e
	}
	return s, nil
}
