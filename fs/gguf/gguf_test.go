// MODUL: gguf_test
// ZWECK: Unit-Tests fuer Schreiben und Lesen von GGUF-Gewichtsdateien
// INPUT: Keine
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Schreibt temporaere Dateien in t.TempDir()
// ABHAENGIGKEITEN: testify, go-cmp
// HINWEISE: F16/BF16 werden mit exakt darstellbaren Werten geprueft

package gguf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/ml"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.gguf")

	ts := []*Tensor{
		NewTensor("net/conv/W", TensorTypeF32, []int{2, 1, 3}, []float32{1, 2, 3, 4, 5, 0.1}),
		NewTensor("net/bn/beta", TensorTypeF16, []int{3}, []float32{0.5, -2, 1024}),
		NewTensor("net/join/join", TensorTypeBF16, []int{2}, []float32{0.25, -8}),
		NewTensor("empty", TensorTypeF32, []int{0}, nil),
	}
	kv := KV{
		"epoch":  uint32(7),
		"dtype":  "f32",
		"names":  []string{"a", "b"},
		"sizes":  []int32{1, 2},
		"lr":     float32(0.5),
		"active": true,
	}
	require.NoError(t, WriteFile(path, kv, ts))

	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))

	f, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(3), f.Version)
	assert.Equal(t, Architecture, f.Architecture())
	assert.Equal(t, uint64(7), f.KV.Uint("epoch"))
	assert.Equal(t, uint64(7), f.KV.Uint("nas.epoch"))
	assert.Equal(t, "f32", f.KV.String("dtype"))
	assert.Equal(t, []string{"a", "b"}, f.KV.Strings("names"))
	assert.Equal(t, []int32{1, 2}, f.KV.Value("sizes"))
	assert.Equal(t, float32(0.5), f.KV.Value("lr"))
	assert.Equal(t, true, f.KV.Value("active"))
	assert.Equal(t, uint64(42), f.KV.Uint("missing", 42))

	require.Len(t, f.Tensors, len(ts))
	for _, want := range ts {
		got, ok := f.Tensor(want.Name)
		require.True(t, ok, want.Name)
		assert.Equal(t, want.Type, got.Type)
		if diff := cmp.Diff(want.Shape, got.Shape); diff != "" {
			t.Errorf("%s: Form weicht ab (-want +got):\n%s", want.Name, diff)
		}
		if len(want.Data) == 0 {
			assert.Empty(t, got.Data)
			continue
		}
		if diff := cmp.Diff(want.Data, got.Data); diff != "" {
			t.Errorf("%s: Daten weichen ab (-want +got):\n%s", want.Name, diff)
		}
	}
}

func TestReducedPrecisionRounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weights.gguf")
	require.NoError(t, WriteFile(path, nil, []*Tensor{
		NewTensor("f16", TensorTypeF16, []int{1}, []float32{0.1}),
		NewTensor("bf16", TensorTypeBF16, []int{1}, []float32{0.1}),
	}))

	f, err := ReadFile(path)
	require.NoError(t, err)

	f16, _ := f.Tensor("f16")
	bf16, _ := f.Tensor("bf16")
	assert.InDelta(t, 0.1, f16.Data[0], 1e-3)
	assert.InDelta(t, 0.1, bf16.Data[0], 1e-2)
	assert.NotEqual(t, float32(0.1), f16.Data[0])
}

func TestWriteRejectsDuplicatesAndBadData(t *testing.T) {
	dir := t.TempDir()

	err := WriteFile(filepath.Join(dir, "a.gguf"), nil, []*Tensor{
		NewTensor("x", TensorTypeF32, []int{1}, []float32{1}),
		NewTensor("x", TensorTypeF32, []int{1}, []float32{1}),
	})
	assert.ErrorContains(t, err, "duplicate")

	err = WriteFile(filepath.Join(dir, "b.gguf"), nil, []*Tensor{
		NewTensor("x", TensorTypeF32, []int{2}, []float32{1}),
	})
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, "b.gguf"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.gguf")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o644))
	_, err := ReadFile(bad)
	assert.ErrorIs(t, err, ErrUnsupported)

	path := filepath.Join(dir, "weights.gguf")
	require.NoError(t, WriteFile(path, nil, []*Tensor{
		NewTensor("x", TensorTypeF32, []int{64}, make([]float32, 64)),
	}))
	bts, err := os.ReadFile(path)
	require.NoError(t, err)

	truncated := filepath.Join(dir, "truncated.gguf")
	require.NoError(t, os.WriteFile(truncated, bts[:len(bts)-16], 0o644))
	_, err = ReadFile(truncated)
	assert.ErrorIs(t, err, ErrCorrupt)

	header := filepath.Join(dir, "header.gguf")
	require.NoError(t, os.WriteFile(header, bts[:12], 0o644))
	_, err = ReadFile(header)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTensorTypeFor(t *testing.T) {
	for d, want := range map[ml.DType]TensorType{
		ml.DTypeF32:  TensorTypeF32,
		ml.DTypeF16:  TensorTypeF16,
		ml.DTypeBF16: TensorTypeBF16,
	} {
		got, err := TensorTypeFor(d)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := TensorTypeFor(ml.DTypeI32)
	assert.ErrorIs(t, err, ErrUnsupported)
}
