// MODUL: data_test
// ZWECK: Tests fuer SliceLoader, synthetische Daten und Datensatz-Dateien
// INPUT: Kleine In-Memory-Datensaetze
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Schreibt temporaere GGUF-Dateien
// ABHAENGIGKEITEN: testify, go-cmp
// HINWEISE: fakeComm simuliert Rang und Weltgroesse ohne Kommunikation

package runner

import (
	"context"
	"path/filepath"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/graph"
)

type fakeComm struct {
	rank, size int
}

func (c fakeComm) Rank() int                                          { return c.rank }
func (c fakeComm) Size() int                                          { return c.size }
func (c fakeComm) AllReduce(ctx context.Context, _ [][]float32) error { return ctx.Err() }

// dataset erzeugt n Beispiele der Form (1, 1, 1), deren Wert der Index ist
func dataset(n int) ([]float32, []int32) {
	images := make([]float32, n)
	labels := make([]int32, n)
	for i := range n {
		images[i] = float32(i)
		labels[i] = int32(i % 3)
	}
	return images, labels
}

func TestSliceLoaderShardsByRank(t *testing.T) {
	images, labels := dataset(10)

	seen := make(map[float32]int)
	for rank := range 3 {
		l, err := NewSliceLoader(images, []int{1, 1, 1}, labels, 1, fakeComm{rank, 3}, 1, false)
		require.NoError(t, err)

		for range l.Len() {
			b, err := l.Next()
			require.NoError(t, err)
			v := b.Images[0]
			assert.Equal(t, rank, int(v)%3, "Beispiel %v gehoert nicht zu Rang %d", v, rank)
			seen[v]++
		}
	}

	assert.Len(t, seen, 10, "jedes Beispiel genau einmal ueber alle Raenge")
	for v, n := range seen {
		assert.Equal(t, 1, n, "Beispiel %v", v)
	}
}

func TestSliceLoaderWrapsAround(t *testing.T) {
	images, labels := dataset(5)
	l, err := NewSliceLoader(images, []int{1, 1, 1}, labels, 2, nil, 1, false)
	require.NoError(t, err)
	assert.Equal(t, 5, l.Len())

	var got []float32
	for range 4 {
		b, err := l.Next()
		require.NoError(t, err)
		assert.Equal(t, []int{2, 1, 1, 1}, b.Shape)
		assert.Len(t, b.Labels, 2)
		got = append(got, b.Images...)
	}
	if diff := cmp.Diff([]float32{0, 1, 2, 3, 4, 0, 1, 2}, got); diff != "" {
		t.Errorf("Reihenfolge ohne Mischen (-want +got):\n%s", diff)
	}
}

func TestSliceLoaderShuffleIsPermutation(t *testing.T) {
	images, labels := dataset(12)
	l, err := NewSliceLoader(images, []int{1, 1, 1}, labels, 4, nil, 9, true)
	require.NoError(t, err)

	var got []float32
	for range 3 {
		b, err := l.Next()
		require.NoError(t, err)
		for i, v := range b.Images {
			assert.Equal(t, int32(int(v)%3), b.Labels[i], "Label muss zum Bild passen")
		}
		got = append(got, b.Images...)
	}
	slices.Sort(got)
	want, _ := dataset(12)
	assert.Equal(t, want, got)
}

func TestSliceLoaderErrors(t *testing.T) {
	images, labels := dataset(4)

	_, err := NewSliceLoader(images, []int{2, 1, 1}, labels, 1, nil, 1, false)
	assert.Error(t, err, "Anzahl Werte passt nicht zur Form")

	_, err = NewSliceLoader(images, []int{1, 1, 1}, labels, 0, nil, 1, false)
	assert.Error(t, err, "Batch muss positiv sein")

	_, err = NewSliceLoader(images, []int{1, 1, 1}, labels, 3, fakeComm{1, 2}, 1, false)
	assert.ErrorContains(t, err, "rank 1")
}

func TestSyntheticIsDeterministic(t *testing.T) {
	a, la := Synthetic(8, []int{3, 4, 4}, 5, 42)
	b, lb := Synthetic(8, []int{3, 4, 4}, 5, 42)
	c, _ := Synthetic(8, []int{3, 4, 4}, 5, 43)

	assert.Len(t, a, 8*3*4*4)
	assert.Equal(t, a, b)
	assert.Equal(t, la, lb)
	assert.NotEqual(t, a, c)
	for _, l := range la {
		assert.True(t, l >= 0 && l < 5, "Label %d ausserhalb [0,5)", l)
	}
}

func TestDatasetRoundTrip(t *testing.T) {
	images, labels := Synthetic(6, []int{1, 2, 2}, 3, 1)
	path := filepath.Join(t.TempDir(), "data.gguf")
	require.NoError(t, WriteDataset(path, images, []int{6, 1, 2, 2}, labels))

	gotImages, shape, gotLabels, err := ReadDataset(path)
	require.NoError(t, err)
	assert.Equal(t, []int{6, 1, 2, 2}, shape)
	assert.Equal(t, images, gotImages)
	assert.Equal(t, labels, gotLabels)

	assert.Error(t, WriteDataset(path, images, []int{5, 1, 2, 2}, labels))
}

func TestOpenLoadersSplitsByPortion(t *testing.T) {
	cfg := baseConfig(t, graph.ModeFull)
	require.NoError(t, cfg.Validate())

	train, valid, err := OpenLoaders(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 16, train.Len())
	assert.Equal(t, 4, valid.Len())

	b, err := train.Next()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 8, 8}, b.Shape)
}

func TestOpenLoadersFromDataset(t *testing.T) {
	cfg := baseConfig(t, graph.ModeFull)
	require.NoError(t, cfg.Validate())

	images, labels := Synthetic(10, []int{3, 8, 8}, 3, 1)
	cfg.Dataset = filepath.Join(t.TempDir(), "data.gguf")
	require.NoError(t, WriteDataset(cfg.Dataset, images, []int{10, 3, 8, 8}, labels))

	train, valid, err := OpenLoaders(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 8, train.Len())
	assert.Equal(t, 2, valid.Len())

	cfg.Network.Classes = 1
	_, _, err = OpenLoaders(cfg, nil)
	assert.ErrorContains(t, err, "out of range", "Labels muessen zu den Klassen passen")
}
