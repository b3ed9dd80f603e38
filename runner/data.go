// data.go - Datenquellen fuer Suche und Training
//
// Enthaelt:
// - Batch: Bilder (N, C, H, W) mit Labels
// - Loader: Endlose Batch-Quelle mit Epochenlaenge
// - SliceLoader: In-Memory-Daten, nach Rang geteilt und gemischt
// - Synthetic: Erzeugt lernbare Zufallsdaten
// - ReadDataset/WriteDataset: Datensaetze als GGUF-Datei

package runner

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/archsearch/nas/fs/gguf"
)

// Batch ist ein Minibatch
type Batch struct {
	Images []float32
	Shape  []int
	Labels []int32
}

// Loader liefert Minibatches ohne Ende. Len ist die Anzahl der Beispiele
// einer Epoche.
type Loader interface {
	Next() (Batch, error)
	Len() int
}

// SliceLoader liefert Minibatches aus Daten im Speicher. Jeder Rang sieht
// nur die Beispiele i mit i % size == rank.
type SliceLoader struct {
	images []float32
	sample []int
	labels []int32

	batch   int
	order   []int
	pos     int
	shuffle bool
	rng     *rand.Rand
}

// NewSliceLoader erstellt einen Loader. shape ist die Form eines Beispiels
// (C, H, W).
func NewSliceLoader(images []float32, shape []int, labels []int32, batch int, comm Comm, seed uint64, shuffle bool) (*SliceLoader, error) {
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size == 0 || len(images) != size*len(labels) {
		return nil, fmt.Errorf("loader: %d values for %d samples of shape %v", len(images), len(labels), shape)
	}
	if batch < 1 {
		return nil, fmt.Errorf("loader: batch must be positive, got %d", batch)
	}
	if comm == nil {
		comm = Local{}
	}

	var order []int
	for i := comm.Rank(); i < len(labels); i += comm.Size() {
		order = append(order, i)
	}
	if len(order) < batch {
		return nil, fmt.Errorf("loader: shard of rank %d has %d samples, need at least %d", comm.Rank(), len(order), batch)
	}

	l := &SliceLoader{
		images:  images,
		sample:  slices.Clone(shape),
		labels:  labels,
		batch:   batch,
		order:   order,
		shuffle: shuffle,
		rng:     rand.New(rand.NewPCG(seed, uint64(comm.Rank()))),
	}
	if shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) { l.order[i], l.order[j] = l.order[j], l.order[i] })
	}
	return l, nil
}

func (l *SliceLoader) Len() int { return len(l.order) }

// Next gibt den naechsten Minibatch zurueck. Am Ende der Daten wird neu
// gemischt und von vorn begonnen.
func (l *SliceLoader) Next() (Batch, error) {
	size := len(l.images) / len(l.labels)
	b := Batch{
		Images: make([]float32, 0, l.batch*size),
		Shape:  append([]int{l.batch}, l.sample...),
		Labels: make([]int32, 0, l.batch),
	}

	for range l.batch {
		if l.pos == len(l.order) {
			l.pos = 0
			if l.shuffle {
				l.rng.Shuffle(len(l.order), func(i, j int) { l.order[i], l.order[j] = l.order[j], l.order[i] })
			}
		}
		i := l.order[l.pos]
		l.pos++
		b.Images = append(b.Images, l.images[i*size:(i+1)*size]...)
		b.Labels = append(b.Labels, l.labels[i])
	}
	return b, nil
}

// Synthetic erzeugt n Beispiele der Form shape mit Labels in [0, classes).
// Der Mittelwert eines Beispiels haengt vom Label ab, damit die Daten
// lernbar sind.
func Synthetic(n int, shape []int, classes int, seed uint64) ([]float32, []int32) {
	r := rand.New(rand.NewPCG(seed, 0x5eed))
	size := 1
	for _, d := range shape {
		size *= d
	}

	images := make([]float32, n*size)
	labels := make([]int32, n)
	for i := range n {
		k := r.IntN(classes)
		labels[i] = int32(k)
		offset := float64(k)/float64(max(classes-1, 1)) - 0.5
		for j := range size {
			images[i*size+j] = float32(r.NormFloat64()*0.5 + offset)
		}
	}
	return images, labels
}

// Tensor-Namen einer Datensatz-Datei
const (
	datasetImages = "images"
	datasetLabels = "labels"
)

// WriteDataset schreibt Bilder (N, C, H, W) und Labels als GGUF-Datei
func WriteDataset(path string, images []float32, shape []int, labels []int32) error {
	if len(shape) != 4 || shape[0] != len(labels) {
		return fmt.Errorf("dataset: shape %v does not match %d labels", shape, len(labels))
	}

	l := make([]float32, len(labels))
	for i, v := range labels {
		l[i] = float32(v)
	}
	return gguf.WriteFile(path, gguf.KV{"general.type": "dataset", "samples": uint64(len(labels))}, []*gguf.Tensor{
		gguf.NewTensor(datasetImages, gguf.TensorTypeF32, shape, images),
		gguf.NewTensor(datasetLabels, gguf.TensorTypeF32, []int{len(labels)}, l),
	})
}

// ReadDataset liest eine mit WriteDataset geschriebene Datei
func ReadDataset(path string) (images []float32, shape []int, labels []int32, err error) {
	f, err := gguf.ReadFile(path)
	if err != nil {
		return nil, nil, nil, err
	}

	it, ok := f.Tensor(datasetImages)
	if !ok {
		return nil, nil, nil, fmt.Errorf("dataset %s: missing tensor %q", path, datasetImages)
	}
	lt, ok := f.Tensor(datasetLabels)
	if !ok {
		return nil, nil, nil, fmt.Errorf("dataset %s: missing tensor %q", path, datasetLabels)
	}
	if len(it.Shape) != 4 || len(lt.Shape) != 1 || it.Shape[0] != lt.Shape[0] {
		return nil, nil, nil, fmt.Errorf("dataset %s: images %v do not match labels %v", path, it.Shape, lt.Shape)
	}

	labels = make([]int32, len(lt.Data))
	for i, v := range lt.Data {
		labels[i] = int32(v)
	}
	return it.Data, it.Shape, labels, nil
}

// OpenLoaders erstellt Trainings- und Validierungs-Loader. Ohne Datensatz
// werden synthetische Daten verwendet; die Daten werden gemaess
// cfg.TrainPortion geteilt.
func OpenLoaders(cfg Config, comm Comm) (train, valid Loader, err error) {
	sample := cfg.Network.Input[1:]

	var images []float32
	var labels []int32
	if cfg.Dataset != "" {
		var shape []int
		images, shape, labels, err = ReadDataset(cfg.Dataset)
		if err != nil {
			return nil, nil, err
		}
		if !slices.Equal(shape[1:], sample) {
			return nil, nil, fmt.Errorf("dataset %s: samples have shape %v, network expects %v", cfg.Dataset, shape[1:], sample)
		}
		for _, l := range labels {
			if l < 0 || int(l) >= cfg.Network.Classes {
				return nil, nil, fmt.Errorf("dataset %s: label %d out of range [0,%d)", cfg.Dataset, l, cfg.Network.Classes)
			}
		}
	} else {
		images, labels = Synthetic(cfg.SyntheticSamples, sample, cfg.Network.Classes, cfg.Seed)
	}

	if len(labels) == 0 {
		return nil, nil, fmt.Errorf("dataset %s: no samples", cfg.Dataset)
	}
	size := len(images) / len(labels)
	split := int(cfg.TrainPortion * float64(len(labels)))
	train, err = NewSliceLoader(images[:split*size], sample, labels[:split], cfg.MiniBatchTrain, comm, cfg.Seed, true)
	if err != nil {
		return nil, nil, fmt.Errorf("train %w", err)
	}
	valid, err = NewSliceLoader(images[split*size:], sample, labels[split:], cfg.MiniBatchValid, comm, cfg.Seed+1, true)
	if err != nil {
		return nil, nil, fmt.Errorf("valid %w", err)
	}
	return train, valid, nil
}
