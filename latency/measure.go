// measure.go - Messung isolierter Module
//
// Dieses Modul enthaelt:
// - Measurer: misst Module auf einem Backend mit Warmup und Wiederholungen
// - Memo-Cache nach Signatur und Geraet, optional persistente Tabelle
package latency

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/archsearch/nas/envconfig"
	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/logutil"
	"github.com/archsearch/nas/ml"
)

// Measurer misst Module, indem es sie isoliert und wiederholt auswertet
type Measurer struct {
	backend ml.Backend
	runs    int
	warmup  int
	table   *Table

	mu   sync.Mutex
	memo map[string]float64
}

// Option konfiguriert einen Measurer
type Option func(*Measurer)

// WithRuns setzt die Anzahl gemessener Wiederholungen
func WithRuns(n int) Option {
	return func(m *Measurer) { m.runs = n }
}

// WithWarmup setzt die Anzahl verworfener Laeufe (mindestens 1)
func WithWarmup(n int) Option {
	return func(m *Measurer) { m.warmup = n }
}

// WithTable speichert und liest Messungen aus t
func WithTable(t *Table) Option {
	return func(m *Measurer) { m.table = t }
}

// NewMeasurer erstellt einen Measurer fuer b. Defaults kommen aus
// NAS_LATENCY_RUNS und NAS_LATENCY_WARMUP.
func NewMeasurer(b ml.Backend, opts ...Option) *Measurer {
	m := &Measurer{
		backend: b,
		runs:    int(envconfig.LatencyRuns()),
		warmup:  int(envconfig.LatencyWarmup()),
		memo:    make(map[string]float64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.runs = max(m.runs, 1)
	m.warmup = max(m.warmup, 1)
	return m
}

// Device gibt das Geraet der Messungen zurueck
func (e *Measurer) Device() string {
	return e.backend.Device().String()
}

// Predict gibt die mittlere Laufzeit eines Forward-Passes von m in Sekunden
// zurueck
func (e *Measurer) Predict(ctx context.Context, m *graph.Module) (float64, error) {
	if err := measurable(m); err != nil {
		return 0, err
	}

	sig, err := m.Signature()
	if err != nil {
		return 0, &MeasurementError{Module: m.Path(), Reason: "no signature", Err: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	device := e.Device()
	key := sig + "|" + device
	if s, ok := e.memo[key]; ok {
		logutil.Trace("latency: memo hit", "module", m.Path(), "signature", sig)
		return s, nil
	}

	if e.table != nil {
		entry, ok, err := e.table.Get(ctx, sig, device)
		if err != nil {
			slog.Warn("latency: table lookup failed", "error", err)
		} else if ok {
			e.memo[key] = entry.Seconds
			return entry.Seconds, nil
		}
	}

	s, err := e.measure(ctx, m)
	if err != nil {
		return 0, &MeasurementError{Module: m.Path(), Signature: sig, Reason: "measurement failed", Err: err}
	}
	e.memo[key] = s

	slog.Debug("latency: measured", "module", m.Path(), "signature", sig, "device", device, "seconds", s)
	if e.table != nil {
		if err := e.table.Put(ctx, Entry{Signature: sig, Device: device, Runs: e.runs, Seconds: s, MeasuredAt: time.Now().UTC()}); err != nil {
			slog.Warn("latency: table update failed", "error", err)
		}
	}
	return s, nil
}

// measure wertet den isolierten Graphen aus und verwirft die Warmup-Laeufe
func (e *Measurer) measure(ctx context.Context, m *graph.Module) (seconds float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()

	g, err := graph.Isolate(m)
	if err != nil {
		return 0, err
	}
	g.SetTraining(false)

	mctx := e.backend.NewContext()
	defer mctx.Close()

	r := rand.New(rand.NewPCG(1, 1))
	for _, in := range g.Members() {
		if in.Kind() != "input" {
			continue
		}
		shape, err := in.Shape()
		if err != nil {
			return 0, err
		}
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = float32(r.NormFloat64())
		}
		if err := in.SetValue(mctx.FromFloats(data, shape...)); err != nil {
			return 0, err
		}
	}

	out, err := g.Output()
	if err != nil {
		return 0, err
	}

	samples := make([]float64, 0, e.runs)
	for i := range e.warmup + e.runs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		out.ResetValue()
		start := time.Now()
		t, err := out.Value(mctx)
		if err != nil {
			return 0, err
		}
		mctx.Compute(t)
		if i >= e.warmup {
			samples = append(samples, time.Since(start).Seconds())
		}
	}

	return stat.Mean(samples, nil), nil
}
