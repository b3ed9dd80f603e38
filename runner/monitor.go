// monitor.go - Fortschrittsanzeige und Protokoll
//
// Enthaelt:
// - Monitor: Laufende Mittelwerte, periodische Log-Ausgabe und
//   ein JSON-Eintrag pro Epoche in monitor.jsonl

package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type meter struct {
	sum  float64
	n    int
	last float64
}

func (m *meter) avg() float64 {
	if m.n == 0 {
		return 0
	}
	return m.sum / float64(m.n)
}

// Monitor sammelt Metriken einer Epoche. Ein stiller Monitor (Rang > 0)
// misst weiter, schreibt aber nichts.
type Monitor struct {
	steps  int
	quiet  bool
	meters *orderedmap.OrderedMap[string, *meter]
	file   *os.File
	start  time.Time
}

// NewMonitor erstellt einen Monitor fuer Epochen mit steps Schritten. Der
// Eintrag jeder Epoche wird an <output>/monitor.jsonl angehaengt.
func NewMonitor(output string, steps int, quiet bool) (*Monitor, error) {
	m := &Monitor{
		steps:  steps,
		quiet:  quiet,
		meters: orderedmap.New[string, *meter](),
		start:  time.Now(),
	}
	if quiet {
		return m, nil
	}

	if err := os.MkdirAll(output, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(output, "monitor.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	m.file = f
	return m, nil
}

// Update fuegt einen Messwert hinzu
func (m *Monitor) Update(name string, v float64) {
	mt, ok := m.meters.Get(name)
	if !ok {
		mt = &meter{}
		m.meters.Set(name, mt)
	}
	mt.sum += v
	mt.n++
	mt.last = v
}

// Average gibt den Mittelwert seit dem letzten Reset zurueck
func (m *Monitor) Average(name string) float64 {
	if mt, ok := m.meters.Get(name); ok {
		return mt.avg()
	}
	return 0
}

// Reset setzt alle Mittelwerte fuer eine neue Epoche zurueck
func (m *Monitor) Reset() {
	for pair := m.meters.Oldest(); pair != nil; pair = pair.Next() {
		*pair.Value = meter{}
	}
	m.start = time.Now()
}

// Display loggt den Stand von Schritt step der Epoche epoch
func (m *Monitor) Display(epoch, step int) {
	if m.quiet {
		return
	}

	args := []any{"epoch", epoch, "step", fmt.Sprintf("%d/%d", step+1, m.steps)}
	for pair := m.meters.Oldest(); pair != nil; pair = pair.Next() {
		args = append(args, pair.Key, fmt.Sprintf("%.4f (%.4f)", pair.Value.last, pair.Value.avg()))
	}
	slog.Info("progress", args...)
}

// Write haengt die Mittelwerte der Epoche an monitor.jsonl an
func (m *Monitor) Write(epoch int) error {
	if m.quiet {
		return nil
	}

	entry := orderedmap.New[string, any]()
	entry.Set("epoch", epoch)
	for pair := m.meters.Oldest(); pair != nil; pair = pair.Next() {
		entry.Set(pair.Key, pair.Value.avg())
	}
	entry.Set("seconds", time.Since(m.start).Seconds())

	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := m.file.Write(append(b, '\n')); err != nil {
		return err
	}

	slog.Info("epoch finished", "epoch", epoch, "summary", string(b))
	return nil
}

// Close schliesst die Protokolldatei
func (m *Monitor) Close() error {
	if m.file == nil {
		return nil
	}
	return m.file.Close()
}
