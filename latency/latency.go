// MODUL: latency
// ZWECK: Schaetzung der Ausfuehrungszeit einzelner Module fuer hardwarebewusste Suche
// INPUT: graph.Module, ml.Backend, optionale sqlite-Tabelle
// OUTPUT: Latenz in Sekunden pro Modul, Profile ganzer Graphen
// NEBENEFFEKTE: CPU-Last waehrend der Messung, Schreibzugriff auf die Tabelle
// ABHAENGIGKEITEN: graph, ml, gonum/stat, mattn/go-sqlite3, tablewriter
// HINWEISE: Gleiche Signaturen werden nur einmal pro Geraet gemessen

package latency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/archsearch/nas/graph"
)

// ============================================================================
// Schnittstelle
// ============================================================================

// Estimator liefert die Latenz eines Moduls in Sekunden
type Estimator interface {
	Predict(ctx context.Context, m *graph.Module) (float64, error)
}

// MeasurementError meldet, dass fuer ein Modul keine Latenz bestimmt werden
// konnte. Profile ueberspringt solche Module.
type MeasurementError struct {
	Module    string
	Signature string
	Reason    string
	Err       error
}

func (e *MeasurementError) Error() string {
	msg := "latency: " + e.Module
	if e.Signature != "" {
		msg += " [" + e.Signature + "]"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MeasurementError) Unwrap() error {
	return e.Err
}

// measurable prueft, ob m eine eigenstaendige Berechnung besitzt
func measurable(m *graph.Module) error {
	switch {
	case m.IsGraph():
		return &MeasurementError{Module: m.Path(), Reason: "graphs have no standalone computation"}
	case m.Kind() == "input":
		return &MeasurementError{Module: m.Path(), Reason: "inputs have no standalone computation"}
	case graph.IsJoin(m):
		return &MeasurementError{Module: m.Path(), Reason: "joins have no standalone computation"}
	}
	return nil
}

// ============================================================================
// Profil
// ============================================================================

// Result ist die Latenz eines Moduls
type Result struct {
	Path      string  `json:"path"`
	Kind      string  `json:"kind"`
	Signature string  `json:"signature"`
	Seconds   float64 `json:"seconds"`
}

// Profile schaetzt alle rechnenden Module von g. Module, fuer die keine
// Messung moeglich ist, werden geloggt und ausgelassen; andere Fehler
// (z.B. ein abgebrochener Kontext) brechen ab.
func Profile(ctx context.Context, est Estimator, g *graph.Module, activeOnly bool) ([]Result, error) {
	var results []Result
	for _, m := range g.NetModules(activeOnly) {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		sig, err := m.Signature()
		if err != nil {
			return results, err
		}

		s, err := est.Predict(ctx, m)
		var merr *MeasurementError
		if errors.As(err, &merr) {
			slog.Warn("latency: skipping module", "module", m.Path(), "error", err)
			continue
		} else if err != nil {
			return results, fmt.Errorf("latency: %s: %w", m.Path(), err)
		}

		results = append(results, Result{Path: m.Path(), Kind: m.Kind(), Signature: sig, Seconds: s})
	}
	return results, nil
}

// Total summiert die Latenzen
func Total(results []Result) float64 {
	var sum float64
	for _, r := range results {
		sum += r.Seconds
	}
	return sum
}
