// Package model - Suchraeume und ihre Registrierung
//
// Dieses Paket verwaltet die Konstruktoren der Suchraeume und stellt das
// Model bereit, das einen Wurzelgraphen mit Eingabe, Ausgabe, Verlust und
// Fehlermetrik verbindet.
//
// Hauptkomponenten:
// - Config: Eingabeform, Klassenanzahl, Join-Modus und Optionen
// - Model: Wurzelgraph mit Input/Output-Modulen
// - Register: Registriert Suchraum-Konstruktoren
// - New: Erstellt eine Model-Instanz nach Namen
// - Forward/Loss/Error: Vorwaerts-Pass, Kreuzentropie und Top-1-Fehler

package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
)

// Fehler-Definitionen
var (
	ErrUnsupportedModel = errors.New("model not supported")
	ErrInvalidConfig    = errors.New("invalid model config")
)

// Config beschreibt eine Modell-Instanz
type Config struct {
	// Input ist die Eingabeform (N, C, H, W)
	Input   []int          `json:"input"`
	Classes int            `json:"classes"`
	Mode    graph.JoinMode `json:"mode,omitempty"`
	Seed    uint64         `json:"seed"`

	// Options enthaelt suchraumspezifische Schalter, siehe Populate
	Options map[string]string `json:"options,omitempty"`
}

// Validate prueft die Config und setzt den Default-Modus
func (c *Config) Validate() error {
	if len(c.Input) != 4 {
		return fmt.Errorf("%w: input must be (N, C, H, W), got %v", ErrInvalidConfig, c.Input)
	}
	for _, d := range c.Input {
		if d <= 0 {
			return fmt.Errorf("%w: input dimensions must be positive, got %v", ErrInvalidConfig, c.Input)
		}
	}
	if c.Classes < 1 {
		return fmt.Errorf("%w: classes must be positive, got %d", ErrInvalidConfig, c.Classes)
	}

	if c.Mode == "" {
		c.Mode = graph.ModeFull
	}
	if _, err := graph.ParseJoinMode(string(c.Mode)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Model verbindet einen Wurzelgraphen mit seinen Terminals
type Model struct {
	Name   string
	Config Config

	Graph  *graph.Module
	Input  *graph.Module
	Output *graph.Module

	// Smoothing mischt die Gleichverteilung in das Kreuzentropie-Ziel
	Smoothing float32
}

// models speichert registrierte Suchraum-Konstruktoren
var models = make(map[string]func(Config) (*Model, error))

// Register registriert einen Konstruktor fuer einen Suchraum
func Register(name string, f func(Config) (*Model, error)) {
	name = strings.ToLower(name)
	if _, ok := models[name]; ok {
		panic("model: model already registered")
	}

	models[name] = f
}

// Names gibt die registrierten Suchraeume sortiert zurueck
func Names() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// suggest gibt den naechstgelegenen Namen zurueck, leer wenn keiner nah genug ist
func suggest(name string, candidates []string) string {
	best, dist := "", math.MaxInt
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(name, c); d < dist {
			best, dist = c, d
		}
	}
	if dist > max(2, len(name)/2) {
		return ""
	}
	return best
}

// New erstellt eine Model-Instanz des Suchraums name
func New(name string, c Config) (*Model, error) {
	name = strings.ToLower(name)
	f, ok := models[name]
	if !ok {
		if s := suggest(name, Names()); s != "" {
			return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrUnsupportedModel, name, s)
		}
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, name)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	m, err := f(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	m.Name = name
	m.Config = c

	if m.Graph == nil || m.Input == nil || m.Output == nil {
		return nil, fmt.Errorf("%s: constructor returned incomplete model", name)
	}
	s, err := m.Output.Shape()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !slices.Equal(s, []int{c.Input[0], c.Classes}) {
		return nil, fmt.Errorf("%s: output shape %v, want [%d %d]", name, s, c.Input[0], c.Classes)
	}

	slog.Debug("model created", "name", name, "modules", len(m.Graph.NetModules(false)),
		"joins", len(m.Graph.ArchModules()), "mode", c.Mode)
	return m, nil
}

// Forward setzt die Eingabe (N, C, H, W) und berechnet die Logits (N, K).
// N darf von der deklarierten Batchgroesse abweichen.
func (m *Model) Forward(ctx ml.Context, images []float32, shape ...int) (ml.Tensor, error) {
	if len(shape) == 0 {
		shape = m.Config.Input
	}
	if len(shape) != 4 {
		return nil, fmt.Errorf("forward: expected (N, C, H, W), got %v", shape)
	}
	if n := shape[0] * shape[1] * shape[2] * shape[3]; n != len(images) {
		return nil, fmt.Errorf("forward: %d values for shape %v", len(images), shape)
	}

	if err := m.Input.SetValue(ctx.FromFloats(images, shape...)); err != nil {
		return nil, err
	}
	return m.Output.Value(ctx)
}

// Loss berechnet die mittlere Kreuzentropie der Logits gegen labels
func (m *Model) Loss(ctx ml.Context, logits ml.Tensor, labels []int32) (ml.Tensor, error) {
	if n := logits.Dim(0); n != len(labels) {
		return nil, fmt.Errorf("loss: %d labels for batch of %d", len(labels), n)
	}
	return logits.CrossEntropy(ctx, ctx.FromInts(labels, len(labels)), m.Smoothing), nil
}

// Error gibt den Anteil falsch klassifizierter Beispiele zurueck (Top-1)
func Error(logits ml.Tensor, labels []int32) float64 {
	k := logits.Dim(1)
	v := logits.Floats()

	var wrong int
	for i, label := range labels {
		row := v[i*k : (i+1)*k]
		best := 0
		for j, x := range row {
			if x > row[best] {
				best = j
			}
		}
		if int32(best) != label {
			wrong++
		}
	}
	return float64(wrong) / float64(len(labels))
}
