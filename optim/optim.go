// optim.go - Optimierer fuer Netz- und Architekturparameter
//
// Dieses Modul enthaelt:
// - Config: Art, Lernrate, Weight Decay, Gradient Clipping
// - Optimizer: gemeinsame Verwaltung von Parametern, Gradienten und Zustand
// - StateTensors/LoadState: Zustand fuer Checkpoints
package optim

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gonum.org/v1/gonum/floats"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/logutil"
)

// ErrUnknownKind wird von New fuer unbekannte Optimierer gemeldet
var ErrUnknownKind = errors.New("unknown optimizer")

// Kinds listet die unterstuetzten Optimierer
var Kinds = []string{"sgd", "momentum", "adam"}

// Config beschreibt einen Optimierer. Nullwerte werden durch die Defaults
// der jeweiligen Art ersetzt.
type Config struct {
	Kind string  `json:"kind"`
	LR   float64 `json:"lr"`

	Momentum float64 `json:"momentum,omitempty"`
	Beta1    float64 `json:"beta1,omitempty"`
	Beta2    float64 `json:"beta2,omitempty"`
	Eps      float64 `json:"eps,omitempty"`

	WeightDecay float64 `json:"weight_decay,omitempty"`

	// GradClip begrenzt die globale L2-Norm aller Gradienten, 0 schaltet ab
	GradClip float64 `json:"grad_clip,omitempty"`
}

// DefaultConfig gibt die Defaults fuer kind zurueck
func DefaultConfig(kind string) Config {
	cfg := Config{Kind: kind, LR: 1e-3}
	switch kind {
	case "sgd":
		cfg.LR = 0.1
	case "momentum":
		cfg.LR = 0.1
		cfg.Momentum = 0.9
	case "adam":
		cfg.Beta1 = 0.9
		cfg.Beta2 = 0.999
		cfg.Eps = 1e-8
	}
	return cfg
}

func (c Config) withDefaults() Config {
	d := DefaultConfig(c.Kind)
	if c.LR == 0 {
		c.LR = d.LR
	}
	if c.Momentum == 0 {
		c.Momentum = d.Momentum
	}
	if c.Beta1 == 0 {
		c.Beta1 = d.Beta1
	}
	if c.Beta2 == 0 {
		c.Beta2 = d.Beta2
	}
	if c.Eps == 0 {
		c.Eps = d.Eps
	}
	return c
}

// rule ist die eigentliche Update-Regel einer Optimierer-Art
type rule interface {
	// slots benennt die Zustandsvektoren pro Parameter
	slots() []string
	apply(cfg Config, step int, p, g []float32, state [][]float32)
}

// Optimizer aktualisiert eine Parametermenge. Zustand wird pro Parameter-ID
// gehalten; ein Parameter, der unter mehreren Namen erreichbar ist, wird
// pro Update genau einmal veraendert.
type Optimizer struct {
	cfg    Config
	rule   rule
	params *graph.ParamSet
	state  map[uuid.UUID][][]float32
	step   int
}

// New erstellt einen Optimierer der Art cfg.Kind
func New(cfg Config) (*Optimizer, error) {
	cfg.Kind = strings.ToLower(cfg.Kind)
	var r rule
	switch cfg.Kind {
	case "sgd":
		r = sgd{}
	case "momentum":
		r = momentum{}
	case "adam":
		r = adam{}
	default:
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownKind, cfg.Kind, strings.Join(Kinds, ", "))
	}

	cfg = cfg.withDefaults()
	if cfg.LR < 0 || cfg.WeightDecay < 0 || cfg.GradClip < 0 {
		return nil, fmt.Errorf("optim: negative hyperparameter in %+v", cfg)
	}

	return &Optimizer{
		cfg:    cfg,
		rule:   r,
		params: graph.NewParamSet(),
		state:  make(map[uuid.UUID][][]float32),
	}, nil
}

func (o *Optimizer) Config() Config { return o.cfg }
func (o *Optimizer) Kind() string   { return o.cfg.Kind }
func (o *Optimizer) Step() int      { return o.step }

// SetLearningRate aendert die Lernrate fuer folgende Updates
func (o *Optimizer) SetLearningRate(lr float64) {
	o.cfg.LR = lr
}

// SetParameters legt die zu optimierende Menge fest. Zustand von Parametern,
// die nicht mehr enthalten sind, wird verworfen.
func (o *Optimizer) SetParameters(ps *graph.ParamSet) {
	o.params = ps
	for id := range o.state {
		if !ps.Has(id) {
			delete(o.state, id)
		}
	}
}

// Parameters gibt die aktuelle Menge zurueck
func (o *Optimizer) Parameters() *graph.ParamSet {
	return o.params
}

// ZeroGrad verwirft die Gradienten aller Parameter
func (o *Optimizer) ZeroGrad() {
	for _, p := range o.params.Params() {
		p.ZeroGrad()
	}
}

// ScaleGrad multipliziert alle vorhandenen Gradienten mit f
func (o *Optimizer) ScaleGrad(f float32) {
	for _, p := range o.params.Params() {
		g := p.Grad()
		if g == nil {
			continue
		}
		for i := range g {
			g[i] *= f
		}
		p.SetGrad(g)
	}
}

// Gradients gibt die Gradienten in Mengenreihenfolge zurueck. Parameter ohne
// Gradient liefern einen Nullvektor, damit die Reihenfolge auf allen Rangs
// gleich bleibt.
func (o *Optimizer) Gradients() [][]float32 {
	params := o.params.Params()
	out := make([][]float32, len(params))
	for i, p := range params {
		g := p.Grad()
		if g == nil {
			g = make([]float32, len(p.Floats()))
		}
		out[i] = g
	}
	return out
}

// SetGradients schreibt Gradienten in Mengenreihenfolge zurueck
func (o *Optimizer) SetGradients(grads [][]float32) error {
	params := o.params.Params()
	if len(grads) != len(params) {
		return fmt.Errorf("optim: got %d gradients for %d parameters", len(grads), len(params))
	}
	for i, p := range params {
		if !p.Bound() {
			continue
		}
		p.SetGrad(grads[i])
	}
	return nil
}

// GradNorm berechnet die globale L2-Norm aller Gradienten
func (o *Optimizer) GradNorm() float64 {
	var sq float64
	for _, p := range o.params.Params() {
		g := p.Grad()
		if g == nil {
			continue
		}
		g64 := make([]float64, len(g))
		for i, v := range g {
			g64[i] = float64(v)
		}
		sq += floats.Dot(g64, g64)
	}
	return math.Sqrt(sq)
}

// Update fuehrt einen Optimierungsschritt mit den akkumulierten Gradienten
// aus. Parameter ohne Gradient bleiben unveraendert.
func (o *Optimizer) Update() error {
	o.step++

	scale := float32(1)
	if o.cfg.GradClip > 0 {
		if norm := o.GradNorm(); norm > o.cfg.GradClip {
			scale = float32(o.cfg.GradClip / norm)
			logutil.Trace("optim: clipping gradients", "kind", o.cfg.Kind, "norm", norm, "clip", o.cfg.GradClip)
		}
	}

	var updated int
	for _, p := range o.params.Params() {
		if !p.NeedGrad {
			continue
		}
		g := p.Grad()
		if g == nil {
			continue
		}
		if scale != 1 {
			for i := range g {
				g[i] *= scale
			}
		}

		w := p.Floats()
		if len(g) != len(w) {
			return fmt.Errorf("optim: gradient of %s has %d elements, want %d", p.Name, len(g), len(w))
		}

		st, ok := o.state[p.ID]
		if !ok {
			st = make([][]float32, len(o.rule.slots()))
			for i := range st {
				st[i] = make([]float32, len(w))
			}
			o.state[p.ID] = st
		}

		o.rule.apply(o.cfg, o.step, w, g, st)
		p.SetFloats(w)
		updated++
	}

	slog.Debug("optim: update", "kind", o.cfg.Kind, "step", o.step, "params", updated)
	return nil
}

// StateTensors gibt den Zustand als "<parameter>.<slot>" -> Werte zurueck,
// in Reihenfolge der Parametermenge
func (o *Optimizer) StateTensors() *orderedmap.OrderedMap[string, []float32] {
	out := orderedmap.New[string, []float32]()
	slots := o.rule.slots()
	o.params.Each(func(name string, p *graph.Parameter) {
		st, ok := o.state[p.ID]
		if !ok {
			return
		}
		for i, slot := range slots {
			out.Set(name+"."+slot, slices.Clone(st[i]))
		}
	})
	return out
}

// LoadState stellt Schrittzahl und Zustandsvektoren wieder her. Unbekannte
// Namen sind ein Fehler, fehlende Eintraege starten bei Null.
func (o *Optimizer) LoadState(step int, tensors map[string][]float32) error {
	state, err := o.decodeState(tensors)
	if err != nil {
		return err
	}

	o.step = step
	o.state = state
	return nil
}

// CheckState prueft tensors wie LoadState, ohne den Zustand zu aendern
func (o *Optimizer) CheckState(tensors map[string][]float32) error {
	_, err := o.decodeState(tensors)
	return err
}

func (o *Optimizer) decodeState(tensors map[string][]float32) (map[uuid.UUID][][]float32, error) {
	slots := o.rule.slots()
	state := make(map[uuid.UUID][][]float32)
	seen := 0
	var err error
	o.params.Each(func(name string, p *graph.Parameter) {
		if err != nil {
			return
		}
		n := len(p.Floats())
		var st [][]float32
		for i, slot := range slots {
			v, ok := tensors[name+"."+slot]
			if !ok {
				continue
			}
			if len(v) != n {
				err = fmt.Errorf("optim: state %s.%s has %d elements, want %d", name, slot, len(v), n)
				return
			}
			if st == nil {
				st = make([][]float32, len(slots))
				for j := range st {
					st[j] = make([]float32, n)
				}
			}
			copy(st[i], v)
			seen++
		}
		if st != nil {
			state[p.ID] = st
		}
	})
	if err != nil {
		return nil, err
	}
	if seen != len(tensors) {
		return nil, fmt.Errorf("optim: %d state tensors do not match any parameter", len(tensors)-seen)
	}
	return state, nil
}
