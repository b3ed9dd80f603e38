// parameter.go - Lernbare Parameter mit stabiler Identitaet
//
// Dieses Modul enthaelt:
// - Parameter: benannter Tensor mit UUID, Form und Initialisierer
// - Initializer: Konstant, HeNormal, Uniform
package graph

import (
	"math"
	"math/rand/v2"
	"slices"

	"github.com/google/uuid"

	"github.com/archsearch/nas/ml"
)

// Initializer erzeugt die Startwerte eines Parameters
type Initializer func(r *rand.Rand, shape []int) []float32

// Constant fuellt alle Elemente mit v
func Constant(v float32) Initializer {
	return func(_ *rand.Rand, shape []int) []float32 {
		s := make([]float32, numel(shape))
		for i := range s {
			s[i] = v
		}
		return s
	}
}

// HeNormal zieht aus N(0, 2/fanIn)
func HeNormal(fanIn int) Initializer {
	std := math.Sqrt(2 / float64(max(fanIn, 1)))
	return func(r *rand.Rand, shape []int) []float32 {
		s := make([]float32, numel(shape))
		for i := range s {
			s[i] = float32(r.NormFloat64() * std)
		}
		return s
	}
}

// Uniform zieht aus U(-limit, limit)
func Uniform(limit float64) Initializer {
	return func(r *rand.Rand, shape []int) []float32 {
		s := make([]float32, numel(shape))
		for i := range s {
			s[i] = float32((2*r.Float64() - 1) * limit)
		}
		return s
	}
}

// Parameter ist ein lernbarer Tensor. Die Identitaet ist die ID, nicht der
// Name: derselbe Parameter kann von mehreren Modulen referenziert werden.
type Parameter struct {
	ID       uuid.UUID
	Name     string
	Shape    []int
	NeedGrad bool
	Init     Initializer

	data   []float32
	tensor ml.Tensor
}

// NewParameter erstellt einen Parameter und initialisiert ihn mit r
func NewParameter(name string, shape []int, needGrad bool, init Initializer, r *rand.Rand) *Parameter {
	if init == nil {
		init = Constant(0)
	}
	return &Parameter{
		ID:       uuid.New(),
		Name:     name,
		Shape:    slices.Clone(shape),
		NeedGrad: needGrad,
		Init:     init,
		data:     init(r, shape),
	}
}

// Value bindet den Parameter beim ersten Aufruf an ctx und gibt danach
// immer denselben Tensor zurueck
func (p *Parameter) Value(ctx ml.Context) ml.Tensor {
	if p.tensor == nil {
		p.tensor = ctx.FromFloats(p.data, p.Shape...)
		p.tensor.SetRequiresGrad(p.NeedGrad)
		p.data = nil
	}
	return p.tensor
}

// Bound meldet, ob der Parameter bereits einen Tensor besitzt
func (p *Parameter) Bound() bool {
	return p.tensor != nil
}

// Floats gibt eine Kopie der aktuellen Werte zurueck
func (p *Parameter) Floats() []float32 {
	if p.tensor != nil {
		return p.tensor.Floats()
	}
	return slices.Clone(p.data)
}

// SetFloats ueberschreibt die Werte in place; Aliase sehen die Aenderung
func (p *Parameter) SetFloats(s []float32) {
	if len(s) != numel(p.Shape) {
		panic("graph: parameter size mismatch for " + p.Name)
	}
	if p.tensor != nil {
		p.tensor.FromFloats(s)
		return
	}
	p.data = slices.Clone(s)
}

// Grad gibt den akkumulierten Gradienten zurueck (nil wenn keiner vorliegt)
func (p *Parameter) Grad() []float32 {
	if p.tensor == nil {
		return nil
	}
	return p.tensor.Grad()
}

// SetGrad ueberschreibt den Gradienten, z.B. fuer Score-Function-Schaetzer
func (p *Parameter) SetGrad(g []float32) {
	if p.tensor == nil {
		panic("graph: parameter " + p.Name + " is not bound")
	}
	p.tensor.SetGrad(g)
}

// ZeroGrad verwirft den akkumulierten Gradienten
func (p *Parameter) ZeroGrad() {
	if p.tensor != nil {
		p.tensor.ZeroGrad()
	}
}

// Reset setzt die Werte mit dem Initialisierer neu
func (p *Parameter) Reset(r *rand.Rand) {
	p.SetFloats(p.Init(r, p.Shape))
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
