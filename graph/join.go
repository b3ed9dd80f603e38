// join.go - Join-Op: lernbare Auswahl zwischen Kandidaten-Eltern
//
// Dieses Modul enthaelt:
// - JoinMode: full (gewichtete Summe), sample (Stichprobe), max (argmax)
// - Join: Op mit Gewichtsvektor alpha, ein Gewicht pro Elternteil
//
// Im full-Modus werden alle Eltern ausgewertet und mit softmax(alpha)
// gewichtet. Im sample-Modus wird ein Elternteil aus Categorical(softmax(alpha))
// gezogen und der Score-Gradient onehot(k) - softmax(alpha) gespeichert. Im
// max-Modus ist argmax(alpha) aktiv.
package graph

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/archsearch/nas/ml"
)

// JoinMode ist die Auswahlstrategie eines Joins
type JoinMode string

const (
	ModeFull   JoinMode = "full"
	ModeSample JoinMode = "sample"
	ModeMax    JoinMode = "max"
)

// ParseJoinMode liest einen Modus aus seinem Namen
func ParseJoinMode(s string) (JoinMode, error) {
	switch m := JoinMode(s); m {
	case ModeFull, ModeSample, ModeMax:
		return m, nil
	}
	return "", fmt.Errorf("unknown join mode %q (want full, sample or max)", s)
}

// Join waehlt oder mischt zwischen seinen Eltern
type Join struct {
	Alpha *Parameter

	// StraightThrough leitet im sample-Modus einen Backprop-Gradienten an
	// alpha weiter: y = x + x * (w - detach(w)) mit w = softmax(alpha)[k]
	StraightThrough bool

	n      int
	mode   JoinMode
	active int
	pinned bool
	score  []float32
}

// NewJoin erstellt einen Join ueber n Eltern
func NewJoin(n int, mode JoinMode, r *rand.Rand) (*Join, error) {
	if n < 2 {
		return nil, &StructureError{Reason: fmt.Sprintf("join needs at least 2 parents, got %d", n)}
	}
	if _, err := ParseJoinMode(string(mode)); err != nil {
		return nil, err
	}
	return &Join{
		Alpha:  NewParameter("join", []int{n}, true, Uniform(1e-3), r),
		n:      n,
		mode:   mode,
		active: -1,
	}, nil
}

func (j *Join) Kind() string         { return "join" }
func (j *Join) Params() []*Parameter { return []*Parameter{j.Alpha} }
func (j *Join) Signature() string    { return fmt.Sprintf("n=%d mode=%s", j.n, j.mode) }

func (j *Join) Mode() JoinMode { return j.mode }
func (j *Join) Pinned() bool   { return j.pinned }

// Probabilities gibt softmax(alpha) zurueck
func (j *Join) Probabilities() []float64 {
	a := j.Alpha.Floats()
	p := make([]float64, len(a))
	for i, v := range a {
		p[i] = float64(v)
	}

	mx := floats.Max(p)
	for i := range p {
		p[i] = math.Exp(p[i] - mx)
	}
	floats.Scale(1/floats.Sum(p), p)
	return p
}

// Active gibt den aktiven Elternindex zurueck. Im full-Modus ist das der
// Index mit dem groessten Gewicht.
func (j *Join) Active() int {
	switch {
	case j.pinned:
		return j.active
	case j.mode == ModeSample && j.active >= 0:
		return j.active
	}
	return floats.MaxIdx(j.Probabilities())
}

// Selected gibt den Index zurueck, den ein Export festschreibt: den
// fixierten, sonst argmax(softmax(alpha))
func (j *Join) Selected() int {
	if j.pinned {
		return j.active
	}
	return floats.MaxIdx(j.Probabilities())
}

// ScoreGradient gibt onehot(k) - softmax(alpha) der letzten Stichprobe
// zurueck, nil wenn noch keine gezogen wurde
func (j *Join) ScoreGradient() []float32 {
	return slices.Clone(j.score)
}

func (j *Join) ActiveParents(n int) []int {
	if j.mode == ModeFull {
		return allParents(n)
	}
	return []int{j.Active()}
}

func (j *Join) Shape(in [][]int) ([]int, error) {
	if err := requireParents(in, j.n); err != nil {
		return nil, err
	}
	if j.mode == ModeFull {
		for _, s := range in[1:] {
			if !slices.Equal(s, in[0]) {
				return nil, shapeErrorf(in, "full join needs equal parent shapes")
			}
		}
		return slices.Clone(in[0]), nil
	}
	return slices.Clone(in[j.Active()]), nil
}

func (j *Join) Forward(ctx ml.Context, in []ml.Tensor, _ bool) (ml.Tensor, error) {
	switch {
	case j.mode == ModeFull:
		p := j.Alpha.Value(ctx).Reshape(ctx, 1, j.n).Softmax(ctx)
		out := in[0].Mul(ctx, p.Slice(ctx, 1, 0, 1))
		for i := 1; i < len(in); i++ {
			out = out.Add(ctx, in[i].Mul(ctx, p.Slice(ctx, 1, i, i+1)))
		}
		return out, nil
	case j.mode == ModeSample && j.StraightThrough && !j.pinned:
		k := j.Active()
		w := j.Alpha.Value(ctx).Reshape(ctx, 1, j.n).Softmax(ctx).Slice(ctx, 1, k, k+1)
		x := in[0]
		return x.Add(ctx, x.Mul(ctx, w.Sub(ctx, w.Detach(ctx)))), nil
	}
	return in[0], nil
}

// sample zieht einen Elternindex aus Categorical(softmax(alpha))
func (j *Join) sample(r *rand.Rand) int {
	p := j.Probabilities()
	u := r.Float64()
	k := len(p) - 1
	var acc float64
	for i, v := range p {
		acc += v
		if u < acc {
			k = i
			break
		}
	}

	j.active = k
	j.score = make([]float32, len(p))
	for i, v := range p {
		j.score[i] = float32(-v)
	}
	j.score[k] += 1
	return k
}
