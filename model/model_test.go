// MODUL: model_test
// ZWECK: Unit-Tests fuer Registry, Options-Population, Verlust und Fehlermetrik
// INPUT: Ein im Test registrierter Mini-Suchraum
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Registriert "tiny" in der globalen Registry
// ABHAENGIGKEITEN: testify, ml/backend/cpu
// HINWEISE: Keine

package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	_ "github.com/archsearch/nas/ml/backend/cpu"
)

type tinyOptions struct {
	Hidden int     `nas:"hidden,alt:width"`
	Scale  float64 `nas:"scale"`
	Bias   bool    `nas:"bias"`
	Sizes  []int   `nas:"sizes"`
	Label  string  `nas:"label"`
}

func init() {
	Register("tiny", func(c Config) (*Model, error) {
		opts := tinyOptions{Hidden: 4}
		if err := Populate(&opts, c.Options); err != nil {
			return nil, err
		}

		g := graph.New("tiny", graph.WithSeed(c.Seed))
		in, err := g.Input("x", c.Input...)
		if err != nil {
			return nil, err
		}
		gap, err := g.GlobalAvgPool("gap", in)
		if err != nil {
			return nil, err
		}
		flat, err := g.Collapse("flat", gap)
		if err != nil {
			return nil, err
		}
		out, err := g.Linear("fc", flat, c.Classes)
		if err != nil {
			return nil, err
		}
		return &Model{Graph: g, Input: in, Output: out}, nil
	})

	Register("broken", func(c Config) (*Model, error) {
		g := graph.New("broken")
		in, err := g.Input("x", c.Input...)
		if err != nil {
			return nil, err
		}
		return &Model{Graph: g, Input: in, Output: in}, nil
	})
}

func newTestContext(t *testing.T) ml.Context {
	t.Helper()
	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b.NewContext()
}

func tinyConfig() Config {
	return Config{Input: []int{2, 3, 4, 4}, Classes: 3, Seed: 1}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		Register("TINY", func(Config) (*Model, error) { return nil, nil })
	})
}

func TestNames(t *testing.T) {
	assert.Contains(t, Names(), "tiny")
	assert.Contains(t, Names(), "broken")
}

func TestNewUnknownSuggests(t *testing.T) {
	_, err := New("tinny", tinyConfig())
	require.ErrorIs(t, err, ErrUnsupportedModel)
	assert.Contains(t, err.Error(), `did you mean "tiny"`)

	_, err = New("completely-different", tinyConfig())
	require.ErrorIs(t, err, ErrUnsupportedModel)
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestNewValidatesConfig(t *testing.T) {
	c := tinyConfig()
	c.Input = []int{3, 4, 4}
	_, err := New("tiny", c)
	require.ErrorIs(t, err, ErrInvalidConfig)

	c = tinyConfig()
	c.Classes = 0
	_, err = New("tiny", c)
	require.ErrorIs(t, err, ErrInvalidConfig)

	c = tinyConfig()
	c.Mode = "bogus"
	_, err = New("tiny", c)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewChecksOutputShape(t *testing.T) {
	_, err := New("broken", tinyConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output shape")
}

func TestNewDefaultsMode(t *testing.T) {
	m, err := New("Tiny", tinyConfig())
	require.NoError(t, err)
	assert.Equal(t, "tiny", m.Name)
	assert.Equal(t, graph.ModeFull, m.Config.Mode)
}

func TestPopulate(t *testing.T) {
	opts := tinyOptions{Hidden: 4, Scale: 1}
	err := Populate(&opts, map[string]string{
		"width": "8",
		"bias":  "true",
		"sizes": "1, 2,3",
		"label": "abc",
	})
	require.NoError(t, err)
	assert.Equal(t, tinyOptions{Hidden: 8, Scale: 1, Bias: true, Sizes: []int{1, 2, 3}, Label: "abc"}, opts)
}

func TestPopulateErrors(t *testing.T) {
	opts := tinyOptions{}

	err := Populate(&opts, map[string]string{"scael": "2"})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `did you mean "scale"`)

	err = Populate(&opts, map[string]string{"hidden": "many"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	err = Populate(opts, nil)
	require.Error(t, err, "Nicht-Pointer sollte abgelehnt werden")
}

func TestForwardLossError(t *testing.T) {
	m, err := New("tiny", tinyConfig())
	require.NoError(t, err)
	ctx := newTestContext(t)

	images := make([]float32, 2*3*4*4)
	for i := range images {
		images[i] = float32(i) / 96
	}
	logits, err := m.Forward(ctx, images)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, logits.Shape())

	loss, err := m.Loss(ctx, logits, []int32{0, 1})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(float64(loss.Floats()[0])))

	_, err = m.Loss(ctx, logits, []int32{0})
	require.Error(t, err)

	// andere Batchgroesse ohne Neuaufbau
	logits, err = m.Forward(ctx, images[:3*4*4], 1, 3, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, logits.Shape())

	_, err = m.Forward(ctx, images[:5], 1, 3, 4, 4)
	require.Error(t, err)
}

func TestError(t *testing.T) {
	ctx := newTestContext(t)
	logits := ctx.FromFloats([]float32{
		0.1, 0.7, 0.2,
		0.9, 0.0, 0.1,
		0.3, 0.3, 0.4,
		0.5, 0.2, 0.3,
	}, 4, 3)

	assert.InDelta(t, 0.0, Error(logits, []int32{1, 0, 2, 0}), 1e-9)
	assert.InDelta(t, 0.5, Error(logits, []int32{1, 1, 2, 2}), 1e-9)
}
