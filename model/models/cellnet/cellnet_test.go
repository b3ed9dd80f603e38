// MODUL: cellnet_test
// ZWECK: Unit-Tests fuer den zellbasierten Suchraum
// INPUT: Kleine Konfigurationen (4 Kanaele, 8x8 Eingaben)
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: testify, ml/backend/cpu
// HINWEISE: Jede Zelle mit 2 Knoten hat 2 + 3 = 5 Join-Kanten

package cellnet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	_ "github.com/archsearch/nas/ml/backend/cpu"
	"github.com/archsearch/nas/model"
)

func tinyConfig(mode graph.JoinMode) model.Config {
	return model.Config{
		Input:   []int{2, 3, 8, 8},
		Classes: 3,
		Mode:    mode,
		Seed:    3,
		Options: map[string]string{"channels": "4", "cells": "2", "nodes": "2"},
	}
}

func newTestContext(t *testing.T) ml.Context {
	t.Helper()
	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b.NewContext()
}

func images() []float32 {
	x := make([]float32, 2*3*8*8)
	for i := range x {
		x[i] = float32(i%11)/11 - 0.5
	}
	return x
}

func TestStructure(t *testing.T) {
	m, err := model.New("cellnet", tinyConfig(graph.ModeFull))
	require.NoError(t, err)

	joins := m.Graph.ArchModules()
	assert.Len(t, joins, 10)
	for _, j := range joins {
		assert.Len(t, j.Parents(), len(Candidates), "%s", j.Path())
	}

	net := m.Graph.NetParameters(false)
	arch := m.Graph.ArchParameters(false)
	assert.Equal(t, 10, arch.Len())
	assert.True(t, net.Disjoint(arch), "Netz- und Architekturparameter muessen disjunkt sein")
	assert.Equal(t, m.Graph.Parameters(false).Len(), net.Len()+arch.Len())
}

func TestForwardFullMode(t *testing.T) {
	m, err := model.New("cellnet", tinyConfig(graph.ModeFull))
	require.NoError(t, err)
	ctx := newTestContext(t)

	logits, err := m.Forward(ctx, images())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, logits.Shape())

	loss, err := m.Loss(ctx, logits, []int32{1, 2})
	require.NoError(t, err)
	loss.Backward()

	for _, name := range m.Graph.ArchParameters(true).Names() {
		p, _ := m.Graph.ArchParameters(true).Get(name)
		assert.NotNil(t, p.Grad(), "full-Modus sollte Gradienten fuer %s liefern", name)
	}
}

func TestMaxModeEvaluatesActivePathOnly(t *testing.T) {
	m, err := model.New("cellnet", tinyConfig(graph.ModeMax))
	require.NoError(t, err)
	ctx := newTestContext(t)

	for _, j := range m.Graph.ArchModules() {
		require.NoError(t, j.SetActive(5)) // identity
	}
	_, err = m.Forward(ctx, images())
	require.NoError(t, err)

	for _, mod := range m.Graph.NetModules(true) {
		assert.False(t, strings.HasPrefix(mod.Name(), OpConv3x3), "%s sollte inaktiv sein", mod.Path())
	}
	for _, j := range m.Graph.ArchModules() {
		p, _ := j.ActiveParent()
		assert.Equal(t, OpIdentity, p.Name())
	}

	arch := m.Graph.Architecture()
	assert.Equal(t, 10, arch.Len())
}

func TestSampleModeForward(t *testing.T) {
	c := tinyConfig(graph.ModeSample)
	c.Options["straight_through"] = "true"
	m, err := model.New("cellnet", c)
	require.NoError(t, err)
	ctx := newTestContext(t)

	for range 3 {
		m.Graph.SampleJoins(nil)
		logits, err := m.Forward(ctx, images())
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3}, logits.Shape())
	}

	for _, j := range m.Graph.ArchModules() {
		op, _ := j.AsJoin()
		assert.True(t, op.StraightThrough)
		assert.Len(t, op.ScoreGradient(), len(Candidates))
	}
}

func TestStemWidth(t *testing.T) {
	c := tinyConfig(graph.ModeMax)
	c.Options["stem_width"] = "2"
	m, err := model.New("cellnet", c)
	require.NoError(t, err)

	stem, ok := m.Graph.Lookup("stem_conv")
	require.True(t, ok)
	op, ok := stem.Op().(*graph.DynamicConv)
	require.True(t, ok)
	assert.Equal(t, 2, op.Width)

	_, err = m.Forward(newTestContext(t), images())
	require.NoError(t, err)
}

func TestOptionErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown candidate": {"candidates": "conv3x3,conv7x7"},
		"single candidate":  {"candidates": "identity"},
		"duplicate":         {"candidates": "zero,zero"},
		"stem too wide":     {"channels": "4", "stem_width": "5"},
		"no cells":          {"cells": "0"},
		"unknown option":    {"chanels": "4"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			c := tinyConfig(graph.ModeFull)
			c.Options = opts
			_, err := model.New("cellnet", c)
			require.ErrorIs(t, err, model.ErrInvalidConfig)
		})
	}
}

func TestCandidateSubset(t *testing.T) {
	c := tinyConfig(graph.ModeFull)
	c.Options["candidates"] = "maxpool,identity,zero"
	m, err := model.New("cellnet", c)
	require.NoError(t, err)

	for _, j := range m.Graph.ArchModules() {
		assert.Len(t, j.Parents(), 3)
	}
	logits, err := m.Forward(newTestContext(t), images())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, logits.Shape())
}
