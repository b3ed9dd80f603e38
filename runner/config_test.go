// MODUL: config_test
// ZWECK: Tests fuer Laden, Defaults und Validierung der Laufkonfiguration
// INPUT: JSON-Dateien im Temp-Verzeichnis, Config-Literale
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Schreibt temporaere Dateien
// ABHAENGIGKEITEN: testify
// HINWEISE: Keine

package runner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/model"
)

func baseConfig(t *testing.T, mode graph.JoinMode) Config {
	t.Helper()
	return Config{
		Model: "cellnet",
		Network: model.Config{
			Input:   []int{2, 3, 8, 8},
			Classes: 3,
			Mode:    mode,
			Options: map[string]string{"channels": "4", "cells": "1", "nodes": "2"},
		},
		Epochs:           2,
		BatchSizeTrain:   4,
		MiniBatchTrain:   2,
		BatchSizeValid:   4,
		MiniBatchValid:   2,
		SyntheticSamples: 20,
		PrintFrequency:   1,
		Output:           t.TempDir(),
		Seed:             7,
	}
}

func TestValidateDefaults(t *testing.T) {
	t.Setenv("NAS_DEVICE", "")
	cfg := baseConfig(t, graph.ModeFull)
	cfg.MiniBatchValid = 0
	cfg.PrintFrequency = 0
	cfg.Network.Input[0] = 16
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.MiniBatchValid, "Mini-Batch faellt auf die Batchgroesse zurueck")
	assert.Equal(t, 2, cfg.Network.Input[0], "Eingabe-Batch folgt dem Trainings-Mini-Batch")
	assert.Equal(t, uint64(7), cfg.Network.Seed)
	assert.Equal(t, GradientBackprop, cfg.ArchGradient)
	assert.Equal(t, BaselineConst, cfg.ControlVariate.Kind)
	assert.Equal(t, "momentum", cfg.ModelOptimizer.Kind)
	assert.Equal(t, "adam", cfg.ArchOptimizer.Kind)
	assert.InDelta(t, 0.5, cfg.ArchOptimizer.Beta1, 1e-12)
	assert.Equal(t, 10, cfg.PrintFrequency)
	assert.InDelta(t, 0.8, cfg.TrainPortion, 1e-12)
	assert.Equal(t, "f32", cfg.DType)
	assert.Equal(t, "cpu", cfg.Device)
}

func TestValidateSampleModeDefaultsToReinforce(t *testing.T) {
	cfg := baseConfig(t, graph.ModeSample)
	cfg.ControlVariate = ControlVariate{Kind: BaselineEMA}
	require.NoError(t, cfg.Validate())

	assert.Equal(t, GradientReinforce, cfg.ArchGradient)
	assert.InDelta(t, 0.9, cfg.ControlVariate.Decay, 1e-12)
}

func TestValidateSampleBackpropNeedsStraightThrough(t *testing.T) {
	cfg := baseConfig(t, graph.ModeSample)
	cfg.ArchGradient = GradientBackprop
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = baseConfig(t, graph.ModeSample)
	cfg.ArchGradient = GradientBackprop
	cfg.Network.Options["straight_through"] = "true"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, GradientBackprop, cfg.ArchGradient)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
	}{
		{"ohne Modell", func(c *Config) { c.Model = "" }},
		{"keine Epochen", func(c *Config) { c.Epochs = 0 }},
		{"negatives Warmup", func(c *Config) { c.Warmup = -1 }},
		{"Batch kein Vielfaches", func(c *Config) { c.BatchSizeTrain = 5 }},
		{"Gradient unbekannt", func(c *Config) { c.ArchGradient = "evolution" }},
		{"Reinforce ohne Sample", func(c *Config) { c.ArchGradient = GradientReinforce }},
		{"Backprop im Sample-Modus ohne Straight-Through", func(c *Config) {
			c.Network.Mode = graph.ModeSample
			c.ArchGradient = GradientBackprop
		}},
		{"Baseline unbekannt", func(c *Config) { c.ControlVariate.Kind = "median" }},
		{"Decay zu gross", func(c *Config) { c.ControlVariate = ControlVariate{Kind: BaselineEMA, Decay: 1} }},
		{"Optimierer unbekannt", func(c *Config) { c.ArchOptimizer.Kind = "lion" }},
		{"Smoothing zu gross", func(c *Config) { c.LabelSmoothing = 1 }},
		{"Anteil zu gross", func(c *Config) { c.TrainPortion = 1.5 }},
		{"Datentyp unbekannt", func(c *Config) { c.DType = "q4_0" }},
		{"Modus unbekannt", func(c *Config) { c.Network.Mode = "argmin" }},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig(t, graph.ModeFull)
			tt.modify(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "search.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"model": "cellnet",
		"network": {"input": [8, 3, 8, 8], "classes": 10, "mode": "sample", "options": {"channels": "4"}},
		"epochs": 3,
		"warmup": 1,
		"control_variate": {"kind": "ema", "value": 2.3},
		"batch_size_train": 8,
		"mini_batch_train": 4,
		"batch_size_valid": 8,
		"model_optimizer": {"kind": "sgd", "lr": 0.05},
		"seed": 1,
		"output": "`+filepath.ToSlash(dir)+`"
	}`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, graph.ModeSample, cfg.Network.Mode)
	assert.Equal(t, GradientReinforce, cfg.ArchGradient)
	assert.InDelta(t, 2.3, cfg.ControlVariate.Value, 1e-12)
	assert.Equal(t, 4, cfg.Network.Input[0])
	assert.Equal(t, 8, cfg.MiniBatchValid)
	assert.Equal(t, "sgd", cfg.ModelOptimizer.Kind)
	assert.InDelta(t, 0.05, cfg.ModelOptimizer.LR, 1e-12)
	assert.Equal(t, "4", cfg.Network.Options["channels"])
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"model": "cellnet", "epochs": 1, "learning_rate": 0.1}`), 0o644))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "learning_rate")
}
