// MODUL: search_test
// ZWECK: End-to-End-Tests fuer Searcher und Trainer auf synthetischen Daten
// INPUT: cellnet mit einer Zelle, 20 synthetische Beispiele
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Schreibt Monitor, Architektur und Checkpoints ins Temp-Verzeichnis
// ABHAENGIGKEITEN: testify, go-cmp, ml/backend/cpu, model/models/cellnet
// HINWEISE: 4 Schritte pro Epoche (16 Trainingsbeispiele, Batch 4)

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/graph"
)

func newSearcher(t *testing.T, cfg Config) *Searcher {
	t.Helper()
	train, valid, err := OpenLoaders(cfg, nil)
	require.NoError(t, err)

	s, err := NewSearcher(cfg, newTestModel(t, cfg), newTestBackend(t), train, valid, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSearchFullMode(t *testing.T) {
	cfg := baseConfig(t, graph.ModeFull)
	require.NoError(t, cfg.Validate())

	s := newSearcher(t, cfg)
	g := s.Model.Graph
	archBefore := snapshot(g.ArchParameters(false))
	netBefore := snapshot(g.NetParameters(false))

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 2, s.Epoch())

	assert.NotEqual(t, archBefore, snapshot(g.ArchParameters(false)), "Architekturparameter muessen sich aendern")
	assert.NotEqual(t, netBefore, snapshot(g.NetParameters(false)), "Netzparameter muessen sich aendern")

	lines := readLines(t, filepath.Join(cfg.Output, "monitor.jsonl"))
	require.Len(t, lines, 2)
	for i, l := range lines {
		assert.EqualValues(t, i, l["epoch"])
		for _, k := range []string{"train_loss", "train_err", "valid_loss", "valid_err", "seconds"} {
			assert.Contains(t, l, k)
		}
	}

	for _, f := range []string{"arch.json", "search_config.json", "checkpoint/checkpoint.json", "checkpoint/weights.gguf", "checkpoint/arch.gguf"} {
		assert.FileExists(t, filepath.Join(cfg.Output, f))
	}

	arch, err := graph.ReadArchitecture(filepath.Join(cfg.Output, "arch.json"))
	require.NoError(t, err)
	assert.Equal(t, len(g.ArchModules()), arch.Len())
}

func TestSearchWarmupFreezesArchitecture(t *testing.T) {
	cfg := baseConfig(t, graph.ModeFull)
	cfg.Epochs = 1
	cfg.Warmup = 1
	require.NoError(t, cfg.Validate())

	s := newSearcher(t, cfg)
	g := s.Model.Graph
	archBefore := snapshot(g.ArchParameters(false))

	require.NoError(t, s.Run(context.Background()))
	if diff := cmp.Diff(archBefore, snapshot(g.ArchParameters(false))); diff != "" {
		t.Errorf("Architekturparameter im Warmup veraendert (-before +after):\n%s", diff)
	}

	arch, _ := s.optimizers.Get("arch")
	assert.Zero(t, arch.Step(), "kein Architektur-Update im Warmup")
}

func TestSearchSampleModeReinforce(t *testing.T) {
	cfg := baseConfig(t, graph.ModeSample)
	cfg.Epochs = 1
	cfg.ControlVariate = ControlVariate{Kind: BaselineEMA, Value: 0.5}
	require.NoError(t, cfg.Validate())
	require.Equal(t, GradientReinforce, cfg.ArchGradient)

	s := newSearcher(t, cfg)
	g := s.Model.Graph
	archBefore := snapshot(g.ArchParameters(false))

	require.NoError(t, s.Run(context.Background()))
	assert.NotEqual(t, archBefore, snapshot(g.ArchParameters(false)), "Score-Gradient muss die Architektur aendern")

	arch, _ := s.optimizers.Get("arch")
	assert.Equal(t, 4, arch.Step())
	assert.NotEqual(t, 0.5, s.baseline.value, "EMA-Baseline folgt dem Verlust")
}

func TestSearchResumesFromCheckpoint(t *testing.T) {
	cfg := baseConfig(t, graph.ModeFull)
	cfg.Epochs = 1
	require.NoError(t, cfg.Validate())

	first := newSearcher(t, cfg)
	require.NoError(t, first.Run(context.Background()))

	cfg.Epochs = 2
	second := newSearcher(t, cfg)
	require.NoError(t, second.resume())
	assert.Equal(t, 1, second.Epoch())

	if diff := cmp.Diff(snapshot(first.Model.Graph.Parameters(false)), snapshot(second.Model.Graph.Parameters(false))); diff != "" {
		t.Errorf("Parameter nach Fortsetzung (-want +got):\n%s", diff)
	}
	for _, name := range []string{"model", "arch"} {
		want, _ := first.optimizers.Get(name)
		got, _ := second.optimizers.Get(name)
		assert.Equal(t, want.Step(), got.Step(), "Schritt von %s", name)
	}

	require.NoError(t, second.Run(context.Background()))
	assert.Equal(t, 2, second.Epoch())
	assert.Len(t, readLines(t, filepath.Join(cfg.Output, "monitor.jsonl")), 2, "nur die fehlende Epoche laeuft")
}

func TestSearchCorruptCheckpointStartsFresh(t *testing.T) {
	cfg := baseConfig(t, graph.ModeFull)
	cfg.Epochs = 1
	require.NoError(t, cfg.Validate())

	dir := filepath.Join(cfg.Output, "checkpoint")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, checkpointFile), []byte("not json"), 0o644))

	s := newSearcher(t, cfg)
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 1, s.Epoch())
}

func TestSearchStopsOnCancel(t *testing.T) {
	cfg := baseConfig(t, graph.ModeFull)
	require.NoError(t, cfg.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newSearcher(t, cfg)
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
	assert.Zero(t, s.Epoch())
	assert.NoFileExists(t, filepath.Join(cfg.Output, "checkpoint", checkpointFile))
}

func TestNewSearcherRejectsMaxMode(t *testing.T) {
	cfg := baseConfig(t, graph.ModeMax)
	require.NoError(t, cfg.Validate())

	train, valid, err := OpenLoaders(cfg, nil)
	require.NoError(t, err)
	_, err = NewSearcher(cfg, newTestModel(t, cfg), newTestBackend(t), train, valid, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTrainerRetrainsSearchedArchitecture(t *testing.T) {
	searchCfg := baseConfig(t, graph.ModeFull)
	searchCfg.Epochs = 1
	require.NoError(t, searchCfg.Validate())
	require.NoError(t, newSearcher(t, searchCfg).Run(context.Background()))

	cfg := baseConfig(t, graph.ModeFull)
	cfg.Epochs = 1
	cfg.Architecture = filepath.Join(searchCfg.Output, "arch.json")
	require.NoError(t, cfg.Validate())

	train, valid, err := OpenLoaders(cfg, nil)
	require.NoError(t, err)
	m := newTestModel(t, cfg)
	tr, err := NewTrainer(cfg, m, newTestBackend(t), train, valid, nil)
	require.NoError(t, err)
	defer tr.Close()

	want, err := graph.ReadArchitecture(cfg.Architecture)
	require.NoError(t, err)
	got := m.Graph.Architecture()
	for pair := want.Oldest(); pair != nil; pair = pair.Next() {
		v, _ := got.Get(pair.Key)
		assert.Equal(t, pair.Value, v, "Join %s", pair.Key)
	}
	for _, j := range m.Graph.ArchModules() {
		join, _ := j.AsJoin()
		assert.Equal(t, graph.ModeMax, join.Mode())
	}

	archBefore := snapshot(m.Graph.ArchParameters(false))
	netBefore := snapshot(m.Graph.NetParameters(false))
	require.NoError(t, tr.Run(context.Background()))

	assert.Equal(t, archBefore, snapshot(m.Graph.ArchParameters(false)), "Training aendert die Architektur nicht")
	assert.NotEqual(t, netBefore, snapshot(m.Graph.NetParameters(false)))
	assert.FileExists(t, filepath.Join(cfg.Output, "train_config.json"))
	assert.Len(t, readLines(t, filepath.Join(cfg.Output, "monitor.jsonl")), 1)
}
