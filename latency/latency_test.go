// MODUL: latency_test
// ZWECK: Unit-Tests fuer Messung, Memo-Cache, Tabelle und Profile
// INPUT: Keine
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Legt sqlite-Dateien in t.TempDir() an
// ABHAENGIGKEITEN: testify, graph, ml/backend/cpu, go-sqlite3
// HINWEISE: Wenige Wiederholungen halten die Tests schnell

package latency

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	_ "github.com/archsearch/nas/ml/backend/cpu"
)

func newTestBackend(t *testing.T) ml.Backend {
	t.Helper()
	b, err := ml.NewBackend("cpu", ml.BackendParams{})
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

// must bricht den Test ab, wenn ein Builder einen Fehler meldet
func must(t *testing.T) func(*graph.Module, error) *graph.Module {
	return func(m *graph.Module, err error) *graph.Module {
		t.Helper()
		require.NoError(t, err)
		return m
	}
}

// testGraph: x -> {convA, convB} -> join -> bn -> gap
func testGraph(t *testing.T) (g, x, convA, convB, join, bn *graph.Module) {
	t.Helper()
	g = graph.New("net", graph.WithSeed(3))
	x = must(t)(g.Input("x", 1, 3, 8, 8))
	convA = must(t)(g.Conv("a", x, graph.ConvConfig{Out: 4, Kernel: graph.Pair(3), Pad: graph.Pair(1)}))
	convB = must(t)(g.Conv("b", x, graph.ConvConfig{Out: 4, Kernel: graph.Pair(3), Pad: graph.Pair(1)}))
	join = must(t)(g.Join("join", graph.ModeMax, convA, convB))
	bn = must(t)(g.BatchNorm("bn", join))
	must(t)(g.GlobalAvgPool("gap", bn))
	return g, x, convA, convB, join, bn
}

// ============================================================================
// Measurer
// ============================================================================

func TestPredictSameSignatureTwice(t *testing.T) {
	_, _, convA, convB, _, _ := testGraph(t)
	est := NewMeasurer(newTestBackend(t), WithRuns(3))

	sigA, err := convA.Signature()
	require.NoError(t, err)
	sigB, err := convB.Signature()
	require.NoError(t, err)
	require.Equal(t, sigA, sigB)

	first, err := est.Predict(context.Background(), convA)
	require.NoError(t, err)
	second, err := est.Predict(context.Background(), convB)
	require.NoError(t, err)

	assert.Greater(t, first, 0.0)
	assert.Less(t, (second-first)/first, 0.5)
	assert.GreaterOrEqual(t, (second-first)/first, -0.5)
}

func TestMeasurementErrors(t *testing.T) {
	g, x, _, _, join, _ := testGraph(t)
	sub := must(t)(g.AppendGraph("sub", x))
	est := NewMeasurer(newTestBackend(t), WithRuns(1))

	for _, m := range []*graph.Module{x, join, sub} {
		_, err := est.Predict(context.Background(), m)
		var merr *MeasurementError
		require.ErrorAs(t, err, &merr, m.Path())
		assert.Equal(t, m.Path(), merr.Module)
	}
}

func TestMeasureKeepsRunningStats(t *testing.T) {
	_, _, _, _, _, bn := testGraph(t)
	mean := bn.Op().Params()[2]
	before := mean.Floats()

	est := NewMeasurer(newTestBackend(t), WithRuns(2), WithWarmup(1))
	_, err := est.Predict(context.Background(), bn)
	require.NoError(t, err)

	assert.Equal(t, before, mean.Floats())
}

func TestPredictCanceled(t *testing.T) {
	_, _, convA, _, _, _ := testGraph(t)
	est := NewMeasurer(newTestBackend(t), WithRuns(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := est.Predict(ctx, convA)
	assert.ErrorIs(t, err, context.Canceled)
}

// ============================================================================
// Profile und Report
// ============================================================================

func TestProfileSkipsStructuralModules(t *testing.T) {
	g, _, _, _, _, _ := testGraph(t)
	est := NewMeasurer(newTestBackend(t), WithRuns(1))

	results, err := Profile(context.Background(), est, g, true)
	require.NoError(t, err)

	var paths []string
	for _, r := range results {
		paths = append(paths, r.Path)
		assert.Greater(t, r.Seconds, 0.0)
	}
	// join waehlt genau einen Zweig
	assert.Len(t, paths, 3)
	assert.Contains(t, paths, "bn")
	assert.Contains(t, paths, "gap")
	assert.NotContains(t, paths, "join")
	assert.NotContains(t, paths, "x")

	var buf bytes.Buffer
	Report(&buf, results)
	assert.Contains(t, buf.String(), "MODULE")
	assert.Contains(t, buf.String(), "bn")
	assert.Contains(t, buf.String(), "total:")
	assert.InDelta(t, results[0].Seconds+results[1].Seconds+results[2].Seconds, Total(results), 1e-12)
}

func TestProfileLogsAndSkipsMissingEntries(t *testing.T) {
	g, _, _, _, _, _ := testGraph(t)
	table := openTestTable(t)

	results, err := Profile(context.Background(), &Lookup{Table: table, Device: "cpu"}, g, false)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// ============================================================================
// Tabelle
// ============================================================================

func openTestTable(t *testing.T) *Table {
	t.Helper()
	table, err := OpenTable(filepath.Join(t.TempDir(), "latency.db"))
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })
	return table
}

func TestTableGetPutAll(t *testing.T) {
	ctx := context.Background()
	table := openTestTable(t)

	_, ok, err := table.Get(ctx, "conv()", "cpu")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, table.Put(ctx, Entry{Signature: "conv()", Device: "cpu", Runs: 10, Seconds: 0.5, MeasuredAt: at}))
	require.NoError(t, table.Put(ctx, Entry{Signature: "conv()", Device: "cuda:1", Runs: 10, Seconds: 0.1, MeasuredAt: at}))
	require.NoError(t, table.Put(ctx, Entry{Signature: "conv()", Device: "cpu", Runs: 20, Seconds: 0.25, MeasuredAt: at}))

	e, ok, err := table.Get(ctx, "conv()", "cpu")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 20, e.Runs)
	assert.InDelta(t, 0.25, e.Seconds, 1e-12)
	assert.True(t, at.Equal(e.MeasuredAt), e.MeasuredAt)

	all, err := table.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "cpu", all[0].Device)
	assert.Equal(t, "cuda:1", all[1].Device)
}

func TestMeasurerUsesAndFillsTable(t *testing.T) {
	ctx := context.Background()
	_, _, convA, _, _, bn := testGraph(t)
	table := openTestTable(t)

	sig, err := convA.Signature()
	require.NoError(t, err)
	require.NoError(t, table.Put(ctx, Entry{Signature: sig, Device: "cpu", Runs: 10, Seconds: 42}))

	est := NewMeasurer(newTestBackend(t), WithRuns(1), WithTable(table))
	s, err := est.Predict(ctx, convA)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, s, 1e-12)

	_, err = est.Predict(ctx, bn)
	require.NoError(t, err)
	bnSig, err := bn.Signature()
	require.NoError(t, err)
	_, ok, err := table.Get(ctx, bnSig, "cpu")
	require.NoError(t, err)
	assert.True(t, ok)

	lookup := &Lookup{Table: table, Device: "cpu"}
	s, err = lookup.Predict(ctx, convA)
	require.NoError(t, err)
	assert.InDelta(t, 42.0, s, 1e-12)

	var merr *MeasurementError
	_, err = (&Lookup{Table: table, Device: "cuda:0"}).Predict(ctx, convA)
	assert.ErrorAs(t, err, &merr)
}
