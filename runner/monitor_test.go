// MODUL: monitor_test
// ZWECK: Tests fuer Mittelwerte und das Epochenprotokoll des Monitors
// INPUT: Handgesetzte Messwerte
// OUTPUT: Test-Ergebnisse
// NEBENEFFEKTE: Schreibt monitor.jsonl ins Temp-Verzeichnis
// ABHAENGIGKEITEN: testify
// HINWEISE: Keine

package runner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readLines liest alle JSON-Zeilen einer Datei
func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), "Zeile: %s", sc.Text())
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

// readKeys gibt die Schluessel einer JSON-Zeile in Dateireihenfolge zurueck
func readKeys(t *testing.T, line []byte) []string {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader(line))
	tok, err := dec.Token()
	require.NoError(t, err)
	require.Equal(t, json.Delim('{'), tok)

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, tok.(string))
		var skip json.RawMessage
		require.NoError(t, dec.Decode(&skip))
	}
	return keys
}

func TestMonitorAverages(t *testing.T) {
	m, err := NewMonitor(t.TempDir(), 4, false)
	require.NoError(t, err)
	defer m.Close()

	m.Update("loss", 1)
	m.Update("loss", 3)
	assert.InDelta(t, 2.0, m.Average("loss"), 1e-12)
	assert.Zero(t, m.Average("unknown"))

	m.Reset()
	assert.Zero(t, m.Average("loss"), "Reset setzt Mittelwerte zurueck")
	m.Update("loss", 5)
	assert.InDelta(t, 5.0, m.Average("loss"), 1e-12)
}

func TestMonitorWritesOneLinePerEpoch(t *testing.T) {
	dir := t.TempDir()
	m, err := NewMonitor(dir, 2, false)
	require.NoError(t, err)

	m.Update("train_loss", 0.5)
	m.Update("train_err", 0.25)
	m.Display(0, 0)
	require.NoError(t, m.Write(0))

	m.Reset()
	m.Update("train_loss", 0.1)
	m.Update("train_err", 0)
	require.NoError(t, m.Write(1))
	require.NoError(t, m.Close())

	lines := readLines(t, filepath.Join(dir, "monitor.jsonl"))
	require.Len(t, lines, 2)
	assert.EqualValues(t, 0, lines[0]["epoch"])
	assert.InDelta(t, 0.5, lines[0]["train_loss"], 1e-12)
	assert.EqualValues(t, 1, lines[1]["epoch"])
	assert.InDelta(t, 0.1, lines[1]["train_loss"], 1e-12)
	assert.Contains(t, lines[1], "seconds")

	b, err := os.ReadFile(filepath.Join(dir, "monitor.jsonl"))
	require.NoError(t, err)
	first, _, _ := bytes.Cut(b, []byte("\n"))
	assert.Equal(t, []string{"epoch", "train_loss", "train_err", "seconds"}, readKeys(t, first))
}

func TestMonitorQuietWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	m, err := NewMonitor(dir, 1, true)
	require.NoError(t, err)

	m.Update("loss", 1)
	m.Display(0, 0)
	require.NoError(t, m.Write(0))
	require.NoError(t, m.Close())

	assert.InDelta(t, 1.0, m.Average("loss"), 1e-12, "stiller Monitor misst weiter")
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "stiller Monitor legt kein Verzeichnis an")
}
