// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - Bool: Schalter-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Getter
// =============================================================================

// parsed liest key mit parse. Leere oder ungueltige Werte ergeben def, ein
// ungueltiger Wert wird zusaetzlich gemeldet.
func parsed[T any](key string, def T, parse func(string) (T, error)) T {
	s := Var(key)
	if s == "" {
		return def
	}
	v, err := parse(s)
	if err != nil {
		slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", def)
		return def
	}
	return v
}

// Bool liest einen Schalter (Default: false)
func Bool(key string) func() bool {
	return func() bool {
		return parsed(key, false, strconv.ParseBool)
	}
}

// Uint liest eine nicht-negative Ganzzahl mit Default-Wert
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		return parsed(key, defaultValue, func(s string) (uint, error) {
			n, err := strconv.ParseUint(s, 10, 0)
			return uint(n), err
		})
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Variablen mit aktuellem Wert und Beschreibung zurueck
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"NAS_DEBUG":          {"NAS_DEBUG", LogLevel(), "Show additional debug information (e.g. NAS_DEBUG=1, NAS_DEBUG=2 for trace)"},
		"NAS_DEVICE":         {"NAS_DEVICE", Device(), "Execution context for training and measurement (default: cpu)"},
		"NAS_OUTPUT":         {"NAS_OUTPUT", Output(), "Directory for checkpoints, architectures and monitor logs (default: log)"},
		"NAS_SEED":           {"NAS_SEED", Var("NAS_SEED"), "Random seed for weights and architecture sampling"},
		"NAS_LATENCY_DB":     {"NAS_LATENCY_DB", LatencyDB(), "Path of the persistent latency table (sqlite)"},
		"NAS_LATENCY_RUNS":   {"NAS_LATENCY_RUNS", LatencyRuns(), "Measured repetitions per module (default: 10)"},
		"NAS_LATENCY_WARMUP": {"NAS_LATENCY_WARMUP", LatencyWarmup(), "Discarded warm-up repetitions per module (default: 1)"},
		"NAS_NUM_THREADS":    {"NAS_NUM_THREADS", NumThreads(), "Threads used by the CPU backend (default: all)"},
		"NAS_NOCOLOR":        {"NAS_NOCOLOR", NoColor(), "Disable colored terminal output"},
	}
}

// Values gibt alle Werte formatiert zurueck, etwa fuer Log-Ausgaben
func Values() map[string]string {
	vals := make(map[string]string, len(AsMap()))
	for k, v := range AsMap() {
		vals[k] = fmt.Sprint(v.Value)
	}
	return vals
}
