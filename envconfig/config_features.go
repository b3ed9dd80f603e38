// config_features.go - Messparameter und Flags
//
// Dieses Modul enthaelt:
// - Latenz-Messparameter (Runs, Warmup)
// - Thread-Anzahl fuer das CPU-Backend
package envconfig

// =============================================================================
// Latenz-Messung
// =============================================================================

var (
	// LatencyRuns ist die Anzahl gemessener Wiederholungen pro Modul
	LatencyRuns = Uint("NAS_LATENCY_RUNS", 10)

	// LatencyWarmup ist die Anzahl verworfener Aufwaermlaeufe (mindestens 1)
	LatencyWarmup = Uint("NAS_LATENCY_WARMUP", 1)
)

// =============================================================================
// Backend
// =============================================================================

var (
	// NumThreads begrenzt die Threads des CPU-Backends (0 = alle)
	NumThreads = Uint("NAS_NUM_THREADS", 0)

	// NoColor deaktiviert farbige Ausgabe in der CLI
	NoColor = Bool("NAS_NOCOLOR")
)
