// config.go - Haupt-Konfigurationsfunktionen fuer das NAS-Toolkit
//
// Dieses Modul enthaelt:
// - Device: Gibt das Ausfuehrungsgeraet zurueck (NAS_DEVICE)
// - Output: Gibt das Ausgabeverzeichnis zurueck (NAS_OUTPUT)
// - Seed: Gibt den Zufalls-Seed zurueck (NAS_SEED)
// - LatencyDB: Gibt den Pfad der Latenz-Tabelle zurueck (NAS_LATENCY_DB)
// - LogLevel: Gibt Log-Level zurueck (NAS_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Messparameter und Flags
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Device gibt das Ausfuehrungsgeraet zurueck
// Konfigurierbar via NAS_DEVICE (z.B. "cpu", "cuda:1")
// Default: cpu
func Device() string {
	if s := Var("NAS_DEVICE"); s != "" {
		return strings.ToLower(s)
	}
	return "cpu"
}

// Output gibt das Ausgabeverzeichnis fuer Checkpoints und Logs zurueck
// Konfigurierbar via NAS_OUTPUT
// Default: log
func Output() string {
	if s := Var("NAS_OUTPUT"); s != "" {
		return filepath.Clean(s)
	}
	return "log"
}

// Seed gibt den Zufalls-Seed zurueck
// Konfigurierbar via NAS_SEED
// Default: aktuelle Zeit, damit Laeufe ohne Seed nicht identisch sind
func Seed() int64 {
	if s := Var("NAS_SEED"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		slog.Warn("invalid NAS_SEED, using time based seed", "value", s)
	}
	return time.Now().UnixNano()
}

// LatencyDB gibt den Pfad der persistenten Latenz-Tabelle zurueck
// Konfigurierbar via NAS_LATENCY_DB
// Leer = nur In-Memory-Cache
func LatencyDB() string {
	return Var("NAS_LATENCY_DB")
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via NAS_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("NAS_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
