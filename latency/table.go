// table.go - Persistente Latenz-Tabelle
// Enthaelt: Table (sqlite), Entry, Get/Put/All, Lookup-Estimator

package latency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite-Treiber registrieren

	"github.com/archsearch/nas/graph"
)

// Entry ist eine gespeicherte Messung
type Entry struct {
	Signature  string    `json:"signature"`
	Device     string    `json:"device"`
	Runs       int       `json:"runs"`
	Seconds    float64   `json:"seconds"`
	MeasuredAt time.Time `json:"measured_at"`
}

// Table ist eine Lookup-Tabelle (Signatur, Geraet) -> Latenz.
// SQLite serialisiert Schreiber selbst; WAL erlaubt parallele Leser.
type Table struct {
	conn *sql.DB
}

// OpenTable oeffnet oder erstellt die Tabelle unter path
func OpenTable(path string) (*Table, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open latency table: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping latency table: %w", err)
	}

	t := &Table{conn: conn}
	if err := t.init(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize latency table: %w", err)
	}
	return t, nil
}

// Close schliesst die Verbindung
func (t *Table) Close() error {
	_, _ = t.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return t.conn.Close()
}

func (t *Table) init() error {
	_, err := t.conn.Exec(`
	CREATE TABLE IF NOT EXISTS latency (
		signature TEXT NOT NULL,
		device TEXT NOT NULL,
		runs INTEGER NOT NULL,
		seconds REAL NOT NULL,
		measured_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (signature, device)
	);
	`)
	return err
}

// Get sucht eine Messung
func (t *Table) Get(ctx context.Context, signature, device string) (Entry, bool, error) {
	e := Entry{Signature: signature, Device: device}
	err := t.conn.QueryRowContext(ctx,
		`SELECT runs, seconds, measured_at FROM latency WHERE signature = ? AND device = ?`,
		signature, device,
	).Scan(&e.Runs, &e.Seconds, &e.MeasuredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	} else if err != nil {
		return Entry{}, false, fmt.Errorf("get latency: %w", err)
	}
	return e, true, nil
}

// Put speichert eine Messung und ersetzt eine vorhandene
func (t *Table) Put(ctx context.Context, e Entry) error {
	if e.MeasuredAt.IsZero() {
		e.MeasuredAt = time.Now().UTC()
	}
	_, err := t.conn.ExecContext(ctx, `
		INSERT INTO latency (signature, device, runs, seconds, measured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(signature, device) DO UPDATE SET
			runs = excluded.runs,
			seconds = excluded.seconds,
			measured_at = excluded.measured_at
	`, e.Signature, e.Device, e.Runs, e.Seconds, e.MeasuredAt)
	if err != nil {
		return fmt.Errorf("put latency: %w", err)
	}
	return nil
}

// All gibt alle Messungen nach Geraet und Signatur sortiert zurueck
func (t *Table) All(ctx context.Context) ([]Entry, error) {
	rows, err := t.conn.QueryContext(ctx,
		`SELECT signature, device, runs, seconds, measured_at FROM latency ORDER BY device, signature`)
	if err != nil {
		return nil, fmt.Errorf("list latency: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Signature, &e.Device, &e.Runs, &e.Seconds, &e.MeasuredAt); err != nil {
			return nil, fmt.Errorf("scan latency: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Lookup beantwortet Anfragen nur aus einer Tabelle, ohne zu messen
type Lookup struct {
	Table  *Table
	Device string
}

func (l *Lookup) Predict(ctx context.Context, m *graph.Module) (float64, error) {
	if err := measurable(m); err != nil {
		return 0, err
	}

	sig, err := m.Signature()
	if err != nil {
		return 0, &MeasurementError{Module: m.Path(), Reason: "no signature", Err: err}
	}

	e, ok, err := l.Table.Get(ctx, sig, l.Device)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &MeasurementError{Module: m.Path(), Signature: sig, Reason: "not in table for " + l.Device}
	}
	return e.Seconds, nil
}
