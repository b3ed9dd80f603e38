// comm.go - Kommunikation zwischen Worker-Prozessen
//
// Enthaelt:
// - Comm: Rang, Anzahl und Gradienten-Mittelung
// - Local: Einzelprozess ohne Kommunikation

package runner

import "context"

// Comm ist die kollektive Kommunikation zwischen Workern. Jeder Worker
// besitzt einen disjunkten Teil der Trainingsdaten.
type Comm interface {
	Rank() int
	Size() int

	// AllReduce mittelt bufs elementweise ueber alle Worker, in place
	AllReduce(ctx context.Context, bufs [][]float32) error
}

// Local ist ein einzelner Worker
type Local struct{}

func (Local) Rank() int                                          { return 0 }
func (Local) Size() int                                          { return 1 }
func (Local) AllReduce(ctx context.Context, _ [][]float32) error { return ctx.Err() }
