// Modul: options.go
// Beschreibung: Konfigurationsoptionen fuer den zellbasierten Suchraum
// Hauptstrukturen:
//   - Options: Kanaele, Zellen, Knoten je Zelle, Stem-Breite und Kandidaten
//   - Candidates: Alle bekannten Kanten-Operationen

package cellnet

import (
	"fmt"
	"slices"
)

// Kanten-Operationen
const (
	OpConv3x3    = "conv3x3"
	OpConv5x5    = "conv5x5"
	OpSepConv3x3 = "sepconv3x3"
	OpMaxPool    = "maxpool"
	OpAvgPool    = "avgpool"
	OpIdentity   = "identity"
	OpZero       = "zero"
)

// Candidates ist die Default-Menge der Kanten-Operationen in Join-Reihenfolge
var Candidates = []string{OpConv3x3, OpConv5x5, OpSepConv3x3, OpMaxPool, OpAvgPool, OpIdentity, OpZero}

// Options enthaelt alle konfigurierbaren Parameter des Suchraums
type Options struct {
	Channels        int      `nas:"channels,alt:init_channels"`
	Cells           int      `nas:"cells,alt:num_cells"`
	Nodes           int      `nas:"nodes,alt:num_nodes"`
	StemWidth       int      `nas:"stem_width"`
	Candidates      []string `nas:"candidates"`
	StraightThrough bool     `nas:"straight_through"`
}

func defaultOptions() Options {
	return Options{
		Channels:   16,
		Cells:      2,
		Nodes:      2,
		Candidates: slices.Clone(Candidates),
	}
}

func (o *Options) validate() error {
	if o.Channels < 1 || o.Cells < 1 || o.Nodes < 1 {
		return fmt.Errorf("channels, cells and nodes must be positive, got %d, %d, %d", o.Channels, o.Cells, o.Nodes)
	}
	if o.StemWidth == 0 {
		o.StemWidth = o.Channels
	}
	if o.StemWidth < 1 || o.StemWidth > o.Channels {
		return fmt.Errorf("stem_width must be in [1,%d], got %d", o.Channels, o.StemWidth)
	}
	if len(o.Candidates) < 2 {
		return fmt.Errorf("need at least 2 candidates, got %v", o.Candidates)
	}
	for i, c := range o.Candidates {
		if !slices.Contains(Candidates, c) {
			return fmt.Errorf("unknown candidate %q", c)
		}
		if slices.Contains(o.Candidates[:i], c) {
			return fmt.Errorf("duplicate candidate %q", c)
		}
	}
	return nil
}
