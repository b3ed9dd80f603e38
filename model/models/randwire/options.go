// Modul: options.go
// Beschreibung: Konfigurationsoptionen fuer zufaellig verdrahtete Netze
// Hauptstrukturen:
//   - Options: Knotenanzahl, Watts-Strogatz-Parameter und Kanalbereich
//   - defaultCandidates: Gewichtete Liste der Knotentypen

package randwire

import (
	"fmt"
	"slices"
)

// Knotentypen
const (
	kindRandom     = "random"
	kindConv3x3    = "conv3x3"
	kindConv5x5    = "conv5x5"
	kindSepConv3x3 = "sepconv3x3"
	kindSepConv5x5 = "sepconv5x5"
	kindMaxPool    = "maxpool"
	kindAvgPool    = "avgpool"
)

var kinds = []string{kindRandom, kindConv3x3, kindConv5x5, kindSepConv3x3, kindSepConv5x5, kindMaxPool, kindAvgPool}

// defaultCandidates bestimmt die Ziehwahrscheinlichkeit ueber Wiederholung
var defaultCandidates = []string{
	kindRandom, kindSepConv3x3, kindSepConv5x5,
	kindRandom, kindSepConv3x3, kindSepConv5x5,
	kindRandom, kindSepConv3x3, kindSepConv5x5,
	kindMaxPool, kindAvgPool,
}

// Options enthaelt alle konfigurierbaren Parameter des Suchraums
type Options struct {
	Vertices    int      `nas:"vertices,alt:n_vertices"`
	K           int      `nas:"k"`
	P           float64  `nas:"p"`
	MinChannels int      `nas:"min_channels"`
	MaxChannels int      `nas:"max_channels"`
	Candidates  []string `nas:"candidates"`
}

func defaultOptions() Options {
	return Options{
		Vertices:    20,
		K:           4,
		P:           0.75,
		MinChannels: 128,
		MaxChannels: 1024,
		Candidates:  slices.Clone(defaultCandidates),
	}
}

func (o Options) validate() error {
	if o.Vertices < 1 {
		return fmt.Errorf("vertices must be positive, got %d", o.Vertices)
	}
	if o.K < 0 || o.K >= o.Vertices {
		return fmt.Errorf("k must be in [0,%d), got %d", o.Vertices, o.K)
	}
	if o.P < 0 || o.P > 1 {
		return fmt.Errorf("p must be in [0,1], got %g", o.P)
	}
	if o.MinChannels < 1 || o.MaxChannels < o.MinChannels {
		return fmt.Errorf("invalid channel range [%d,%d)", o.MinChannels, o.MaxChannels)
	}
	if len(o.Candidates) == 0 {
		return fmt.Errorf("no candidates")
	}
	for _, c := range o.Candidates {
		if !slices.Contains(kinds, c) {
			return fmt.Errorf("unknown candidate %q", c)
		}
	}
	return nil
}
