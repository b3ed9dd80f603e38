// cmd_utils.go - Gemeinsame Hilfsfunktionen
// Hauptfunktionen: addModelFlags, modelFromFlags, newBackend, countParams, activeParams
package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/archsearch/nas/envconfig"
	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	_ "github.com/archsearch/nas/ml/backend/cpu"
	"github.com/archsearch/nas/model"
	_ "github.com/archsearch/nas/model/models"
	"github.com/archsearch/nas/runner"
)

// addModelFlags - Registriert die Flags zur Beschreibung einer Modell-Instanz
func addModelFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Take model and network from a run config file")
	cmd.Flags().IntSlice("input", []int{1, 3, 32, 32}, "Input shape (N,C,H,W)")
	cmd.Flags().Int("classes", 10, "Number of output classes")
	cmd.Flags().String("mode", string(graph.ModeFull), "Join mode (full, sample, max)")
	cmd.Flags().Uint64("seed", 0, "Seed for weights and wiring (default NAS_SEED)")
	cmd.Flags().StringToString("option", nil, "Search space option key=value (repeatable)")
	cmd.Flags().String("architecture", "", "Pin the joins to an architecture file")
}

// modelFromFlags - Erstellt ein Modell aus Argument und Flags. Mit --config
// werden Modellname und Netzwerk aus der Laufkonfiguration uebernommen.
func modelFromFlags(cmd *cobra.Command, args []string) (*model.Model, error) {
	var name string
	var c model.Config

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err := runner.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		name, c = cfg.Model, cfg.Network
	} else {
		if len(args) == 0 {
			return nil, errors.New("model name or --config is required")
		}
		name = args[0]

		input, err := cmd.Flags().GetIntSlice("input")
		if err != nil {
			return nil, err
		}
		classes, _ := cmd.Flags().GetInt("classes")
		mode, _ := cmd.Flags().GetString("mode")
		seed, _ := cmd.Flags().GetUint64("seed")
		if seed == 0 {
			seed = uint64(envconfig.Seed())
		}
		opts, err := cmd.Flags().GetStringToString("option")
		if err != nil {
			return nil, err
		}
		c = model.Config{Input: input, Classes: classes, Mode: graph.JoinMode(mode), Seed: seed, Options: opts}
	}

	m, err := model.New(name, c)
	if err != nil {
		return nil, err
	}

	if arch, _ := cmd.Flags().GetString("architecture"); arch != "" {
		if err := m.Graph.LoadArchitecture(arch); err != nil {
			return nil, fmt.Errorf("apply architecture: %w", err)
		}
		slog.Debug("architecture applied", "path", arch)
	}
	return m, nil
}

// newBackend - Oeffnet das Backend fuer device mit den Thread-Einstellungen
func newBackend(device string, seed uint64) (ml.Backend, error) {
	if device == "" {
		device = envconfig.Device()
	}
	threads := int(envconfig.NumThreads())
	if threads == 0 {
		threads = ml.GetSystemInfo().ThreadCount
	}

	b, err := ml.NewBackend(device, ml.BackendParams{
		NumThreads: threads,
		Seed:       int64(seed),
	})
	if err != nil {
		return nil, err
	}

	info := ml.GetSystemInfo()
	slog.Debug("backend", "device", b.Device(), "threads", threads, "os", info.OS, "arch", info.Arch)
	return b, nil
}

// countParams - Zaehlt die Elemente aller Parameter
func countParams(ps *graph.ParamSet) int {
	var n int
	ps.Each(func(_ string, p *graph.Parameter) {
		n += len(p.Floats())
	})
	return n
}

// activeParams - Parameter der aktiven Netzmodule, benannt wie in g
func activeParams(g *graph.Module) *graph.ParamSet {
	all := g.Parameters(false)
	out := graph.NewParamSet()
	for _, m := range g.NetModules(true) {
		for _, p := range m.Op().Params() {
			if name, ok := all.NameOf(p.ID); ok {
				out.Add(name, p)
			}
		}
	}
	return out
}
