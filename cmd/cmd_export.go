// cmd_export.go - Export Command
// Hauptfunktionen: ExportHandler, exportModel
package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/archsearch/nas/fs/gguf"
	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	"github.com/archsearch/nas/model"
	"github.com/archsearch/nas/optim"
	"github.com/archsearch/nas/runner"
)

// exportModel - Schreibt den aktiven Teilgraphen als <prefix>.json und
// seine Gewichte als <prefix>.gguf
func exportModel(m *model.Model, prefix string, typ gguf.TensorType) error {
	g := m.Graph
	if err := g.SetJoinMode(graph.ModeMax); err != nil {
		return err
	}

	desc, err := g.Describe(true)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(prefix+".json", append(b, '\n'), 0o644); err != nil {
		return err
	}

	ps := activeParams(g)
	ts := make([]*gguf.Tensor, 0, ps.Len())
	ps.Each(func(name string, p *graph.Parameter) {
		ts = append(ts, gguf.NewTensor(name, typ, p.Shape, p.Floats()))
	})

	kv := gguf.KV{
		"general.name": m.Name,
		"classes":      uint32(m.Config.Classes),
		"input":        []int32{int32(m.Config.Input[1]), int32(m.Config.Input[2]), int32(m.Config.Input[3])},
	}
	if err := gguf.WriteFile(prefix+".gguf", kv, ts); err != nil {
		return err
	}

	slog.Info("exported", "graph", prefix+".json", "weights", prefix+".gguf", "nodes", len(desc.Nodes), "tensors", len(ts))
	return nil
}

// ExportHandler - Exportiert ein Modell mit fixierter Architektur
func ExportHandler(cmd *cobra.Command, args []string) error {
	m, err := modelFromFlags(cmd, args)
	if err != nil {
		return err
	}

	if dir, _ := cmd.Flags().GetString("checkpoint"); dir != "" {
		// ohne Optimierer werden nur die Gewichte geladen
		if _, err := runner.LoadCheckpoint(dir, m.Graph.Parameters(false), orderedmap.New[string, *optim.Optimizer]()); err != nil {
			return err
		}
	}

	name, _ := cmd.Flags().GetString("dtype")
	d, err := ml.ParseDType(name)
	if err != nil {
		return err
	}
	typ, err := gguf.TensorTypeFor(d)
	if err != nil {
		return err
	}

	prefix, _ := cmd.Flags().GetString("output")
	if prefix == "" {
		prefix = m.Name
	}
	if err := exportModel(m, prefix, typ); err != nil {
		return fmt.Errorf("export %s: %w", m.Name, err)
	}
	return nil
}

// newExportCmd - Erstellt den export Command
func newExportCmd() *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export MODEL",
		Short: "Export the active subgraph and its weights",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ExportHandler,
	}

	addModelFlags(exportCmd)
	exportCmd.Flags().String("checkpoint", "", "Load weights from a checkpoint directory")
	exportCmd.Flags().StringP("output", "o", "", "Output prefix for .json and .gguf (default: model name)")
	exportCmd.Flags().String("dtype", "f32", "Storage type of the weights (f32, f16, bf16)")

	return exportCmd
}
