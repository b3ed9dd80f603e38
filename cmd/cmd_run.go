// cmd_run.go - Search und Train Commands
// Hauptfunktionen: SearchHandler, TrainHandler, prepareRun
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/archsearch/nas/ml"
	"github.com/archsearch/nas/model"
	"github.com/archsearch/nas/runner"
)

// run - Gemeinsamer Zustand von Suche und Training
type run struct {
	cfg          runner.Config
	model        *model.Model
	backend      ml.Backend
	train, valid runner.Loader
}

// prepareRun - Laedt Konfiguration, Modell, Backend und Daten
func prepareRun(cmd *cobra.Command, path string) (*run, error) {
	cfg, err := runner.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.Output = output
	}
	if dataset, _ := cmd.Flags().GetString("dataset"); dataset != "" {
		cfg.Dataset = dataset
	}

	m, err := model.New(cfg.Model, cfg.Network)
	if err != nil {
		return nil, err
	}

	b, err := newBackend(cfg.Device, cfg.Seed)
	if err != nil {
		return nil, err
	}

	train, valid, err := runner.OpenLoaders(cfg, runner.Local{})
	if err != nil {
		b.Close()
		return nil, err
	}

	slog.Info("run prepared", "model", cfg.Model, "device", b.Device(), "output", cfg.Output,
		"train", train.Len(), "valid", valid.Len())
	return &run{cfg: cfg, model: m, backend: b, train: train, valid: valid}, nil
}

// signalContext - Bricht bei SIGINT oder SIGTERM ab
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// finish - Meldet einen Abbruch als regulaeres Ende
func finish(err error) error {
	if errors.Is(err, context.Canceled) {
		slog.Warn("interrupted, the last finished epoch is checkpointed")
		return nil
	}
	return err
}

// SearchHandler - Fuehrt eine Architektursuche aus
func SearchHandler(cmd *cobra.Command, args []string) error {
	r, err := prepareRun(cmd, args[0])
	if err != nil {
		return err
	}
	defer r.backend.Close()

	s, err := runner.NewSearcher(r.cfg, r.model, r.backend, r.train, r.valid, runner.Local{})
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	if err := finish(s.Run(ctx)); err != nil {
		return err
	}
	slog.Info("search finished", "architecture", filepath.Join(r.cfg.Output, "arch.json"))
	return nil
}

// TrainHandler - Trainiert eine feste Architektur neu
func TrainHandler(cmd *cobra.Command, args []string) error {
	r, err := prepareRun(cmd, args[0])
	if err != nil {
		return err
	}
	defer r.backend.Close()

	if arch, _ := cmd.Flags().GetString("architecture"); arch != "" {
		r.cfg.Architecture = arch
	}

	t, err := runner.NewTrainer(r.cfg, r.model, r.backend, r.train, r.valid, runner.Local{})
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := signalContext(cmd)
	defer cancel()

	return finish(t.Run(ctx))
}

// addRunFlags - Flags, die Werte der Laufkonfiguration ueberschreiben
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("output", "", "Override the output directory")
	cmd.Flags().String("dataset", "", "Override the dataset file (GGUF with images and labels)")
}

// newSearchCmd - Erstellt den search Command
func newSearchCmd() *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search CONFIG",
		Short: "Search an architecture",
		Args:  cobra.ExactArgs(1),
		RunE:  SearchHandler,
	}

	addRunFlags(searchCmd)

	return searchCmd
}

// newTrainCmd - Erstellt den train Command
func newTrainCmd() *cobra.Command {
	trainCmd := &cobra.Command{
		Use:   "train CONFIG",
		Short: "Retrain a searched architecture",
		Args:  cobra.ExactArgs(1),
		RunE:  TrainHandler,
	}

	addRunFlags(trainCmd)
	trainCmd.Flags().String("architecture", "", "Override the architecture file")

	return trainCmd
}
