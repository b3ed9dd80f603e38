// cmd_estimate.go - Estimate Command
// Hauptfunktionen: EstimateHandler, newEstimator
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archsearch/nas/envconfig"
	"github.com/archsearch/nas/latency"
	"github.com/archsearch/nas/ml"
)

// newEstimator - Waehlt Messung oder reine Tabellenabfrage. Der
// zurueckgegebene Closer schliesst Backend und Tabelle.
func newEstimator(cmd *cobra.Command, seed uint64) (latency.Estimator, func(), error) {
	lookup, _ := cmd.Flags().GetBool("lookup")
	runs, _ := cmd.Flags().GetInt("runs")

	var table *latency.Table
	if path := envconfig.LatencyDB(); path != "" {
		t, err := latency.OpenTable(path)
		if err != nil {
			return nil, nil, err
		}
		table = t
	}
	closeTable := func() {
		if table != nil {
			table.Close()
		}
	}

	if lookup {
		if table == nil {
			return nil, nil, errors.New("--lookup needs NAS_LATENCY_DB")
		}
		d, err := ml.ParseDevice(envconfig.Device())
		if err != nil {
			closeTable()
			return nil, nil, err
		}
		return &latency.Lookup{Table: table, Device: d.String()}, closeTable, nil
	}

	b, err := newBackend("", seed)
	if err != nil {
		closeTable()
		return nil, nil, err
	}

	opts := []latency.Option{}
	if runs > 0 {
		opts = append(opts, latency.WithRuns(runs))
	}
	if table != nil {
		opts = append(opts, latency.WithTable(table))
	}
	return latency.NewMeasurer(b, opts...), func() { closeTable(); b.Close() }, nil
}

// EstimateHandler - Schaetzt die Latenz aller Module eines Suchraums
func EstimateHandler(cmd *cobra.Command, args []string) error {
	m, err := modelFromFlags(cmd, args)
	if err != nil {
		return err
	}

	est, closeFn, err := newEstimator(cmd, m.Config.Seed)
	if err != nil {
		return err
	}
	defer closeFn()

	active, _ := cmd.Flags().GetBool("active")
	asJSON, _ := cmd.Flags().GetBool("json")

	ctx, cancel := signalContext(cmd)
	defer cancel()

	results, err := latency.Profile(ctx, est, m.Graph, active)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	latency.Report(os.Stdout, results)
	fmt.Printf("\ntotal: %.3f ms over %d modules\n", latency.Total(results)*1e3, len(results))
	return nil
}

// newEstimateCmd - Erstellt den estimate Command
func newEstimateCmd() *cobra.Command {
	estimateCmd := &cobra.Command{
		Use:   "estimate MODEL",
		Short: "Estimate the latency of every module",
		Args:  cobra.MaximumNArgs(1),
		RunE:  EstimateHandler,
	}

	addModelFlags(estimateCmd)
	estimateCmd.Flags().Bool("active", false, "Only estimate the active subgraph")
	estimateCmd.Flags().Bool("lookup", false, "Answer from the latency table only, never measure")
	estimateCmd.Flags().Int("runs", 0, "Measured repetitions per module (default NAS_LATENCY_RUNS)")
	estimateCmd.Flags().Bool("json", false, "Print the results as JSON")

	return estimateCmd
}
