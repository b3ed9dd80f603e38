// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs, setupLogging
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/archsearch/nas/envconfig"
	"github.com/archsearch/nas/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// setupLogging - Installiert den Standard-Logger gemaess NAS_DEBUG
func setupLogging(*cobra.Command, []string) {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Debug("environment", "vars", envconfig.Values())
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:              "nas",
		Short:            "Neural architecture search toolkit",
		SilenceUsage:     true,
		SilenceErrors:    true,
		PersistentPreRun: setupLogging,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	// Commands erstellen
	listCmd := newListCmd()
	showCmd := newShowCmd()
	searchCmd := newSearchCmd()
	trainCmd := newTrainCmd()
	estimateCmd := newEstimateCmd()
	exportCmd := newExportCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["NAS_DEBUG"]}

	for _, cmd := range []*cobra.Command{
		listCmd,
		showCmd,
		searchCmd,
		trainCmd,
		estimateCmd,
		exportCmd,
	} {
		switch cmd {
		case searchCmd, trainCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["NAS_DEBUG"],
				envVars["NAS_DEVICE"],
				envVars["NAS_OUTPUT"],
				envVars["NAS_SEED"],
				envVars["NAS_NUM_THREADS"],
			})
		case estimateCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["NAS_DEBUG"],
				envVars["NAS_DEVICE"],
				envVars["NAS_LATENCY_DB"],
				envVars["NAS_LATENCY_RUNS"],
				envVars["NAS_LATENCY_WARMUP"],
				envVars["NAS_NUM_THREADS"],
			})
		case showCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{envVars["NAS_DEBUG"], envVars["NAS_NOCOLOR"]})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		listCmd,
		showCmd,
		searchCmd,
		trainCmd,
		estimateCmd,
		exportCmd,
		envCmd,
	)

	return rootCmd
}
