// cmd_env.go - Env Command
// Hauptfunktionen: EnvHandler
package cmd

import (
	"fmt"
	"os"
	"slices"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/archsearch/nas/envconfig"
)

// EnvHandler - Zeigt alle Umgebungsvariablen mit aktuellem Wert an
func EnvHandler(cmd *cobra.Command, args []string) error {
	vars := envconfig.AsMap()
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	data := make([][]string, 0, len(keys))
	for _, k := range keys {
		v := vars[k]
		data = append(data, []string{v.Name, fmt.Sprint(v.Value), v.Description})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"NAME", "VALUE", "DESCRIPTION"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	table.AppendBulk(data)
	table.Render()

	return nil
}

// newEnvCmd - Erstellt den env Command
func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the environment configuration",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}
}
