// cmd_list.go - List Command
// Hauptfunktionen: ListHandler, newListCmd
package cmd

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/archsearch/nas/model"
)

// ListHandler - Listet alle registrierten Suchraeume auf. Mit --details
// wird jeder Suchraum mit den Modell-Flags gebaut und vermessen.
func ListHandler(cmd *cobra.Command, args []string) error {
	details, _ := cmd.Flags().GetBool("details")

	var data [][]string
	for _, name := range model.Names() {
		if len(args) > 0 && !strings.HasPrefix(name, strings.ToLower(args[0])) {
			continue
		}
		if !details {
			data = append(data, []string{name})
			continue
		}

		m, err := modelFromFlags(cmd, []string{name})
		if err != nil {
			slog.Warn("cannot build model", "name", name, "error", err)
			data = append(data, []string{name, "-", "-", "-"})
			continue
		}
		g := m.Graph
		data = append(data, []string{
			name,
			strconv.Itoa(len(g.NetModules(false))),
			strconv.Itoa(len(g.ArchModules())),
			strconv.Itoa(countParams(g.NetParameters(false))),
		})
	}

	header := []string{"NAME"}
	if details {
		header = append(header, "MODULES", "JOINS", "PARAMS")
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	return nil
}

// newListCmd - Erstellt den list Command
func newListCmd() *cobra.Command {
	listCmd := &cobra.Command{
		Use:     "list [PREFIX]",
		Aliases: []string{"ls"},
		Short:   "List search spaces",
		Args:    cobra.MaximumNArgs(1),
		RunE:    ListHandler,
	}

	listCmd.Flags().Bool("details", false, "Build every search space and show its size")
	addModelFlags(listCmd)

	return listCmd
}
