// cmd_show.go - Show Command und Graph-Info Anzeige
// Hauptfunktionen: ShowHandler, showInfo, showTensor, truncatePath
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/archsearch/nas/envconfig"
	"github.com/archsearch/nas/graph"
	"github.com/archsearch/nas/ml"
	"github.com/archsearch/nas/model"
)

// ShowHandler - Zeigt Struktur, Joins und Module eines Suchraums an
func ShowHandler(cmd *cobra.Command, args []string) error {
	m, err := modelFromFlags(cmd, args)
	if err != nil {
		return err
	}

	active, _ := cmd.Flags().GetBool("active")
	asJSON, _ := cmd.Flags().GetBool("json")
	verbose, _ := cmd.Flags().GetBool("verbose")

	if name, _ := cmd.Flags().GetString("tensor"); name != "" {
		return showTensor(m, name, os.Stdout)
	}

	desc, err := m.Graph.Describe(active)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(desc)
	}

	return showInfo(m, desc, verbose, os.Stdout)
}

// showInfo - Gibt Modell, Joins und optional alle Knoten aus
func showInfo(m *model.Model, desc *graph.Description, verbose bool, w io.Writer) error {
	width := 0
	color := false
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		width, _, _ = term.GetSize(int(f.Fd()))
		color = !envconfig.NoColor()
	}

	tableRender := func(header string, rows func() [][]string) {
		if color {
			header = "\x1b[1m" + header + "\x1b[0m"
		}
		fmt.Fprintln(w, " ", header)
		table := tablewriter.NewWriter(w)
		table.SetAlignment(tablewriter.ALIGN_LEFT)
		table.SetBorder(false)
		table.SetNoWhiteSpace(true)
		table.SetTablePadding("    ")
		table.AppendBulk(rows())
		table.Render()
		fmt.Fprintln(w)
	}

	g := m.Graph
	tableRender("Model", func() (rows [][]string) {
		rows = append(rows, []string{"", "search space", m.Name})
		rows = append(rows, []string{"", "input", fmt.Sprint(m.Config.Input)})
		rows = append(rows, []string{"", "classes", strconv.Itoa(m.Config.Classes)})
		rows = append(rows, []string{"", "mode", string(m.Config.Mode)})
		rows = append(rows, []string{"", "modules", strconv.Itoa(len(desc.Nodes))})
		rows = append(rows, []string{"", "parameters", strconv.Itoa(countParams(g.NetParameters(false)))})
		rows = append(rows, []string{"", "active parameters", strconv.Itoa(countParams(activeParams(g)))})
		return
	})

	if joins := g.ArchModules(); len(joins) > 0 {
		tableRender("Joins", func() (rows [][]string) {
			for _, j := range joins {
				join, _ := j.AsJoin()
				parent, _ := j.ActiveParent()
				p := join.Probabilities()[join.Active()]
				rows = append(rows, []string{"", truncatePath(j.Path(), width/2), truncatePath(parent.Path(), width/2), fmt.Sprintf("%.3f", p)})
			}
			return
		})
	}

	if verbose {
		tableRender("Modules", func() (rows [][]string) {
			for _, n := range desc.Nodes {
				rows = append(rows, []string{"", truncatePath(n.Path, width/2), n.Kind, fmt.Sprint(n.Shape), n.Attributes})
			}
			return
		})
	}

	return nil
}

// showTensor - Gibt die Werte eines Parameters aus
func showTensor(m *model.Model, name string, w io.Writer) error {
	p, ok := m.Graph.Parameters(false).Get(name)
	if !ok {
		return fmt.Errorf("unknown parameter %q", name)
	}

	b, err := newBackend("", m.Config.Seed)
	if err != nil {
		return err
	}
	defer b.Close()
	ctx := b.NewContext()
	defer ctx.Close()

	t := ctx.FromFloats(p.Floats(), p.Shape...)
	fmt.Fprintf(w, "%s %v\n%s\n", name, p.Shape, ml.Dump(t, ml.DumpWithPrecision(4)))
	return nil
}

// truncatePath - Kuerzt einen Modulpfad von links auf width Zellen
func truncatePath(path string, width int) string {
	if width < 10 || runewidth.StringWidth(path) <= width {
		return path
	}
	rs := []rune(path)
	for len(rs) > 0 && runewidth.StringWidth(string(rs))+3 > width {
		rs = rs[1:]
	}
	return "..." + string(rs)
}

// newShowCmd - Erstellt den show Command
func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show MODEL",
		Short: "Show the structure of a search space",
		Args:  cobra.MaximumNArgs(1),
		RunE:  ShowHandler,
	}

	addModelFlags(showCmd)
	showCmd.Flags().Bool("active", false, "Only show the active subgraph")
	showCmd.Flags().Bool("json", false, "Print the graph description as JSON")
	showCmd.Flags().BoolP("verbose", "v", false, "Show every module")
	showCmd.Flags().String("tensor", "", "Print the values of one parameter")

	return showCmd
}
