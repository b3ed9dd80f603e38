// report.go - Konsolenbericht fuer Latenz-Profile
// Enthaelt: Report (tablewriter), sortiert nach Kosten

package latency

import (
	"cmp"
	"fmt"
	"io"
	"slices"

	"github.com/olekukonko/tablewriter"
)

// Report schreibt die Ergebnisse absteigend nach Latenz als Tabelle
func Report(w io.Writer, results []Result) {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b Result) int {
		return cmp.Compare(b.Seconds, a.Seconds)
	})

	total := Total(results)
	data := make([][]string, 0, len(sorted))
	for _, r := range sorted {
		share := 0.0
		if total > 0 {
			share = 100 * r.Seconds / total
		}
		data = append(data, []string{r.Path, r.Kind, fmt.Sprintf("%.3f", r.Seconds*1e3), fmt.Sprintf("%.1f%%", share)})
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"MODULE", "KIND", "MS", "SHARE"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()

	fmt.Fprintf(w, "total: %.3f ms over %d modules\n", total*1e3, len(results))
}
