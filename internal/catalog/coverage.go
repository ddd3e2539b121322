package catalog

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// FieldCoverage describes one canonical field and the agencies reporting it.
type FieldCoverage struct {
	Label       string   `json:"label"`
	Description string   `json:"description"`
	Example     string   `json:"example"`
	Agencies    []string `json:"agencies"`
}

// Coverage returns one entry per canonical field of the topic, sorted by
// label, listing the distinct agencies whose sources provide the field.
func Coverage(topic *core.Topic) []FieldCoverage {
	fields := make([]core.CanonicalField, len(topic.Fields))
	copy(fields, topic.Fields)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Label < fields[j].Label })

	out := make([]FieldCoverage, 0, len(fields))
	for _, f := range fields {
		seen := make(map[string]bool)
		agencies := []string{}
		for _, src := range topic.Sources {
			if !src.Has(f.Label) {
				continue
			}
			if a := src.Agency(); !seen[a] {
				seen[a] = true
				agencies = append(agencies, a)
			}
		}
		sort.Strings(agencies)
		out = append(out, FieldCoverage{
			Label:       f.Label,
			Description: f.Description,
			Example:     f.Example,
			Agencies:    agencies,
		})
	}
	return out
}

// WriteCoverageTable writes coverage as a pipe-formatted Markdown table.
func WriteCoverageTable(w io.Writer, coverage []FieldCoverage) error {
	rows := make([][]string, len(coverage))
	for i, c := range coverage {
		rows[i] = []string{
			"`" + c.Label + "`",
			c.Description,
			"`" + strings.ReplaceAll(c.Example, "|", "/") + "`",
			strings.Join(c.Agencies, ", "),
		}
	}
	return WritePipeTable(w, []string{"Column name", "Column description", "Example value", "Reporting Agencies"}, rows)
}

// WritePipeTable writes a Markdown pipe table with padded columns.
func WritePipeTable(w io.Writer, header []string, rows [][]string) error {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, r := range rows {
		for i := range header {
			if i < len(r) && utf8.RuneCountInString(r[i]) > widths[i] {
				widths[i] = utf8.RuneCountInString(r[i])
			}
		}
	}

	line := func(cells []string) string {
		var b strings.Builder
		b.WriteString("|")
		for i := range header {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			fmt.Fprintf(&b, " %-*s |", widths[i], cell)
		}
		return b.String()
	}

	sep := make([]string, len(header))
	for i := range header {
		sep[i] = ":" + strings.Repeat("-", widths[i]+1)
	}

	if _, err := fmt.Fprintln(w, line(header)); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, "|"+strings.Join(sep, "|")+"|"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := fmt.Fprintln(w, line(r)); err != nil {
			return err
		}
	}
	return nil
}
