package service

import (
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/core"
)

// Dataset is one topic narrowed by caller constraints: the accepted sources
// and the header their merged rows will carry.
type Dataset struct {
	Title       string
	ID          string
	Constraints core.Constraints
	Fields      []core.CanonicalField

	sel     *core.Selection
	fetcher core.Fetcher
	opts    []core.StreamOption
}

// Columns is the output header.
func (d *Dataset) Columns() core.Header { return d.sel.Header }

// Sources are the accepted source descriptors in selection order.
func (d *Dataset) Sources() []core.SourceDescriptor {
	out := make([]core.SourceDescriptor, len(d.sel.Sources))
	for i, p := range d.sel.Sources {
		out[i] = p.Source
	}
	return out
}

// URLs are the addresses of the accepted sources.
func (d *Dataset) URLs() []string { return d.sel.URLs() }

// Agencies are the distinct agencies of the accepted sources, sorted.
func (d *Dataset) Agencies() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range d.sel.Sources {
		a := p.Source.Agency()
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// Len is the number of accepted sources.
func (d *Dataset) Len() int { return len(d.sel.Sources) }

// Download starts the merge stream. The caller must Close it.
func (d *Dataset) Download(ctx context.Context, opts ...core.StreamOption) *core.Stream {
	all := append(append([]core.StreamOption(nil), d.opts...), opts...)
	return core.Merge(ctx, d.sel, d.fetcher, all...)
}

// WriteSummary writes a one-row pipe table: title, id and source count.
func (d *Dataset) WriteSummary(w io.Writer) error {
	return catalog.WritePipeTable(w,
		[]string{"Title", "ID", "Number of Agencies"},
		[][]string{{d.Title, d.ID, strconv.Itoa(d.Len())}})
}
