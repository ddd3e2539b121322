package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/logging"
	"github.com/JonMunkholm/openpdi/internal/service"
)

// handleHealth reports liveness with the catalog size and run slots.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status": "ok",
		"topics": s.service.Catalog().Len(),
		"runs":   s.service.Limiter().Status(),
	})
}

func (s *Server) handleListTopics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.service.Topics())
}

// datasetResponse describes a topic narrowed by constraints.
type datasetResponse struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Constraints core.Constraints `json:"constraints"`
	Columns     core.Header      `json:"columns"`
	Sources     int              `json:"sources"`
	Agencies    []string         `json:"agencies"`
	URLs        []string         `json:"urls"`
	Summary     string           `json:"summary"`
}

// handleDataset resolves the sources that satisfy the query constraints
// without fetching anything.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	c, err := parseConstraints(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	ds, err := s.service.Dataset(chi.URLParam(r, "topic"), c)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	var summary bytes.Buffer
	if err := ds.WriteSummary(&summary); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, datasetResponse{
		ID:          ds.ID,
		Title:       ds.Title,
		Constraints: ds.Constraints,
		Columns:     ds.Columns(),
		Sources:     ds.Len(),
		Agencies:    nonNil(ds.Agencies()),
		URLs:        nonNil(ds.URLs()),
		Summary:     summary.String(),
	})
}

// handleCoverage returns field coverage as JSON, or as a Markdown table
// with ?format=markdown.
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	cov, err := s.service.Coverage(chi.URLParam(r, "topic"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	if r.URL.Query().Get("format") == "markdown" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		if err := catalog.WriteCoverageTable(w, cov); err != nil {
			logging.FromContext(r.Context()).Error("write coverage table", "error", err)
		}
		return
	}
	writeJSON(w, r, http.StatusOK, cov)
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.service.CheckLinks(r.Context(), chi.URLParam(r, "topic"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, links)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	c, err := parseConstraints(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	limit := parseIntParam(r, "limit", service.DefaultPreviewRows)
	p, err := s.service.Preview(r.Context(), chi.URLParam(r, "topic"), c, limit)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// handleDownload streams the merged topic as CSV.
//
// Errors raised before the first byte get a normal error response. Once the
// body has started the status is committed, so a failure is reported in the
// X-Run-Error trailer and the body is cut short.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	c, err := parseConstraints(r)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	topic := chi.URLParam(r, "topic")

	w.Header().Set("Trailer", "X-Run-Id, X-Run-Error")
	cw := &committedWriter{w: w, onCommit: func() {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+topic+`.csv"`)
	}}

	res, err := s.service.Download(r.Context(), topic, c, cw)
	if res != nil {
		w.Header().Set("X-Run-Id", res.ID)
	}
	if err == nil {
		if !cw.committed {
			cw.commit()
		}
		return
	}
	if !cw.committed {
		w.Header().Del("Trailer")
		respondError(w, r, err, 0)
		return
	}
	w.Header().Set("X-Run-Error", core.MapError(err).Code)
	logging.FromContext(r.Context()).Error("download interrupted", "topic", topic, "error", err)
}

// committedWriter defers the response header until the first write.
type committedWriter struct {
	w         http.ResponseWriter
	onCommit  func()
	committed bool
}

func (c *committedWriter) commit() {
	c.committed = true
	c.onCommit()
	c.w.WriteHeader(http.StatusOK)
}

func (c *committedWriter) Write(p []byte) (int, error) {
	if !c.committed {
		c.commit()
	}
	return c.w.Write(p)
}

// exportBody is the JSON body of an export request. Destination is the name
// of a configured destination, not a DSN.
type exportBody struct {
	Destination string   `json:"destination"`
	Table       string   `json:"table"`
	Replace     bool     `json:"replace"`
	Columns     []string `json:"columns"`
	Scope       []string `json:"scope"`
	Strict      bool     `json:"strict"`
}

// handleExport writes the topic to a sink and waits for the run to finish.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body exportBody
	if r.ContentLength != 0 {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			respondError(w, r, errBadRequest{msg: "invalid export request: " + err.Error()}, 0)
			return
		}
	}
	dsn, err := s.destination(body.Destination)
	if err != nil {
		respondError(w, r, err, 0)
		return
	}

	res, err := s.service.Export(r.Context(), service.ExportRequest{
		Topic: chi.URLParam(r, "topic"),
		Constraints: core.Constraints{
			Columns: body.Columns,
			Scope:   body.Scope,
			Strict:  body.Strict,
		},
		Destination: dsn,
		Table:       body.Table,
		Replace:     body.Replace,
	})
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// destination resolves a destination name to its DSN. An empty name selects
// the default destination.
func (s *Server) destination(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.opts.DefaultDestination, nil
	}
	dsn, ok := s.opts.Destinations[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", errUnknownDestination, name)
	}
	return dsn, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
