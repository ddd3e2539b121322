package web

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/service"
)

// handleDashboard lists the topics of the current catalog.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	templ.Handler(page("Open Police Data", dashboardView(s.service.Topics()))).ServeHTTP(w, r)
}

// handleTopicPage shows a topic's fields, coverage and sources.
func (s *Server) handleTopicPage(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.Topic(chi.URLParam(r, "topic"))
	if err != nil {
		respondError(w, r, err, 0)
		return
	}
	templ.Handler(page(t.Title, topicView(t, catalog.Coverage(t)))).ServeHTTP(w, r)
}

// html writes markup and remembers the first write error.
type html struct {
	w   io.Writer
	err error
}

func (h *html) raw(parts ...string) {
	for _, p := range parts {
		if h.err != nil {
			return
		}
		_, h.err = io.WriteString(h.w, p)
	}
}

func (h *html) text(s string) { h.raw(templ.EscapeString(s)) }

func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`)
		h.text(title)
		h.raw(`</title><style>body{font-family:sans-serif;margin:2rem}table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.3rem .6rem;text-align:left}</style></head><body><nav><a href="/">Topics</a></nav><h1>`)
		h.text(title)
		h.raw(`</h1>`)
		if h.err != nil {
			return h.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		h.raw(`</body></html>`)
		return h.err
	})
}

func dashboardView(topics []service.TopicInfo) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		if len(topics) == 0 {
			h.raw(`<p>The catalog has no topics.</p>`)
			return h.err
		}
		h.raw(`<table><thead><tr><th>Topic</th><th>ID</th><th>Fields</th><th>Sources</th><th>Agencies</th></tr></thead><tbody>`)
		for _, t := range topics {
			h.raw(`<tr><td><a href="/topics/`, url.PathEscape(t.ID), `">`)
			h.text(t.Title)
			h.raw(`</a></td><td>`)
			h.text(t.ID)
			h.raw(`</td><td>`, strconv.Itoa(t.Fields), `</td><td>`, strconv.Itoa(t.Sources),
				`</td><td>`, strconv.Itoa(t.Agencies), `</td></tr>`)
		}
		h.raw(`</tbody></table>`)
		return h.err
	})
}

func topicView(t *core.Topic, coverage []catalog.FieldCoverage) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		id := url.PathEscape(t.ID)
		h.raw(`<p><a href="/api/topics/`, id, `/download">Download CSV</a> · <a href="/api/topics/`, id,
			`/coverage?format=markdown">Coverage (Markdown)</a></p>`)

		h.raw(`<h2>Fields</h2><table><thead><tr><th>Column</th><th>Description</th><th>Example</th><th>Reporting agencies</th></tr></thead><tbody>`)
		for _, c := range coverage {
			h.raw(`<tr><td><code>`)
			h.text(c.Label)
			h.raw(`</code></td><td>`)
			h.text(c.Description)
			h.raw(`</td><td><code>`)
			h.text(c.Example)
			h.raw(`</code></td><td>`)
			h.text(strings.Join(c.Agencies, ", "))
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table>`)

		h.raw(`<h2>Sources</h2><table><thead><tr><th>Agency</th><th>Type</th><th>URL</th></tr></thead><tbody>`)
		for _, src := range t.Sources {
			h.raw(`<tr><td>`)
			h.text(src.Agency())
			h.raw(`</td><td>`)
			h.text(src.FileType)
			h.raw(`</td><td>`)
			h.text(src.URL)
			h.raw(`</td></tr>`)
		}
		h.raw(`</tbody></table>`)
		return h.err
	})
}

// errorPage renders a user message for page requests.
func errorPage(msg core.UserMessage) templ.Component {
	body := templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &html{w: w}
		h.raw(`<div role="alert"><p>`)
		h.text(msg.Message)
		h.raw(`</p>`)
		if msg.Action != "" {
			h.raw(`<p>`)
			h.text(msg.Action)
			h.raw(`</p>`)
		}
		h.raw(`<p><small>Code: `)
		h.text(msg.Code)
		h.raw(`</small></p></div>`)
		return h.err
	})
	return page("Error", body)
}
