package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/history"
)

// parseIntParam parses a positive integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil || i < 1 {
		return defaultVal
	}
	return i
}

// parseList collects a list parameter given either repeated or
// comma-separated: ?scope=TX&scope=CA and ?scope=TX,CA are the same.
func parseList(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// parseConstraints reads columns, scope and strict from the query.
func parseConstraints(r *http.Request) (core.Constraints, error) {
	c := core.Constraints{
		Columns: parseList(r, "columns"),
		Scope:   parseList(r, "scope"),
	}
	if v := r.URL.Query().Get("strict"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return c, errBadRequest{msg: "strict must be true or false"}
		}
		c.Strict = strict
	}
	return c, nil
}

// parseRunFilters reads run listing filters and pagination.
func parseRunFilters(r *http.Request) (history.ListOptions, error) {
	q := r.URL.Query()
	pageSize := parseIntParam(r, "page_size", history.DefaultLimit)
	if pageSize > 500 {
		pageSize = 500
	}
	page := parseIntParam(r, "page", 1)

	opts := history.ListOptions{
		Topic:  q.Get("topic"),
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	switch st := history.Status(q.Get("status")); st {
	case "", history.StatusRunning, history.StatusSucceeded, history.StatusFailed:
		opts.Status = st
	default:
		return opts, errBadRequest{msg: "status must be running, succeeded or failed"}
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, errBadRequest{msg: "since must be an RFC 3339 timestamp"}
		}
		opts.Since = t
	}
	return opts, nil
}
