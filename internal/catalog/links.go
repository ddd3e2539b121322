package catalog

import (
	"context"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// LinkStatus is the result of checking one source address.
type LinkStatus struct {
	URL    string `json:"url"`
	Agency string `json:"agency"`
	Status int    `json:"status"`          // HTTP status; 0 if the request failed
	Error  string `json:"error,omitempty"` // Transport error, if any
}

// OK reports whether the source answered 200.
func (s LinkStatus) OK() bool { return s.Status == http.StatusOK }

// CheckLinks requests every source of the topic and reports its status, in
// source order. At most parallel requests run at once.
func CheckLinks(ctx context.Context, client *http.Client, topic *core.Topic, parallel int) []LinkStatus {
	if client == nil {
		client = http.DefaultClient
	}
	if parallel < 1 {
		parallel = 1
	}

	results := make([]LinkStatus, len(topic.Sources))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	for i, src := range topic.Sources {
		g.Go(func() error {
			status := checkLink(ctx, client, src)
			mu.Lock()
			results[i] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func checkLink(ctx context.Context, client *http.Client, src core.SourceDescriptor) LinkStatus {
	status := LinkStatus{URL: src.URL, Agency: src.Agency()}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	resp, err := client.Do(req)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	// Only the status matters; the body is not read.
	_ = resp.Body.Close()
	status.Status = resp.StatusCode
	return status
}
