package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/JonMunkholm/openpdi/internal/core"
)

// ErrTooLarge is returned when a source exceeds Options.MaxBytes.
var ErrTooLarge = errors.New("source exceeds maximum size")

// retrieve returns the full body of a source address.
func (f *Fetcher) retrieve(ctx context.Context, addr string) ([]byte, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, core.NewFetchError(core.FetchUnreachable, addr, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.retrieveHTTP(ctx, addr)
	case "file":
		return f.retrieveFile(addr, u.Path)
	case "":
		return f.retrieveFile(addr, addr)
	default:
		return nil, core.NewFetchError(core.FetchUnreachable, addr,
			fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
}

func (f *Fetcher) retrieveHTTP(ctx context.Context, addr string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	if f.opts.RetryInterval > 0 {
		b.InitialInterval = f.opts.RetryInterval
	}

	data, err := backoff.Retry(ctx, func() ([]byte, error) { return f.get(ctx, addr) },
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(f.opts.Retries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Debug("retrying source", "url", addr, "backoff", next, "error", err)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var fe *core.SourceFetchError
		if errors.As(err, &fe) {
			return nil, fe
		}
		return nil, core.NewFetchError(core.FetchUnreachable, addr, err)
	}
	return data, nil
}

// get performs one attempt. Client errors (4xx other than 429) and oversized
// bodies are permanent; everything else may be retried.
func (f *Fetcher) get(ctx context.Context, addr string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, backoff.Permanent(core.NewFetchError(core.FetchUnreachable, addr, err))
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, core.NewFetchError(core.FetchUnreachable, addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := core.NewFetchError(core.FetchUnreachable, addr, fmt.Errorf("unexpected status %s", resp.Status))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := readLimited(resp.Body, f.opts.MaxBytes)
	if errors.Is(err, ErrTooLarge) {
		return nil, backoff.Permanent(core.NewFetchError(core.FetchMalformed, addr, err))
	}
	if err != nil {
		return nil, core.NewFetchError(core.FetchUnreachable, addr, err)
	}
	return data, nil
}

func (f *Fetcher) retrieveFile(addr, path string) ([]byte, error) {
	path = strings.TrimPrefix(path, "//")
	file, err := os.Open(path)
	if err != nil {
		return nil, core.NewFetchError(core.FetchUnreachable, addr, err)
	}
	defer file.Close()

	data, err := readLimited(file, f.opts.MaxBytes)
	if err != nil {
		kind := core.FetchUnreachable
		if errors.Is(err, ErrTooLarge) {
			kind = core.FetchMalformed
		}
		return nil, core.NewFetchError(kind, addr, err)
	}
	return data, nil
}
