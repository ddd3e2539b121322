package core

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type fetchResult struct {
	rows RowIterator
	err  error
}

// prefetcher retrieves up to depth sources ahead of the one being
// harmonized. Fetches are launched in selection order and each source is
// fetched at most once; results are consumed strictly in order.
type prefetcher struct {
	ctx     context.Context
	cancel  context.CancelFunc
	g       *errgroup.Group
	fetcher Fetcher
	plans   []*SourcePlan
	depth   int
	pending []chan fetchResult
}

func newPrefetcher(ctx context.Context, f Fetcher, plans []*SourcePlan, depth int) *prefetcher {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &prefetcher{
		ctx:     gctx,
		cancel:  cancel,
		g:       g,
		fetcher: f,
		plans:   plans,
		depth:   depth,
		pending: make([]chan fetchResult, len(plans)),
	}
	for i := 0; i < depth && i < len(plans); i++ {
		p.launch(i)
	}
	return p
}

func (p *prefetcher) launch(i int) {
	ch := make(chan fetchResult, 1)
	p.pending[i] = ch
	src := p.plans[i].Source
	p.g.Go(func() error {
		rows, err := p.fetcher.Fetch(p.ctx, src)
		ch <- fetchResult{rows: rows, err: err}
		return nil
	})
}

// take waits for source i, which must be the next unconsumed source, and
// launches the fetch that refills the window.
func (p *prefetcher) take(ctx context.Context, i int) (RowIterator, error) {
	if p.pending[i] == nil {
		p.launch(i)
	}
	if next := i + p.depth; next < len(p.plans) && p.pending[next] == nil {
		p.launch(next)
	}

	select {
	case r := <-p.pending[i]:
		p.pending[i] = nil
		return r.rows, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close cancels outstanding fetches and releases any rows they produced.
func (p *prefetcher) close() {
	p.cancel()
	_ = p.g.Wait()
	for i, ch := range p.pending {
		if ch == nil {
			continue
		}
		if r := <-ch; r.rows != nil {
			_ = r.rows.Close()
		}
		p.pending[i] = nil
	}
}
