// Package pagination fetches all pages of a paginated upstream collection
// through the resilient client. The upstream reports the total page count in
// the X-Total-Pages response header; pages are addressed with a ?page=N
// query parameter and fetched by a bounded worker pool.
package pagination

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinrelay/upstream-client/pkg/client"
	"github.com/clinrelay/upstream-client/pkg/logging"
)

// totalPagesHeader carries the collection's page count on every page
// response.
const totalPagesHeader = "X-Total-Pages"

// Getter is the slice of the client the fetcher needs.
type Getter interface {
	Get(ctx context.Context, path string, opts ...client.RequestOption) (*client.Response, error)
}

// Config tunes the batch fetcher.
type Config struct {
	// Workers is the number of pages fetched concurrently. The client's own
	// concurrency bound still applies underneath.
	Workers int

	// PageTimeout is the per-page request timeout.
	PageTimeout time.Duration

	// Logger overrides the component logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns defaults suitable for collections of a few hundred
// pages.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		PageTimeout: 15 * time.Second,
	}
}

// Result holds the pages fetched for one collection, keyed by page number.
// Partial on error: pages fetched before the failure are retained.
type Result struct {
	Pages      map[int][]byte
	TotalPages int
}

// Fetcher retrieves whole paginated collections.
type Fetcher struct {
	getter Getter
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a fetcher issuing requests through getter.
func NewFetcher(getter Getter, cfg Config) *Fetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PageTimeout <= 0 {
		cfg.PageTimeout = 15 * time.Second
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = logging.NewLogger("pagination")
	}

	return &Fetcher{getter: getter, config: cfg, logger: logger}
}

// FetchAll retrieves every page of path. The first page establishes the
// total; the rest are fetched concurrently. On a page failure the error is
// returned together with the pages already collected.
func (f *Fetcher) FetchAll(ctx context.Context, path string) (*Result, error) {
	start := time.Now()

	firstBody, totalPages, err := f.fetchPage(ctx, path, 1)
	if err != nil {
		return nil, fmt.Errorf("fetch first page: %w", err)
	}

	result := &Result{
		Pages:      map[int][]byte{1: firstBody},
		TotalPages: totalPages,
	}
	if totalPages <= 1 {
		return result, nil
	}

	f.logger.Debug().
		Str("path", path).
		Int("total_pages", totalPages).
		Msg("Fetching remaining pages")

	pageQueue := make(chan int, totalPages)
	for page := 2; page <= totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	var (
		mu       sync.Mutex
		firstErr error
	)
	var wg sync.WaitGroup
	for i := 0; i < f.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for page := range pageQueue {
				mu.Lock()
				failed := firstErr != nil
				mu.Unlock()
				if failed {
					return
				}

				body, _, err := f.fetchPage(ctx, path, page)

				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = fmt.Errorf("fetch page %d: %w", page, err)
					}
				} else {
					result.Pages[page] = body
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		f.logger.Warn().
			Err(firstErr).
			Str("path", path).
			Int("fetched", len(result.Pages)).
			Int("total", totalPages).
			Msg("Partial collection fetch")
		return result, firstErr
	}

	f.logger.Debug().
		Str("path", path).
		Int("pages", len(result.Pages)).
		Dur("duration", time.Since(start)).
		Msg("Collection fetch complete")
	return result, nil
}

// fetchPage retrieves one page and parses the total page count.
func (f *Fetcher) fetchPage(ctx context.Context, path string, page int) ([]byte, int, error) {
	resp, err := f.getter.Get(ctx, pagePath(path, page),
		client.WithTimeout(f.config.PageTimeout))
	if err != nil {
		return nil, 0, err
	}

	totalPages := 1
	if v := resp.Header.Get(totalPagesHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			totalPages = n
		}
	}
	return resp.Body, totalPages, nil
}

// pagePath appends the page query parameter to path.
func pagePath(path string, page int) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%spage=%d", path, sep, page)
}
