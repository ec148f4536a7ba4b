// Package fetch retrieves the ICS feed over HTTP with conditional
// requests: validators from the previous response are replayed so an
// unchanged feed costs a 304 and reuses the cached body.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/schedsync/internal/cache"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

type cached struct {
	etag         string
	lastModified string
	body         []byte
}

type Fetcher struct {
	client *http.Client
	cache  *cache.Cache[string, cached]
	logger zerolog.Logger
}

func New(timeout, cacheTTL time.Duration, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: timeout},
		cache:  cache.New[string, cached](cacheTTL),
		logger: logger,
	}
}

// Fetch returns the feed body. An unreachable feed or a non-2xx
// response is an I/O error; the caller decides whether the run aborts.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, syncerr.IO("build feed request", err)
	}
	prev, hasPrev := f.cache.Get(url)
	if hasPrev {
		if prev.etag != "" {
			req.Header.Set("If-None-Match", prev.etag)
		}
		if prev.lastModified != "" {
			req.Header.Set("If-Modified-Since", prev.lastModified)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, syncerr.IO("fetch feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && hasPrev {
		f.logger.Debug().Str("url", url).Msg("feed not modified")
		return prev.body, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, syncerr.IO("fetch feed", fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, syncerr.IO("read feed body", err)
	}
	f.cache.Set(url, cached{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		body:         body,
	})
	f.logger.Debug().Str("url", url).Int("bytes", len(body)).Msg("feed fetched")
	return body, nil
}
