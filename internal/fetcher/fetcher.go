// Package fetcher downloads and parses pages of a subject's activity feed.
package fetcher

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"streak_bot/internal/model"
)

// DefaultURLTemplate points at GitHub's public Atom activity feed.
const DefaultURLTemplate = "https://github.com/%s.atom?page=%d"

// ErrFetchFailed marks every failure to obtain a usable feed page.
var ErrFetchFailed = errors.New("fetch failed")

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Options tunes a Fetcher. Zero values fall back to defaults.
type Options struct {
	URLTemplate string
	Location    *time.Location
	// RequestsPerSecond throttles upstream requests; zero or less disables throttling.
	RequestsPerSecond float64
}

// Fetcher downloads and parses feed pages.
type Fetcher struct {
	client   HTTPClient
	template string
	loc      *time.Location
	limiter  *rate.Limiter
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, opts Options) *Fetcher {
	if opts.URLTemplate == "" {
		opts.URLTemplate = DefaultURLTemplate
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	return &Fetcher{
		client:   client,
		template: opts.URLTemplate,
		loc:      opts.Location,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// PageURL returns the feed URL of the given page for login.
func (f *Fetcher) PageURL(login string, page int) string {
	return fmt.Sprintf(f.template, url.PathEscape(login), page)
}

// FetchPage downloads one page of login's feed. Timestamps are converted to the
// configured location so that calendar days are taken in that zone.
func (f *Fetcher) FetchPage(ctx context.Context, login string, page int) ([]model.FeedEntry, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: wait for rate limiter: %w", ErrFetchFailed, err)
	}

	feed, err := f.fetch(ctx, f.PageURL(login, page))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	entries := make([]model.FeedEntry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, model.FeedEntry{
			ID:        ItemGUID(item),
			Title:     item.Title,
			UpdatedAt: f.itemTime(item),
		})
	}
	return entries, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "StreakBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// itemTime prefers the update time and falls back to the publish time.
// A zero result means the entry carried no usable timestamp.
func (f *Fetcher) itemTime(item *gofeed.Item) time.Time {
	switch {
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.In(f.loc)
	case item.PublishedParsed != nil:
		return item.PublishedParsed.In(f.loc)
	}
	return time.Time{}
}

// ItemGUID returns the GUID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}
