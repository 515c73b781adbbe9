// Package fetcher retrieves recent posts from the upstream search API.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"acgn_relay/internal/model"
)

// Upstream paging limits.
const (
	PageSize        = 24
	MaxPage         = 10
	DefaultLookback = 24 * time.Hour
)

// DefaultBaseURL is the public search API endpoint.
const DefaultBaseURL = "https://search.acgn.es/api/"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher pages through the upstream search API.
type Fetcher struct {
	client    HTTPClient
	baseURL   string
	channelID string
	now       func() time.Time
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithBaseURL overrides the search API endpoint.
func WithBaseURL(u string) Option {
	return func(f *Fetcher) { f.baseURL = u }
}

// WithChannelID sets the upstream channel filter (the "cid" parameter).
func WithChannelID(id string) Option {
	return func(f *Fetcher) { f.channelID = id }
}

// WithClock overrides the time source used for the default cutoff.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    client,
		baseURL:   DefaultBaseURL,
		channelID: "1",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type pageResponse struct {
	Data []model.Post `json:"data"`
}

// FetchPage downloads one page of posts, newest first.
func (f *Fetcher) FetchPage(ctx context.Context, page int) ([]model.Post, error) {
	u, err := url.Parse(f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	q := u.Query()
	q.Set("cid", f.channelID)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(PageSize))
	q.Set("word", "*")
	q.Set("sort", "time")
	q.Set("file_suffix", "")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ACGNRelayBot/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body pageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 5*1024*1024)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return body.Data, nil
}

// FetchRecentPosts returns posts newer than cutoff (unix seconds), starting
// at page and walking back in time until a page reaches the cutoff or the
// page ceiling is hit. A zero cutoff means DefaultLookback before now.
// Pages outside [0, MaxPage] yield nothing.
//
// If a page fails, the posts gathered from earlier pages are returned along
// with the error.
func (f *Fetcher) FetchRecentPosts(ctx context.Context, page int, cutoff int64) ([]model.Post, error) {
	if page < 0 || page > MaxPage {
		return nil, nil
	}
	if cutoff == 0 {
		cutoff = f.now().Add(-DefaultLookback).Unix()
	}

	var out []model.Post
	for ; page <= MaxPage; page++ {
		posts, err := f.FetchPage(ctx, page)
		if err != nil {
			return out, fmt.Errorf("fetch page %d: %w", page, err)
		}
		if len(posts) == 0 {
			break
		}
		if oldestDate(posts) > cutoff {
			out = append(out, posts...)
			continue
		}
		for _, p := range posts {
			if p.Date > cutoff {
				out = append(out, p)
			}
		}
		break
	}
	return out, nil
}

func oldestDate(posts []model.Post) int64 {
	oldest := posts[0].Date
	for _, p := range posts[1:] {
		oldest = min(oldest, p.Date)
	}
	return oldest
}
