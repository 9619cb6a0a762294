package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	neturl "net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	appLog "notecal/internal/log"
	"notecal/internal/metrics"
	"notecal/internal/model"
)

// ErrFetch wraps every failure to obtain a feed body.
var ErrFetch = errors.New("ics: fetch failed")

// Source is one configured calendar feed. webcal:// URLs are fetched over
// https.
type Source struct {
	ID       string
	URL      string
	Category model.Category
}

// FetchResult is one feed body, fresh or cached.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// CalendarSource converts the result into the resolver's input type.
func (r FetchResult) CalendarSource() model.CalendarSource {
	return model.CalendarSource{
		ID:       r.Source.ID,
		Category: r.Source.Category,
		Data:     r.Body,
	}
}

const (
	cacheMetaFile = "meta.json"
	cacheBodyFile = "body.ics"
)

// feedCache is the validator set stored next to a cached feed body.
type feedCache struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads feeds with conditional requests and keeps the last good
// body of each on disk, so a feed that is briefly down still resolves.
type Fetcher struct {
	client   *resty.Client
	cacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir (one subdirectory per
// feed URL).
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	client := resty.New().
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(3*time.Second).
		SetHeader("User-Agent", "notecal/1.0").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || (r != nil && r.StatusCode() >= http.StatusInternalServerError)
		})

	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
	}
}

// FetchAll fetches sources in order. Only sources that produced a body
// appear in the results; every failure is logged and returned.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source) ([]FetchResult, []error) {
	var (
		out  = make([]FetchResult, 0, len(sources))
		errs []error
	)
	for _, src := range sources {
		res, err := f.FetchOne(ctx, src)
		switch {
		case err != nil:
			metrics.FeedFetches.WithLabelValues(src.ID, "error").Inc()
			appLog.Error("ics fetch failed", err, "id", src.ID, "url", RedactURL(src.URL))
			errs = append(errs, err)
		case res.FromCache:
			metrics.FeedFetches.WithLabelValues(src.ID, "cache").Inc()
			out = append(out, res)
		default:
			metrics.FeedFetches.WithLabelValues(src.ID, "network").Inc()
			out = append(out, res)
		}
	}
	return out, errs
}

// FetchOne fetches one feed. A network error or non-OK status falls back to
// the cached body when there is one.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, fmt.Errorf("%w: source %s: URL is empty", ErrFetch, src.ID)
	}
	url := normalizeURL(src.URL)

	dir := f.cacheDirFor(url)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, fmt.Errorf("%w: source %s: %v", ErrFetch, src.ID, err)
	}
	meta, cachedBody := readCache(dir)

	req := f.client.R().SetContext(ctx)

	// Conditional headers only make sense when the body is still on disk.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.SetHeader("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.SetHeader("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Info("ics fetch start", "id", src.ID, "url", RedactURL(src.URL))

	resp, err := req.Get(url)
	if err != nil {
		err = stripURL(err)
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", RedactURL(src.URL))
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("%w: source %s: %v", ErrFetch, src.ID, err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		body := resp.Body()
		fresh := feedCache{
			URL:          url,
			ETag:         resp.Header().Get("ETag"),
			LastModified: resp.Header().Get("Last-Modified"),
		}
		if err := writeCache(dir, fresh, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", RedactURL(src.URL))
		}

		appLog.Info("ics fetch success", "id", src.ID, "url", RedactURL(src.URL), "status", resp.StatusCode(), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, fmt.Errorf("%w: source %s: 304 Not Modified but no cached body available", ErrFetch, src.ID)
		}
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", RedactURL(src.URL))
		return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status()), "id", src.ID, "url", RedactURL(src.URL), "status", resp.StatusCode())
			return FetchResult{Source: src, Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, fmt.Errorf("%w: source %s: %s", ErrFetch, src.ID, resp.Status())
	}
}

// stripURL drops the request URL that net/http puts in its errors; feed
// URLs carry credentials.
func stripURL(err error) error {
	var uerr *neturl.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(strings.ToLower(u), "webcal://") {
		return "https://" + u[len("webcal://"):]
	}
	return u
}

// cacheDirFor names a feed's cache directory after a short URL digest.
func (f *Fetcher) cacheDirFor(url string) string {
	digest := sha256.Sum256([]byte(url))
	return filepath.Join(f.cacheDir, hex.EncodeToString(digest[:8]))
}

// readCache returns whatever is cached in dir. Missing or corrupt files
// yield zero values.
func readCache(dir string) (feedCache, []byte) {
	var meta feedCache
	if data, err := os.ReadFile(filepath.Join(dir, cacheMetaFile)); err == nil {
		if json.Unmarshal(data, &meta) != nil {
			meta = feedCache{}
		}
	}
	body, _ := os.ReadFile(filepath.Join(dir, cacheBodyFile))
	return meta, body
}

// writeCache stores body before meta so validators never outlive their body.
func writeCache(dir string, meta feedCache, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, cacheBodyFile), body, 0o600); err != nil {
		return err
	}
	meta.FetchedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, cacheMetaFile), data, 0o600)
}

// RedactURL hides sensitive parts of an ICS URL for logging purposes.
// Private feed URLs carry their secret in the path, so only scheme and host
// survive:
//
//	https://calendar.google.com/calendar/ical/x/private-abc/basic.ics
//	-> https://calendar.google.com/...(redacted)
func RedactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	// Drop userinfo.
	if k := strings.LastIndex(rest, "@"); k >= 0 {
		rest = rest[k+1:]
	}
	return u[:i+3] + rest + redactedSuffix
}
