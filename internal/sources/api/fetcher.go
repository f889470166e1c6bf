// Package api searches JSON APIs (Hacker News, Reddit) for monitor keywords.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/match"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

// ErrUnauthorized is returned when the provider rejects the bearer token twice.
var ErrUnauthorized = errors.New("search api rejected credentials")

// Config describes one search endpoint.
type Config struct {
	// Endpoint is the search URL; the query goes into QueryParam.
	Endpoint   string
	QueryParam string
	Limit      int
	LimitParam string
	UserAgent  string
	Timeout    time.Duration
}

// Fetcher implements monitor.Fetcher over a JSON search API.
type Fetcher struct {
	cfg    Config
	client *http.Client
	decode Decoder
	tokens TokenSource
	logger *zap.Logger
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithTokenSource authenticates requests with a bearer token.
func WithTokenSource(ts TokenSource) Option {
	return func(f *Fetcher) { f.tokens = ts }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// New builds a Fetcher.
func New(cfg Config, decode Decoder, logger *zap.Logger, opts ...Option) (*Fetcher, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("search endpoint is required")
	}
	if decode == nil {
		return nil, errors.New("search decoder is required")
	}
	if cfg.QueryParam == "" {
		cfg.QueryParam = "q"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		decode: decode,
		logger: logger.Named("api"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch runs one search for the monitor and filters the hits locally.
func (f *Fetcher) Fetch(ctx context.Context, req monitor.FetchRequest) ([]monitor.Item, error) {
	matcher, err := match.Compile(req.Config.Keywords, req.Config.SearchExpression)
	if err != nil {
		// A bad expression fails the same way on every attempt.
		return nil, steps.Permanent(fmt.Errorf("monitor %s: %w", req.Monitor.ID, err))
	}
	query := Query(req.Config)
	if query == "" {
		return nil, nil
	}

	hits, err := f.search(ctx, query, true)
	if err != nil {
		return nil, err
	}
	items := make([]monitor.Item, 0, len(hits))
	for _, hit := range hits {
		if !matcher.Match(hit.Title, hit.Body) {
			continue
		}
		sourceURL := hit.URL
		if sourceURL == "" {
			if hit.ID == "" {
				continue
			}
			sourceURL = monitor.SyntheticURL(req.Source, req.Monitor.ID, hit.ID)
		}
		items = append(items, monitor.Item{
			SourceURL: sourceURL,
			Title:     hit.Title,
			Body:      hit.Body,
			Author:    hit.Author,
			PostedAt:  hit.PostedAt,
			Metadata:  hit.Extra,
		})
	}
	return items, nil
}

// Query builds the provider query: the search expression when present,
// otherwise the keywords joined with OR.
func Query(cfg monitor.SourceConfig) string {
	if expr := strings.TrimSpace(cfg.SearchExpression); expr != "" {
		return expr
	}
	terms := make([]string, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.ContainsRune(kw, ' ') {
			kw = strconv.Quote(kw)
		}
		terms = append(terms, kw)
	}
	return strings.Join(terms, " OR ")
}

func (f *Fetcher) search(ctx context.Context, query string, retryAuth bool) ([]Hit, error) {
	endpoint, err := url.Parse(f.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse search endpoint: %w", err)
	}
	params := endpoint.Query()
	params.Set(f.cfg.QueryParam, query)
	if f.cfg.Limit > 0 && f.cfg.LimitParam != "" {
		params.Set(f.cfg.LimitParam, strconv.Itoa(f.cfg.Limit))
	}
	endpoint.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if f.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	if f.tokens != nil {
		token, err := f.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized && f.tokens != nil:
		_, _ = io.Copy(io.Discard, resp.Body)
		if inv, ok := f.tokens.(interface{ Invalidate() }); ok && retryAuth {
			inv.Invalidate()
			f.logger.Info("search token rejected, refreshing")
			return f.search(ctx, query, false)
		}
		return nil, ErrUnauthorized
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return f.decode(resp.Body)
}
