// Package forum scrapes forum and review listing pages with Colly.
package forum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/match"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

// Selectors locate posts on a listing page. Item is required; the rest are
// resolved relative to each item element.
type Selectors struct {
	Item   string `mapstructure:"item"`
	Title  string `mapstructure:"title"`
	Link   string `mapstructure:"link"`
	Body   string `mapstructure:"body"`
	Author string `mapstructure:"author"`
	// Time should point at an element carrying an RFC 3339 datetime attribute.
	Time string `mapstructure:"time"`
}

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Selectors     Selectors
}

// Fetcher implements monitor.Fetcher by scraping the monitor's listing URLs.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

// ErrNoItemSelector is returned by New when the listing selector is missing.
var ErrNoItemSelector = errors.New("forum fetcher requires an item selector")

// New builds a Fetcher. transport may be nil.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) (*Fetcher, error) {
	if strings.TrimSpace(cfg.Selectors.Item) == "" {
		return nil, ErrNoItemSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if transport == nil {
		transport = newHTTPTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(transport)
	return &Fetcher{cfg: cfg, baseCollector: c, logger: logger.Named("forum")}, nil
}

// Fetch scrapes every configured listing page. A page that fails is logged
// and skipped; the call errors only when every page failed.
func (f *Fetcher) Fetch(ctx context.Context, req monitor.FetchRequest) ([]monitor.Item, error) {
	matcher, err := match.Compile(req.Config.Keywords, req.Config.SearchExpression)
	if err != nil {
		// A bad expression fails the same way on every attempt.
		return nil, steps.Permanent(fmt.Errorf("monitor %s: %w", req.Monitor.ID, err))
	}
	if len(req.Config.URLs) == 0 {
		return nil, nil
	}

	var (
		items  []monitor.Item
		failed []error
	)
	for _, pageURL := range req.Config.URLs {
		page, err := f.scrape(ctx, req, pageURL, matcher)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			f.logger.Warn("page scrape failed",
				zap.String("monitor_id", req.Monitor.ID),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			failed = append(failed, err)
			continue
		}
		items = append(items, page...)
	}
	if len(failed) == len(req.Config.URLs) {
		return nil, errors.Join(failed...)
	}
	return items, nil
}

func (f *Fetcher) scrape(ctx context.Context, req monitor.FetchRequest, pageURL string, m *match.Matcher) ([]monitor.Item, error) {
	var (
		items    []monitor.Item
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	sel := f.cfg.Selectors
	collector.OnHTML(sel.Item, func(e *colly.HTMLElement) {
		item, ok := f.extract(req, e)
		if !ok || !m.Match(item.Title, item.Body) {
			return
		}
		items = append(items, item)
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return nil, err
	}
	return items, nil
}

func (f *Fetcher) extract(req monitor.FetchRequest, e *colly.HTMLElement) (monitor.Item, bool) {
	sel := f.cfg.Selectors
	item := monitor.Item{
		Title:    childText(e, sel.Title),
		Body:     childText(e, sel.Body),
		Author:   childText(e, sel.Author),
		Metadata: map[string]any{"page": e.Request.URL.String()},
	}
	if item.Title == "" && item.Body == "" {
		return monitor.Item{}, false
	}
	if sel.Time != "" {
		if ts, err := time.Parse(time.RFC3339, e.ChildAttr(sel.Time, "datetime")); err == nil {
			ts = ts.UTC()
			item.PostedAt = &ts
		}
	}

	var href string
	if sel.Link != "" {
		href = e.ChildAttr(sel.Link, "href")
	}
	switch {
	case href != "":
		item.SourceURL = e.Request.AbsoluteURL(href)
	case e.Attr("id") != "":
		item.SourceURL = monitor.SyntheticURL(req.Source, req.Monitor.ID, e.Attr("id"))
	case e.Attr("data-id") != "":
		item.SourceURL = monitor.SyntheticURL(req.Source, req.Monitor.ID, e.Attr("data-id"))
	}
	if item.SourceURL == "" {
		return monitor.Item{}, false
	}
	return item, true
}

func childText(e *colly.HTMLElement, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(e.ChildText(selector)), " ")
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("scrape %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scrape %s: %w", url, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("scrape %s response: %w", url, *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
