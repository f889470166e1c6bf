// Package rss fetches RSS, Atom and JSON feeds and keeps the entries that
// match a monitor's keywords.
package rss

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/match"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

const maxBodyRunes = 2000

// Config controls feed fetching.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxAge drops entries published longer ago than this. Zero keeps all.
	MaxAge time.Duration
}

// Fetcher implements monitor.Fetcher over a monitor's feed URLs.
type Fetcher struct {
	parser *gofeed.Parser
	cfg    Config
	clock  monitor.Clock
	logger *zap.Logger
}

// New builds a Fetcher. client may be nil.
func New(cfg Config, client *http.Client, clock monitor.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := gofeed.NewParser()
	parser.Client = client
	if cfg.UserAgent != "" {
		parser.UserAgent = cfg.UserAgent
	}
	return &Fetcher{parser: parser, cfg: cfg, clock: clock, logger: logger.Named("rss")}
}

// Fetch reads every configured feed. A feed that fails is logged and
// skipped; the call errors only when every feed failed.
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
		cutoff time.Time
	)
	if f.cfg.MaxAge > 0 && f.clock != nil {
		cutoff = f.clock.Now().Add(-f.cfg.MaxAge)
	}
	for _, feedURL := range req.Config.URLs {
		feed, err := f.parser.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch feed %s: %w", feedURL, ctx.Err())
			}
			f.logger.Warn("feed fetch failed",
				zap.String("monitor_id", req.Monitor.ID),
				zap.String("url", feedURL),
				zap.Error(err),
			)
			failed = append(failed, fmt.Errorf("fetch feed %s: %w", feedURL, err))
			continue
		}
		items = append(items, f.collect(req, feed, matcher, cutoff)...)
	}
	if len(failed) == len(req.Config.URLs) {
		return nil, errors.Join(failed...)
	}
	return items, nil
}

func (f *Fetcher) collect(req monitor.FetchRequest, feed *gofeed.Feed, m *match.Matcher, cutoff time.Time) []monitor.Item {
	out := make([]monitor.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		posted := entry.PublishedParsed
		if posted == nil {
			posted = entry.UpdatedParsed
		}
		if posted != nil && !cutoff.IsZero() && posted.Before(cutoff) {
			continue
		}
		body := entry.Description
		if body == "" {
			body = entry.Content
		}
		body = plainText(body)
		title := strings.TrimSpace(entry.Title)
		if !m.Match(title, body) {
			continue
		}

		sourceURL := strings.TrimSpace(entry.Link)
		if sourceURL == "" {
			if entry.GUID == "" {
				continue
			}
			sourceURL = monitor.SyntheticURL(req.Source, req.Monitor.ID, entry.GUID)
		}
		item := monitor.Item{
			SourceURL: sourceURL,
			Title:     title,
			Body:      truncate(body, maxBodyRunes),
			PostedAt:  posted,
			Metadata:  map[string]any{"feed": feed.Title},
		}
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			item.Author = entry.Authors[0].Name
		}
		if len(entry.Categories) > 0 {
			item.Metadata["categories"] = entry.Categories
		}
		out = append(out, item)
	}
	return out
}

// plainText strips markup from feed HTML and collapses whitespace.
func plainText(s string) string {
	if !strings.ContainsRune(s, '<') {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
