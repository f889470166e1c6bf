package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/JakeFAU/mention-scanner/internal/config"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/sources"
	"github.com/JakeFAU/mention-scanner/internal/sources/api"
	"github.com/JakeFAU/mention-scanner/internal/sources/forum"
	"github.com/JakeFAU/mention-scanner/internal/sources/ratelimit"
	"github.com/JakeFAU/mention-scanner/internal/sources/rss"
)

// setupSources registers one rate-limited collaborator per configured source:
// search APIs for Hacker News and Reddit, feeds for Product Hunt and
// scrapers for every source with forum selectors.
func setupSources(app *App, clock monitor.Clock) (*sources.Registry, error) {
	cfg := app.cfg.Sources
	limiter := ratelimit.New(app.cfg.RateLimits())
	registry := sources.NewRegistry()
	logger := app.logger.Named("sources")

	hn, err := searchFetcher(cfg, cfg.HackerNews, api.DecodeHackerNews, clock, logger)
	if err != nil {
		return nil, fmt.Errorf("hackernews source: %w", err)
	}
	registry.Register(monitor.SourceHackerNews, limiter.Wrap(monitor.SourceHackerNews, hn))

	if cfg.Reddit.ClientID != "" {
		reddit, err := searchFetcher(cfg, cfg.Reddit, api.DecodeReddit, clock, logger)
		if err != nil {
			return nil, fmt.Errorf("reddit source: %w", err)
		}
		registry.Register(monitor.SourceReddit, limiter.Wrap(monitor.SourceReddit, reddit))
	} else {
		logger.Warn("reddit client credentials missing, reddit scans disabled")
	}

	feeds := rss.New(rss.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
		MaxAge:    cfg.FeedMaxAge,
	}, &http.Client{Timeout: cfg.Timeout}, clock, logger)
	registry.Register(monitor.SourceProductHunt, limiter.Wrap(monitor.SourceProductHunt, feeds))

	for name, selectors := range cfg.Forums {
		source := monitor.Source(name)
		scraper, err := forum.New(forum.Config{
			UserAgent:     cfg.UserAgent,
			RespectRobots: cfg.RespectRobots,
			Timeout:       cfg.Timeout,
			Selectors:     selectors,
		}, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("%s source: %w", name, err)
		}
		registry.Register(source, limiter.Wrap(source, scraper))
	}

	logger.Info("sources registered", zap.Any("sources", registry.Sources()))
	return registry, nil
}

func searchFetcher(
	cfg config.SourcesConfig,
	search config.SearchAPIConfig,
	decode api.Decoder,
	clock monitor.Clock,
	logger *zap.Logger,
) (*api.Fetcher, error) {
	var opts []api.Option
	if search.ClientID != "" {
		opts = append(opts, api.WithTokenSource(api.ClientCredentials(clientcredentials.Config{
			ClientID:     search.ClientID,
			ClientSecret: search.ClientSecret,
			TokenURL:     search.TokenURL,
		}, clock)))
	}
	return api.New(api.Config{
		Endpoint:   search.Endpoint,
		QueryParam: search.QueryParam,
		Limit:      search.Limit,
		LimitParam: search.LimitParam,
		UserAgent:  cfg.UserAgent,
		Timeout:    cfg.Timeout,
	}, decode, logger, opts...)
}
