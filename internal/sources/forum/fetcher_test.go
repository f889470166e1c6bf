package forum

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mention-scanner/internal/match"
	"github.com/JakeFAU/mention-scanner/internal/monitor"
	"github.com/JakeFAU/mention-scanner/internal/steps"
)

const listingHTML = `<html><body>
<div class="thread">
  <a class="title" href="/t/101">Acme support is great</a>
  <p class="excerpt">Switched last month.</p>
  <span class="author">dana</span>
  <time datetime="2026-03-02T10:00:00Z">2h ago</time>
</div>
<div class="thread">
  <a class="title" href="/t/102">Anyone tried Globex?</a>
  <p class="excerpt">Looking for options.</p>
</div>
<div class="thread" id="review-7">
  <span class="title">Acme onboarding review</span>
  <p class="excerpt">Smooth setup.</p>
</div>
</body></html>`

var testSelectors = Selectors{
	Item:   "div.thread",
	Title:  ".title",
	Link:   "a.title",
	Body:   ".excerpt",
	Author: ".author",
	Time:   "time",
}

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/latest" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, listingHTML)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func request(urls ...string) monitor.FetchRequest {
	return monitor.FetchRequest{
		Monitor: monitor.Monitor{ID: "m1", UserID: "u1"},
		Source:  monitor.SourceForum,
		Config:  monitor.SourceConfig{URLs: urls, Keywords: []string{"acme"}},
	}
}

func TestFetchExtractsMatchingThreads(t *testing.T) {
	t.Parallel()

	srv := newListingServer(t)
	f, err := New(Config{Selectors: testSelectors, UserAgent: "scanner-test"}, nil, zap.NewNop())
	require.NoError(t, err)

	items, err := f.Fetch(context.Background(), request(srv.URL+"/latest"))
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	require.Equal(t, srv.URL+"/t/101", first.SourceURL)
	require.Equal(t, "Acme support is great", first.Title)
	require.Equal(t, "Switched last month.", first.Body)
	require.Equal(t, "dana", first.Author)
	require.NotNil(t, first.PostedAt)
	require.Equal(t, time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), *first.PostedAt)

	require.Equal(t, monitor.SyntheticURL(monitor.SourceForum, "m1", "review-7"), items[1].SourceURL)
}

func TestFetchRevisitsSamePage(t *testing.T) {
	t.Parallel()

	srv := newListingServer(t)
	f, err := New(Config{Selectors: testSelectors}, nil, nil)
	require.NoError(t, err)

	for range 2 {
		items, err := f.Fetch(context.Background(), request(srv.URL+"/latest"))
		require.NoError(t, err)
		require.Len(t, items, 2)
	}
}

func TestFetchErrorsWhenEveryPageFails(t *testing.T) {
	t.Parallel()

	srv := newListingServer(t)
	f, err := New(Config{Selectors: testSelectors}, nil, nil)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), request(srv.URL+"/missing"))
	require.Error(t, err)

	items, err := f.Fetch(context.Background(), request(srv.URL+"/missing", srv.URL+"/latest"))
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestFetchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(block) })

	f, err := New(Config{Selectors: testSelectors}, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, request(srv.URL+"/latest"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresItemSelector(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil, nil)
	require.ErrorIs(t, err, ErrNoItemSelector)
}

func TestFetchInvalidExpressionIsPermanent(t *testing.T) {
	t.Parallel()

	srv := newListingServer(t)
	f, err := New(Config{Selectors: testSelectors}, nil, zap.NewNop())
	require.NoError(t, err)

	req := request(srv.URL + "/latest")
	req.Config.SearchExpression = `"acme support`
	_, err = f.Fetch(context.Background(), req)
	require.ErrorIs(t, err, match.ErrUnterminatedQuote)
	require.True(t, steps.IsPermanent(err))
}
