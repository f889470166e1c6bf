package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testBucket = "scan-archive"

func testOptions(server *httptest.Server) []option.ClientOption {
	return []option.ClientOption{option.WithEndpoint(server.URL), option.WithoutAuthentication()}
}

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), testOptions(server)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	s, err := New(client, Config{Bucket: testBucket, CacheControl: "no-store"})
	require.NoError(t, err)
	return s
}

func TestPutObjectUploadsSummary(t *testing.T) {
	t.Parallel()

	path := "runs/2026/03/02/scheduled_reddit_1.json"
	payload := `{"runId":"scheduled:reddit:1"}`

	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, fmt.Sprintf("/upload/storage/v1/b/%s/o", testBucket))
		assert.Equal(t, path, r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		assert.Contains(t, string(body), "application/json")
		fmt.Fprintln(w, `{"name": "`+path+`", "bucket": "`+testBucket+`"}`)
	}))

	uri, err := s.PutObject(context.Background(), path, "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "gs://scan-archive/"+path, uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := s.PutObject(context.Background(), "runs/x.json", "application/json", strings.NewReader("{}"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	s := newTestStore(t, http.NotFoundHandler())
	_, err := s.PutObject(context.Background(), " ", "", strings.NewReader("{}"))
	require.EqualError(t, err, "path is required")
}

func TestOpenChecksBucket(t *testing.T) {
	t.Parallel()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/b/"+testBucket)
		fmt.Fprintln(w, `{"name": "`+testBucket+`"}`)
	}))
	t.Cleanup(ok.Close)

	s, err := Open(context.Background(), Config{Bucket: testBucket}, testOptions(ok)...)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(missing.Close)

	_, err = Open(context.Background(), Config{Bucket: testBucket}, testOptions(missing)...)
	require.Error(t, err)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: testBucket})
	require.Error(t, err)
}
