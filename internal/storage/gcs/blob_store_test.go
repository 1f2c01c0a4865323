package gcs

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(t *testing.T, status int, seen *[]*http.Request, mu *sync.Mutex) *storage.Client {
	t.Helper()
	client, err := storage.NewClient(
		context.Background(),
		option.WithoutAuthentication(),
		option.WithHTTPClient(&http.Client{
			Transport: roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				if r.Body != nil {
					_, _ = io.Copy(io.Discard, r.Body)
				}
				mu.Lock()
				*seen = append(*seen, r)
				mu.Unlock()
				return &http.Response{
					StatusCode: status,
					Body:       io.NopCloser(strings.NewReader(`{"name":"manifests/covers.json","bucket":"covers-bucket"}`)),
					Header:     http.Header{"Content-Type": {"application/json"}},
					Request:    r,
				}, nil
			}),
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	var (
		mu   sync.Mutex
		seen []*http.Request
	)
	_, err = New(newTestClient(t, http.StatusOK, &seen, &mu), Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s := &BlobStore{prefix: "lockscreen"}
	assert.Equal(t, "lockscreen/manifests/covers.json", s.ObjectName("/manifests/covers.json"))
	s = &BlobStore{}
	assert.Equal(t, "manifests/covers.json", s.ObjectName("manifests/covers.json"))
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []*http.Request
	)
	store, err := New(newTestClient(t, http.StatusOK, &seen, &mu), Config{Bucket: "covers-bucket", Prefix: "/lockscreen/"})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "manifests/covers.json", "application/json", bytes.NewReader([]byte(`[]`)))
	require.NoError(t, err)
	assert.Equal(t, "gs://covers-bucket/lockscreen/manifests/covers.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Contains(t, seen[0].URL.Path, "/b/covers-bucket/o")
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []*http.Request
	)
	store, err := New(newTestClient(t, http.StatusForbidden, &seen, &mu), Config{Bucket: "covers-bucket"})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "manifests/covers.json", "application/json", bytes.NewReader([]byte(`[]`)))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path is required")
}
