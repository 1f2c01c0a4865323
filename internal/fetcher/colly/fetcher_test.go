package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/cover.jpg", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("X-Agent", req.UserAgent())
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	})
	r.Get("/missing.jpg", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})
	r.Get("/slow.jpg", func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/search", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, req.ParseForm())
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<p>" + req.PostFormValue("search") + "</p>"))
	})
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestFetchImage(t *testing.T) {
	t.Parallel()

	ts := newUpstream(t)
	f := New(Config{UserAgent: "covers-test", Timeout: time.Second})

	for i := 0; i < 2; i++ {
		resp, err := f.Fetch(context.Background(), cover.FetchRequest{URL: ts.URL + "/cover.jpg"})
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/jpeg", resp.ContentType())
		assert.Equal(t, "covers-test", resp.Headers.Get("X-Agent"))
		assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0}, resp.Body)
	}
}

func TestFetchNotFoundIsAResponse(t *testing.T) {
	t.Parallel()

	ts := newUpstream(t)
	f := New(Config{Timeout: time.Second})

	resp, err := f.Fetch(context.Background(), cover.FetchRequest{URL: ts.URL + "/missing.jpg"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchPost(t *testing.T) {
	t.Parallel()

	ts := newUpstream(t)
	f := New(Config{Timeout: time.Second})

	resp, err := f.Fetch(context.Background(), cover.FetchRequest{
		URL:    ts.URL + "/search",
		Method: http.MethodPost,
		Form:   map[string]string{"search": "1999"},
	})
	require.NoError(t, err)
	assert.Equal(t, "<p>1999</p>", string(resp.Body))
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	ts := newUpstream(t)
	f := New(Config{Timeout: 50 * time.Millisecond})

	_, err := f.Fetch(context.Background(), cover.FetchRequest{URL: ts.URL + "/slow.jpg"})
	require.Error(t, err)
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()

	ts := newUpstream(t)
	f := New(Config{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, cover.FetchRequest{URL: ts.URL + "/slow.jpg"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := cover.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result cover.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	assert.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	target, err := url.Parse("https://example.com")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: target},
	})
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	assert.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
