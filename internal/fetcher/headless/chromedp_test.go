package headless

import (
	"net/http"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer fetcher.Close()
	assert.Equal(t, 2, cap(fetcher.slots))
	assert.Positive(t, fetcher.cfg.NavigationTimeout)
}

func TestFormActionsOrder(t *testing.T) {
	t.Parallel()

	actions := formActions(map[string]string{"search": "1999", "page": "1"})
	// two SetValue, one Submit, one WaitReady
	assert.Len(t, actions, 4)
	assert.Equal(t, `[name="search"]`, fieldSelector("search"))
}

func TestDocumentMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := &documentMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  203,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	status, headers, url := meta.result("https://req", "")
	assert.Equal(t, 203, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://example.com/rendered", url)

	meta = &documentMeta{}
	meta.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeImage})
	status, headers, url = meta.result("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.NotNil(t, headers)
	assert.Equal(t, "https://final", url)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	got := toNetworkHeaders(http.Header{"X-One": {"a"}, "X-Many": {"a", "b"}, "X-None": {}})
	assert.Equal(t, "a", got["X-One"])
	assert.Equal(t, []string{"a", "b"}, got["X-Many"])
	_, present := got["X-None"]
	assert.False(t, present)
}
