package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/clock/system"
	"github.com/JakeFAU/lockscreen-covers/internal/config"
	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	collyfetcher "github.com/JakeFAU/lockscreen-covers/internal/fetcher/colly"
	"github.com/JakeFAU/lockscreen-covers/internal/manifest"
	memorypublisher "github.com/JakeFAU/lockscreen-covers/internal/publisher/memory"
	"github.com/JakeFAU/lockscreen-covers/internal/storage/local"
	"github.com/JakeFAU/lockscreen-covers/internal/storage/memory"
)

const searchPage = `<html><body><table>
<tr>
  <td><p>December 2020</p><p>Skater: Tony Hawk</p><p>Trick: Kickflip</p><p>Location: Los Angeles, CA</p></td>
  <td><img src="/c.jpg"></td>
</tr>
</table></body></html>`

func solidJPEG(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

type upstream struct {
	server   *httptest.Server
	searches atomic.Int32
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	december := solidJPEG(t, 300, 400, color.RGBA{R: 200, A: 255})
	special := solidJPEG(t, 300, 400, color.RGBA{B: 200, A: 255})
	june := solidJPEG(t, 400, 300, color.RGBA{G: 200, A: 255})

	up := &upstream{}
	r := chi.NewRouter()
	serve := func(body []byte) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(body)
		}
	}
	r.Get("/covers/2020_12.jpg", serve(december))
	r.Get("/covers/12_2020.jpg", serve(december))
	r.Get("/covers/2020_12_alt.jpg", serve(special))
	r.Get("/covers/2020_06.jpg", serve(june))
	r.Get("/covers/2020_03.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>moved</html>"))
	})
	r.Get("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	r.Post("/thrashersearch/", func(w http.ResponseWriter, _ *http.Request) {
		up.searches.Add(1)
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(searchPage))
	})
	up.server = httptest.NewServer(r)
	t.Cleanup(up.server.Close)
	return up
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Fetch.BaseURL = baseURL
	cfg.Fetch.StartYear = 2020
	cfg.Fetch.EndYear = 2020
	cfg.Fetch.RequestsPerSecond = 0
	cfg.Fetch.MaxAttempts = 1
	cfg.Fetch.BackoffInitial = time.Microsecond
	cfg.Fetch.BackoffMax = time.Microsecond
	cfg.Eras = []config.EraConfig{{
		Name:     "test",
		From:     2020,
		Patterns: []string{"/covers/{YYYY}_{MM}.jpg", "/covers/{MM}_{YYYY}.jpg", "/covers/{YYYY}_{MM}_alt.jpg"},
	}}

	cfg.Metadata.SearchURL = baseURL + "/thrashersearch/"
	cfg.Metadata.RequestsPerSecond = 0
	cfg.Metadata.MaxAttempts = 1

	cfg.Normalize.Width = 90
	cfg.Normalize.Height = 160
	cfg.Normalize.Concurrency = 2

	cfg.Overlay.TextX = 45
	cfg.Overlay.TextYCenter = 140
	cfg.Overlay.LineSpacing = 2
	cfg.Overlay.LargeSize = 10
	cfg.Overlay.MediumSize = 8
	cfg.Overlay.OutlineWidth = 1

	cfg.Publish.BaseURL = "https://cdn.test/covers"
	cfg.Manifest.SampleSize = 2
	cfg.Notify.ProjectID = "test-project"
	cfg.Notify.Topic = "covers-published"
	return cfg
}

type fixture struct {
	dir       string
	store     *local.BlobStore
	state     *local.BlobStore
	mirror    *memory.BlobStore
	catalog   *memory.Catalog
	publisher *memorypublisher.Publisher
}

func newPipeline(t *testing.T, cfg config.Config) (*Pipeline, fixture) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: filepath.Join(dir, "data")})
	require.NoError(t, err)
	state, err := local.New(local.Config{BaseDir: filepath.Join(dir, "state")})
	require.NoError(t, err)
	f := fixture{
		dir:       dir,
		store:     store,
		state:     state,
		mirror:    memory.NewBlobStore(),
		catalog:   memory.NewCatalog(),
		publisher: memorypublisher.New(),
	}
	p, err := New(cfg, Deps{
		Store:     store,
		State:     state,
		Mirror:    f.mirror,
		Catalog:   f.catalog,
		Publisher: f.publisher,
		Fetcher:   collyfetcher.New(collyfetcher.Config{UserAgent: "covers-test", Timeout: 2 * time.Second}),
		Clock:     system.Frozen{At: time.Date(2021, time.January, 5, 0, 0, 0, 0, time.UTC)},
	}, zap.NewNop())
	require.NoError(t, err)
	return p, f
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	p, f := newPipeline(t, testConfig(t, up.server.URL))
	require.NotEmpty(t, p.RunID())

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Covers)
	assert.Equal(t, 3, summary.Published)
	require.Len(t, summary.Stages, 5)
	for i, stage := range []string{cover.StageFetch, cover.StageEnrich, cover.StageNormalize, cover.StageOverlay, cover.StageManifest} {
		assert.Equal(t, stage, summary.Stages[i].Stage)
	}
	assert.Equal(t, int32(1), up.searches.Load(), "one search per year")

	reasons := map[string]int{}
	for _, s := range summary.Skipped {
		reasons[s.Stage+"/"+s.Reason]++
	}
	assert.Equal(t, 1, reasons["fetch/not_image"])
	assert.Equal(t, 1, reasons["enrich/no_metadata"], "june has no metadata")

	raw, err := os.ReadFile(filepath.Join(f.dir, "data", "manifests", manifest.FileCovers))
	require.NoError(t, err)
	var entries []cover.ManifestEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "2020-06", entries[0].Date)
	assert.Empty(t, entries[0].Skater)
	assert.Equal(t, "2020-12", entries[1].Date)
	assert.Equal(t, 0, entries[1].Edition)
	assert.Equal(t, "Tony Hawk", entries[1].Skater)
	assert.Equal(t, "Kickflip", entries[1].Trick)
	assert.Contains(t, entries[1].Location, "Los Angeles")
	assert.Equal(t, "https://cdn.test/covers/images/with_text/2020-12.jpg", entries[1].ImageURL)
	assert.Equal(t, 1, entries[2].Edition)
	assert.Equal(t, "https://cdn.test/covers/images/with_text/2020-12_2.jpg", entries[2].ImageURL)

	for _, name := range []string{manifest.FileURLs, manifest.FileRandomSample, manifest.FileByYear} {
		assert.FileExists(t, filepath.Join(f.dir, "data", "manifests", name))
	}
	for _, name := range []string{StateCovers, StateMetadata, StateNormalized, StateOverlayed, StateSummary} {
		assert.FileExists(t, filepath.Join(f.dir, "state", name))
	}

	img, err := os.ReadFile(filepath.Join(f.dir, "data", "images", "with_text", "2020-06.jpg"))
	require.NoError(t, err)
	dims, err := jpeg.DecodeConfig(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, 90, dims.Width)
	assert.Equal(t, 160, dims.Height)

	assert.True(t, f.mirror.Exists("images/with_text/2020-12_2.jpg"))
	assert.True(t, f.mirror.Exists("manifests/"+manifest.FileCovers))

	assert.Equal(t, 3, f.catalog.Len())
	dec, ok := f.catalog.Cover("2020-12")
	require.True(t, ok)
	assert.Len(t, dec.AltURLs, 1, "identical bytes collapse into one record")
	_, ok = f.catalog.Metadata("2020-12")
	assert.True(t, ok)
	runs := f.catalog.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, p.RunID(), runs[0].ID)
	assert.Equal(t, 3, runs[0].Published)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "covers-published", msgs[0].Topic)
	note, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, 3, note.Entries)
	assert.Equal(t, p.RunID(), note.RunID)
}

func TestStagesRunIndividually(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	cfg := testConfig(t, up.server.URL)
	cfg.Metadata.Enabled = false
	p, f := newPipeline(t, cfg)
	ctx := context.Background()

	_, err := p.Normalize(ctx)
	require.ErrorIs(t, err, ErrMissingState)

	covers, err := p.Fetch(ctx)
	require.NoError(t, err)
	assert.Len(t, covers.Records, 3)

	// overlay tolerates a missing metadata file
	_, err = p.Normalize(ctx)
	require.NoError(t, err)
	overlayed, err := p.Overlay(ctx)
	require.NoError(t, err)
	require.Len(t, overlayed.Images, 3)
	assert.Equal(t, []string{"June 2020"}, overlayed.Images[0].Lines)

	meta, err := p.Enrich(ctx)
	require.NoError(t, err)
	assert.Empty(t, meta.Records)
	assert.Zero(t, up.searches.Load(), "disabled metadata never searches")

	summary, err := p.Finish(ctx)
	require.NoError(t, err)
	assert.Len(t, summary.Stages, 4)
	assert.Zero(t, summary.Published)

	raw, err := f.state.GetObject(ctx, StateSummary)
	require.NoError(t, err)
	var decoded Summary
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, p.RunID(), decoded.RunID)
	assert.Empty(t, f.publisher.Messages())
}

func TestRunCanceledStillWritesSummary(t *testing.T) {
	t.Parallel()

	up := newUpstream(t)
	p, f := newPipeline(t, testConfig(t, up.server.URL))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, summary.Published)
	assert.True(t, f.state.Exists(StateSummary))
	assert.True(t, f.state.Exists(StateCovers))
	assert.Empty(t, f.publisher.Messages())
}

func TestNewRequiresStoresAndFetcher(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	_, err = New(cfg, Deps{}, nil)
	require.Error(t, err)

	store := memory.NewBlobStore()
	_, err = New(cfg, Deps{Store: store, State: store}, nil)
	require.Error(t, err)
}
