package normalize

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
	"github.com/JakeFAU/lockscreen-covers/internal/storage/memory"
)

var defaultEncoder = Encoder{MaxBytes: 500 * 1024, StartQuality: 85, QualityStep: 5, MinQuality: 65}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func noise(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(7))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeOutput(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestNormalizeLockScreenTarget(t *testing.T) {
	t.Parallel()

	n, err := New(Config{Width: 1080, Height: 1920, Encoder: defaultEncoder})
	require.NoError(t, err)

	out, err := n.Normalize(encodeJPEG(t, gradient(3000, 4000)))
	require.NoError(t, err)
	assert.Equal(t, 1080, out.Width)
	assert.Equal(t, 1920, out.Height)
	assert.LessOrEqual(t, len(out.Data), 500*1024)
	assert.False(t, out.Flagged)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.Data))
	require.NoError(t, err)
	assert.Equal(t, 1080, cfg.Width)
	assert.Equal(t, 1920, cfg.Height)
}

func TestNormalizeAlwaysHitsTargetDimensions(t *testing.T) {
	t.Parallel()

	sizes := [][2]int{{1, 1}, {7, 3}, {90, 160}, {400, 100}, {100, 400}, {333, 777}}
	for _, fit := range []string{FitLetterbox, FitCrop} {
		n, err := New(Config{Width: 90, Height: 160, Fit: fit, Encoder: defaultEncoder})
		require.NoError(t, err)
		for _, size := range sizes {
			out, err := n.Normalize(encodePNG(t, gradient(size[0], size[1])))
			require.NoError(t, err, "%s %v", fit, size)
			img := decodeOutput(t, out.Data)
			assert.Equal(t, image.Rect(0, 0, 90, 160), img.Bounds(), "%s %v", fit, size)
		}
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	t.Parallel()

	n, err := New(Config{Width: 90, Height: 160, Encoder: defaultEncoder})
	require.NoError(t, err)
	input := encodeJPEG(t, gradient(300, 400))

	first, err := n.Normalize(input)
	require.NoError(t, err)
	second, err := n.Normalize(input)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(first.Data, second.Data))
}

func TestNormalizeLetterboxKeepsWholeCover(t *testing.T) {
	t.Parallel()

	n, err := New(Config{Width: 90, Height: 160, Fit: FitLetterbox, Encoder: defaultEncoder})
	require.NoError(t, err)
	out, err := n.Normalize(encodePNG(t, solid(400, 100, color.RGBA{R: 255, G: 255, B: 255, A: 255})))
	require.NoError(t, err)

	img := decodeOutput(t, out.Data)
	r, _, _, _ := img.At(2, 2).RGBA()
	assert.Less(t, r>>8, uint32(40), "bars use the background colour")
	r, _, _, _ = img.At(45, 80).RGBA()
	assert.Greater(t, r>>8, uint32(215), "cover sits in the middle")
}

func TestNormalizeCropFillsCanvas(t *testing.T) {
	t.Parallel()

	src := solid(400, 100, color.RGBA{R: 220, A: 255})
	for y := 0; y < 100; y++ {
		for x := 200; x < 400; x++ {
			src.Set(x, y, color.RGBA{B: 220, A: 255})
		}
	}
	n, err := New(Config{Width: 90, Height: 160, Fit: FitCrop, Encoder: defaultEncoder})
	require.NoError(t, err)
	out, err := n.Normalize(encodePNG(t, src))
	require.NoError(t, err)

	img := decodeOutput(t, out.Data)
	r, _, b, _ := img.At(2, 80).RGBA()
	assert.Greater(t, r>>8, uint32(170))
	assert.Less(t, b>>8, uint32(60))
	r, _, b, _ = img.At(87, 80).RGBA()
	assert.Less(t, r>>8, uint32(60))
	assert.Greater(t, b>>8, uint32(170))
}

func TestNormalizeFlagsWhenFloorMissesCeiling(t *testing.T) {
	t.Parallel()

	enc := Encoder{MaxBytes: 1000, StartQuality: 85, QualityStep: 10, MinQuality: 65}
	n, err := New(Config{Width: 90, Height: 160, Fit: FitCrop, Encoder: enc})
	require.NoError(t, err)

	out, err := n.Normalize(encodePNG(t, noise(90, 160)))
	require.NoError(t, err)
	assert.True(t, out.Flagged)
	assert.Equal(t, 65, out.Quality)
	assert.Greater(t, len(out.Data), 1000)
	assert.Equal(t, 90, out.Width)
}

func TestNormalizeRejectsCorruptInput(t *testing.T) {
	t.Parallel()

	n, err := New(Config{Width: 90, Height: 160, Encoder: defaultEncoder})
	require.NoError(t, err)

	_, err = n.Normalize([]byte("<html>not an image</html>"))
	require.ErrorIs(t, err, cover.ErrCorruptImage)

	valid := encodeJPEG(t, gradient(300, 400))
	_, err = n.Normalize(valid[:len(valid)/3])
	require.ErrorIs(t, err, cover.ErrCorruptImage)
}

func TestEncoderLadder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []int{85, 80, 75, 70, 65}, defaultEncoder.Ladder())
	assert.Equal(t, []int{85, 78, 71, 65}, Encoder{StartQuality: 85, QualityStep: 7, MinQuality: 65}.Ladder())
	assert.Equal(t, []int{70}, Encoder{StartQuality: 70, QualityStep: 5, MinQuality: 70}.Ladder())

	require.Error(t, Encoder{MaxBytes: 1, StartQuality: 60, QualityStep: 5, MinQuality: 65}.Validate())
	require.Error(t, Encoder{MaxBytes: 0, StartQuality: 85, QualityStep: 5, MinQuality: 65}.Validate())
	require.NoError(t, defaultEncoder.Validate())
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Width: 0, Height: 1920, Encoder: defaultEncoder})
	require.Error(t, err)
	_, err = New(Config{Width: 1080, Height: 1920, Fit: "stretch", Encoder: defaultEncoder})
	require.Error(t, err)
	_, err = New(Config{Width: 1080, Height: 1920, Encoder: Encoder{}})
	require.Error(t, err)
}

func TestParseHexColor(t *testing.T) {
	t.Parallel()

	c, err := ParseHexColor("#FF8000")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, G: 128, B: 0, A: 255}, c)

	c, err = ParseHexColor("00000080")
	require.NoError(t, err)
	assert.Equal(t, uint8(0x80), c.A)

	_, err = ParseHexColor("#FFF")
	require.Error(t, err)
	_, err = ParseHexColor("#GGGGGG")
	require.Error(t, err)
}

func TestStageRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	blobs := memory.NewBlobStore()
	_, err := blobs.PutObject(ctx, "images/raw/good.jpg", "image/jpeg", bytes.NewReader(encodeJPEG(t, gradient(300, 400))))
	require.NoError(t, err)
	_, err = blobs.PutObject(ctx, "images/raw/bad.jpg", "image/jpeg", bytes.NewReader([]byte("garbage")))
	require.NoError(t, err)

	n, err := New(Config{Width: 90, Height: 160, Encoder: defaultEncoder})
	require.NoError(t, err)
	stage := NewStage(n, blobs, StageConfig{Prefix: "images/normalized", Workers: 2}, zap.NewNop())

	records := []cover.CoverRecord{
		{Key: cover.CoverKey{Date: cover.MustIssueDate("2020-12")}, LocalImagePath: "images/raw/good.jpg"},
		{Key: cover.CoverKey{Date: cover.MustIssueDate("1990-01")}, LocalImagePath: "images/raw/bad.jpg"},
		{Key: cover.CoverKey{Date: cover.MustIssueDate("1991-01")}, LocalImagePath: "images/raw/gone.jpg"},
	}
	result, err := stage.Run(ctx, records)
	require.NoError(t, err)

	require.Len(t, result.Images, 1)
	img := result.Images[0]
	assert.Equal(t, "images/normalized/2020-12.jpg", img.Path)
	assert.Equal(t, 90, img.Width)
	assert.Equal(t, 160, img.Height)
	assert.True(t, blobs.Exists(img.Path))

	require.Len(t, result.Skipped, 2)
	assert.Equal(t, ReasonCorruptImage, result.Skipped[0].Reason)
	assert.Equal(t, "1990-01", result.Skipped[0].Key)
	assert.Equal(t, ReasonReadFailed, result.Skipped[1].Reason)
	assert.Empty(t, result.Flagged)
}
