// Package normalize fits raw covers to the lock-screen resolution and encodes
// them under a byte ceiling.
package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // decoder registration
	_ "image/png" // decoder registration
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // decoder registration

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// Fit policies.
const (
	FitLetterbox = "letterbox"
	FitCrop      = "crop"
)

// maxSourcePixels bounds decode memory for hostile or broken inputs.
const maxSourcePixels = 100_000_000

// Config describes the lock-screen target.
type Config struct {
	Width      int
	Height     int
	Fit        string
	Background color.RGBA
	Encoder    Encoder
}

// Output is one normalized image.
type Output struct {
	Data    []byte
	Width   int
	Height  int
	Quality int
	Flagged bool
}

// Normalizer resizes and encodes covers. It is safe for concurrent use.
type Normalizer struct {
	cfg Config
}

// New validates cfg and builds a Normalizer.
func New(cfg Config) (*Normalizer, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("target size %dx%d must be positive", cfg.Width, cfg.Height)
	}
	if cfg.Fit == "" {
		cfg.Fit = FitLetterbox
	}
	if cfg.Fit != FitLetterbox && cfg.Fit != FitCrop {
		return nil, fmt.Errorf("unknown fit policy %q", cfg.Fit)
	}
	if err := cfg.Encoder.Validate(); err != nil {
		return nil, fmt.Errorf("normalize encoder: %w", err)
	}
	return &Normalizer{cfg: cfg}, nil
}

// Encoder returns the quality ladder used for outputs.
func (n *Normalizer) Encoder() Encoder {
	return n.cfg.Encoder
}

// Normalize decodes data, fits it to the target and encodes it. The result
// is always exactly Width x Height; Flagged reports a missed byte ceiling.
func (n *Normalizer) Normalize(data []byte) (Output, error) {
	src, err := Decode(data)
	if err != nil {
		return Output{}, err
	}
	dst := Fit(src, n.cfg.Width, n.cfg.Height, n.cfg.Fit, n.cfg.Background)
	enc, err := n.cfg.Encoder.Encode(dst)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Data:    enc.Data,
		Width:   n.cfg.Width,
		Height:  n.cfg.Height,
		Quality: enc.Quality,
		Flagged: enc.Flagged,
	}, nil
}

// Decode reads any registered format. Undecodable input wraps
// cover.ErrCorruptImage.
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cover.ErrCorruptImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxSourcePixels {
		return nil, fmt.Errorf("%w: unsupported dimensions %dx%d", cover.ErrCorruptImage, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cover.ErrCorruptImage, err)
	}
	return img, nil
}

// Fit scales src onto a width x height canvas. Letterbox keeps the whole
// cover centered on the background; crop fills the canvas from the center.
func Fit(src image.Image, width, height int, policy string, background color.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	if policy == FitCrop {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, cropRect(sb, width, height), draw.Src, nil)
		return dst
	}

	// letterbox: largest size that fits, rounded, centered
	nw, nh := width, height
	if sw*height > sh*width {
		nh = max(1, (sh*width+sw/2)/sw)
	} else {
		nw = max(1, (sw*height+sh/2)/sh)
	}
	x0 := (width - nw) / 2
	y0 := (height - nh) / 2
	draw.CatmullRom.Scale(dst, image.Rect(x0, y0, x0+nw, y0+nh), src, sb, draw.Over, nil)
	return dst
}

// cropRect is the largest centered region of b with the target aspect ratio.
func cropRect(b image.Rectangle, width, height int) image.Rectangle {
	sw, sh := b.Dx(), b.Dy()
	cw, ch := sw, sh
	if sw*height > sh*width {
		cw = max(1, sh*width/height)
	} else {
		ch = max(1, sw*height/width)
	}
	x0 := b.Min.X + (sw-cw)/2
	y0 := b.Min.Y + (sh-ch)/2
	return image.Rect(x0, y0, x0+cw, y0+ch)
}

// ParseHexColor accepts "#RRGGBB" or "#RRGGBBAA".
func ParseHexColor(raw string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("invalid colour %q", raw)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid colour %q: %w", raw, err)
	}
	return color.RGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
