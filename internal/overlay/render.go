// Package overlay composites the date and metadata text block onto
// normalized covers, centering the block on a fixed anchor.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// Layout positions the text block.
type Layout struct {
	TextX        int
	TextYCenter  int
	LineSpacing  int
	LargeSize    float64
	MediumSize   float64
	TextColor    color.RGBA
	OutlineColor color.RGBA
	OutlineWidth int
}

// Fonts holds TTF/OTF paths; empty paths use the embedded Go fonts.
type Fonts struct {
	LargePath  string
	MediumPath string
}

// Placement is where one line lands: Box is its ink bounds in image
// coordinates and Dot the baseline origin passed to the drawer.
type Placement struct {
	Line Line
	Box  image.Rectangle
	Dot  image.Point
}

// Renderer draws text blocks. It is safe for concurrent use; faces are built
// per call because font.Face is not.
type Renderer struct {
	layout Layout
	large  *opentype.Font
	medium *opentype.Font
}

// NewRenderer parses the fonts and validates the layout.
func NewRenderer(layout Layout, fonts Fonts) (*Renderer, error) {
	if layout.LargeSize <= 0 || layout.MediumSize <= 0 {
		return nil, fmt.Errorf("font sizes must be positive")
	}
	if layout.LineSpacing < 0 || layout.OutlineWidth < 0 {
		return nil, fmt.Errorf("line spacing and outline width must not be negative")
	}
	large, err := loadFont(fonts.LargePath, gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("large font: %w", err)
	}
	medium, err := loadFont(fonts.MediumPath, goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("medium font: %w", err)
	}
	return &Renderer{layout: layout, large: large, medium: medium}, nil
}

func loadFont(path string, fallback []byte) (*opentype.Font, error) {
	data := fallback
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		data = raw
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return f, nil
}

type faces struct {
	large  font.Face
	medium font.Face
}

func (r *Renderer) newFaces() (faces, error) {
	large, err := opentype.NewFace(r.large, &opentype.FaceOptions{Size: r.layout.LargeSize, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return faces{}, fmt.Errorf("large face: %w", err)
	}
	medium, err := opentype.NewFace(r.medium, &opentype.FaceOptions{Size: r.layout.MediumSize, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		_ = large.Close()
		return faces{}, fmt.Errorf("medium face: %w", err)
	}
	return faces{large: large, medium: medium}, nil
}

func (f faces) Close() {
	_ = f.large.Close()
	_ = f.medium.Close()
}

func (f faces) of(l Line) font.Face {
	if l.Large() {
		return f.large
	}
	return f.medium
}

// Layout measures lines and places the block so its vertical midpoint is
// TextYCenter regardless of how many lines there are.
func (r *Renderer) Layout(lines []Line) ([]Placement, error) {
	ff, err := r.newFaces()
	if err != nil {
		return nil, err
	}
	defer ff.Close()
	return r.place(ff, lines), nil
}

func (r *Renderer) place(ff faces, lines []Line) []Placement {
	if len(lines) == 0 {
		return nil
	}
	bounds := make([]fixed.Rectangle26_6, len(lines))
	total := 0
	for i, l := range lines {
		bounds[i], _ = font.BoundString(ff.of(l), l.Text)
		total += inkHeight(bounds[i])
	}
	total += (len(lines) - 1) * r.layout.LineSpacing

	top := r.layout.TextYCenter - total/2
	placements := make([]Placement, len(lines))
	for i, l := range lines {
		b := bounds[i]
		h := inkHeight(b)
		w := (b.Max.X - b.Min.X).Ceil()
		left := r.layout.TextX - w/2
		dot := image.Pt(left-b.Min.X.Floor(), top-b.Min.Y.Floor())
		placements[i] = Placement{
			Line: l,
			Box:  image.Rect(left, top, left+w, top+h),
			Dot:  dot,
		}
		top += h + r.layout.LineSpacing
	}
	return placements
}

func inkHeight(b fixed.Rectangle26_6) int {
	return b.Max.Y.Ceil() - b.Min.Y.Floor()
}

// Render draws lines onto a copy of src. src is never modified.
func (r *Renderer) Render(src image.Image, lines []Line) (*image.RGBA, []Placement, error) {
	dst := image.NewRGBA(image.Rect(0, 0, src.Bounds().Dx(), src.Bounds().Dy()))
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	if len(lines) == 0 {
		return dst, nil, nil
	}

	ff, err := r.newFaces()
	if err != nil {
		return nil, nil, err
	}
	defer ff.Close()

	placements := r.place(ff, lines)
	outline := image.NewUniform(r.layout.OutlineColor)
	fill := image.NewUniform(r.layout.TextColor)
	w := r.layout.OutlineWidth
	for _, p := range placements {
		d := font.Drawer{Dst: dst, Face: ff.of(p.Line)}
		if w > 0 {
			d.Src = outline
			for dx := -w; dx <= w; dx++ {
				for dy := -w; dy <= w; dy++ {
					if dx == 0 && dy == 0 {
						continue
					}
					d.Dot = fixed.P(p.Dot.X+dx, p.Dot.Y+dy)
					d.DrawString(p.Line.Text)
				}
			}
		}
		d.Src = fill
		d.Dot = fixed.P(p.Dot.X, p.Dot.Y)
		d.DrawString(p.Line.Text)
	}
	return dst, placements, nil
}
