package overlay

import (
	"strings"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// Line kinds in the order they appear on the cover.
const (
	KindDate     = "date"
	KindSkater   = "skater"
	KindTrick    = "trick"
	KindObstacle = "obstacle"
	KindLocation = "location"
)

// MaxLines caps the text block.
const MaxLines = 4

// Line is one row of overlay text.
type Line struct {
	Kind string
	Text string
}

// Large reports whether the line uses the large face.
func (l Line) Large() bool {
	return l.Kind == KindDate || l.Kind == KindSkater
}

// Content selects which fields reach the overlay.
type Content struct {
	ShowDate          bool
	ShowSkater        bool
	ShowTrick         bool
	ShowObstacle      bool
	ShowLocation      bool
	JoinTrickLocation bool
	MaxSkaters        int
}

// DefaultContent shows date, skater, and trick joined with location.
func DefaultContent() Content {
	return Content{
		ShowDate:          true,
		ShowSkater:        true,
		ShowTrick:         true,
		ShowLocation:      true,
		JoinTrickLocation: true,
		MaxSkaters:        2,
	}
}

// Separator joins trick and location on one line.
const Separator = " · "

// BuildLines assembles the text block for a cover. meta may be nil; missing
// fields are omitted rather than left blank.
func BuildLines(date cover.IssueDate, meta *cover.MetadataRecord, c Content) []Line {
	var lines []Line
	if c.ShowDate {
		lines = append(lines, Line{Kind: KindDate, Text: date.Title()})
	}
	if meta == nil {
		return lines
	}

	if c.ShowSkater {
		skaters := clean(meta.Skaters)
		if c.MaxSkaters > 0 && len(skaters) > c.MaxSkaters {
			skaters = skaters[:c.MaxSkaters]
		}
		if len(skaters) > 0 {
			lines = append(lines, Line{Kind: KindSkater, Text: strings.Join(skaters, " & ")})
		}
	}

	trick := ""
	if c.ShowTrick {
		trick = first(meta.Tricks)
	}
	location := ""
	if c.ShowLocation {
		location = strings.TrimSpace(meta.Location)
	}
	if c.JoinTrickLocation && trick != "" && location != "" {
		lines = append(lines, Line{Kind: KindTrick, Text: trick + Separator + location})
		trick, location = "", ""
	}
	if trick != "" {
		lines = append(lines, Line{Kind: KindTrick, Text: trick})
	}
	if c.ShowObstacle {
		if obstacle := first(meta.Obstacles); obstacle != "" {
			lines = append(lines, Line{Kind: KindObstacle, Text: obstacle})
		}
	}
	if location != "" {
		lines = append(lines, Line{Kind: KindLocation, Text: location})
	}

	if len(lines) > MaxLines {
		lines = lines[:MaxLines]
	}
	return lines
}

// Texts returns the plain strings of lines.
func Texts(lines []Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func clean(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func first(values []string) string {
	if c := clean(values); len(c) > 0 {
		return c[0]
	}
	return ""
}
