// Package eras expands per-era URL templates into the ordered list of
// candidate cover URLs for a range of issue months.
package eras

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

const coversSection = "/images/image/Covers Section/images/"

// Era is a year range sharing a set of upstream URL templates. To == 0 means
// the era has no upper bound.
type Era struct {
	Name     string
	From     int
	To       int
	Patterns []string
}

// Contains reports whether year falls inside the era.
func (e Era) Contains(year int) bool {
	return year >= e.From && (e.To == 0 || year <= e.To)
}

// Defaults returns the built-in eras observed on the upstream archive.
func Defaults() []Era {
	return []Era{
		{
			Name:     "1981-1999",
			From:     1981,
			To:       1999,
			Patterns: []string{coversSection + "{MonthName}{YYYY}.jpg"},
		},
		{
			Name: "2000-2008",
			From: 2000,
			To:   2008,
			Patterns: []string{
				coversSection + "{MonthName}{YYYY}.jpg",
				coversSection + "{MonthName}{YYYY}sfw.jpg",
				coversSection + "{MonthName}{YYYY}_sfw.jpg",
			},
		},
		{
			Name: "2009-2019",
			From: 2009,
			To:   2019,
			Patterns: []string{
				coversSection + "{YYYY}_{MM}_Thrasher_Magazine_Cover_1080.jpg",
				coversSection + "{YYYY}_{MM}_Thrasher_Cover_1080.jpg",
				coversSection + "{MM}_{YY}_Thrasher_Cover_1080.jpg",
				coversSection + "{YY}_{MM}_Thrasher_Cover_1080.jpg",
				coversSection + "{YYYY}_{MM}.jpg",
				coversSection + "{MM}_{YYYY}.jpg",
				coversSection + "{YYYY}_{MM}sfw.jpg",
				coversSection + "{MM}{YYYY}sfw.jpg",
				"/images/CV1TH{MM}{YY}.jpg",
				"/images/CV1TH{MM}{YY}_Sml.jpg",
			},
		},
		{
			Name: "2020-",
			From: 2020,
			Patterns: []string{
				"/images/{MM}_{YY}_Thrasher_Cover_1080.jpg",
				"/images/image/Covers_Archive/{YY}_{MM}_Thrasher_Cover_1080.jpg",
				"/images/image/Covers_Archive/{YY}_{MM}_Thrasher-Cover_1080.jpg",
				"/images/{MM}{YY}_Thrasher_Cover_1080.jpg",
				coversSection + "{YYYY}_{MM}_Thrasher_Magazine_Cover_1080.jpg",
				"/images/{YY}_{MM}_Thrasher_Cover_1080.jpg",
				"/images/CV1TH{MM}{YY}.jpg",
				"/images/CV1TH{MM}{YY}_Sml.jpg",
			},
		},
	}
}

// Generator produces candidates for a base URL and era table.
type Generator struct {
	base *url.URL
	eras []Era
}

// NewGenerator validates the base URL. An empty era table falls back to Defaults.
func NewGenerator(baseURL string, eras []Era) (*Generator, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if len(eras) == 0 {
		eras = Defaults()
	}
	for _, era := range eras {
		if era.To != 0 && era.To < era.From {
			return nil, fmt.Errorf("era %q: invalid year range %d-%d", era.Name, era.From, era.To)
		}
	}
	return &Generator{base: base, eras: eras}, nil
}

// Candidates lists every candidate URL for issue months in [startYear, endYear],
// ordered by date then pattern order. Repeated URLs are dropped, so each
// candidate's Seq is unique and increasing.
func (g *Generator) Candidates(startYear, endYear int) []cover.Candidate {
	var out []cover.Candidate
	seen := make(map[string]struct{})
	for year := startYear; year <= endYear; year++ {
		for month := time.January; month <= time.December; month++ {
			date := cover.IssueDate{Year: year, Month: month}
			for _, era := range g.eras {
				if !era.Contains(year) {
					continue
				}
				for _, pattern := range era.Patterns {
					target := g.resolve(Expand(pattern, date))
					if _, dup := seen[target]; dup {
						continue
					}
					seen[target] = struct{}{}
					out = append(out, cover.Candidate{
						Seq:     len(out),
						Date:    date,
						URL:     target,
						Era:     era.Name,
						Pattern: pattern,
					})
				}
			}
		}
	}
	return out
}

func (g *Generator) resolve(p string) string {
	u := *g.base
	u.Path = strings.TrimRight(g.base.Path, "/") + "/" + strings.TrimLeft(p, "/")
	u.RawPath = ""
	return u.String()
}

// Expand substitutes {MonthName}, {YYYY}, {YY}, {MM} and {M} in pattern.
func Expand(pattern string, date cover.IssueDate) string {
	year := strconv.Itoa(date.Year)
	short := fmt.Sprintf("%02d", date.Year%100)
	r := strings.NewReplacer(
		"{MonthName}", date.Month.String(),
		"{YYYY}", year,
		"{YY}", short,
		"{MM}", fmt.Sprintf("%02d", int(date.Month)),
		"{M}", strconv.Itoa(int(date.Month)),
	)
	return r.Replace(pattern)
}
