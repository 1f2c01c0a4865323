package metadata

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// ParseResults reads a search results page. Each table row whose first cell
// names an issue month yields one record; rows without a recognisable month
// or without any descriptive field are ignored. The first row for a month wins.
func ParseResults(body []byte, source string) (map[cover.IssueDate]cover.MetadataRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("td p, td div, td li").AppendHtml("\n")

	records := make(map[cover.IssueDate]cover.MetadataRecord)
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() < 2 {
			return
		}
		info := cellText(cells.First())
		date, rest, ok := findIssueDate(info)
		if !ok {
			return
		}
		if _, seen := records[date]; seen {
			return
		}
		rec := Extract(rest)
		if rec.Empty() {
			return
		}
		rec.Date = date
		rec.Source = source
		records[date] = rec
	})
	return records, nil
}

// cellText flattens a cell to non-empty lines with whitespace collapsed.
func cellText(cell *goquery.Selection) string {
	var lines []string
	for _, line := range strings.Split(cell.Text(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
