package metadata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/JakeFAU/lockscreen-covers/internal/cover"
)

// CSVSourceName labels records produced by an offline export.
const CSVSourceName = "csv"

var csvColumns = []string{"year", "month", "skater", "trick", "obstacle", "location"}

// CSVSource serves metadata from an offline export with a header row naming
// the columns year, month, skater, trick, obstacle and location. Only year
// and month are required.
type CSVSource struct {
	records map[cover.IssueDate]cover.MetadataRecord
}

// OpenCSV loads a CSV export from disk.
func OpenCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata csv: %w", err)
	}
	defer f.Close()
	return NewCSVSource(f)
}

// NewCSVSource parses a CSV export. Rows with an unparseable date are
// rejected with the line number; rows with no descriptive field are dropped.
func NewCSVSource(r io.Reader) (*CSVSource, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &CSVSource{records: map[cover.IssueDate]cover.MetadataRecord{}}, nil
		}
		return nil, fmt.Errorf("read metadata csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range csvColumns[:2] {
		if _, ok := index[required]; !ok {
			return nil, fmt.Errorf("metadata csv: missing %q column", required)
		}
	}

	records := make(map[cover.IssueDate]cover.MetadataRecord)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read metadata csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		year, err := strconv.Atoi(field("year"))
		if err != nil {
			return nil, fmt.Errorf("metadata csv line %d: invalid year %q", line, field("year"))
		}
		month, ok := cover.ParseMonth(field("month"))
		if !ok {
			return nil, fmt.Errorf("metadata csv line %d: invalid month %q", line, field("month"))
		}
		date, err := cover.NewIssueDate(year, month)
		if err != nil {
			return nil, fmt.Errorf("metadata csv line %d: %w", line, err)
		}

		rec := cover.MetadataRecord{
			Date:      date,
			Skaters:   splitList(field("skater")),
			Tricks:    splitList(field("trick")),
			Obstacles: splitList(field("obstacle")),
			Location:  trimValue(field("location")),
			Source:    CSVSourceName,
		}
		if rec.Empty() {
			continue
		}
		if _, dup := records[date]; !dup {
			records[date] = rec
		}
	}
	return &CSVSource{records: records}, nil
}

// Name implements Source.
func (s *CSVSource) Name() string { return CSVSourceName }

// Len reports how many months the export covers.
func (s *CSVSource) Len() int { return len(s.records) }

// Lookup implements Source.
func (s *CSVSource) Lookup(_ context.Context, date cover.IssueDate) (cover.MetadataRecord, bool, error) {
	rec, ok := s.records[date]
	return rec, ok, nil
}
