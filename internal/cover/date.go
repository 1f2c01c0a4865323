package cover

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IssueDate is a magazine issue month. The day is always the first.
type IssueDate struct {
	Year  int
	Month time.Month
}

// NewIssueDate builds an IssueDate, validating the month.
func NewIssueDate(year int, month time.Month) (IssueDate, error) {
	if month < time.January || month > time.December {
		return IssueDate{}, fmt.Errorf("invalid month %d", month)
	}
	if year < 1 {
		return IssueDate{}, fmt.Errorf("invalid year %d", year)
	}
	return IssueDate{Year: year, Month: month}, nil
}

// ParseIssueDate accepts "YYYY-MM" and "YYYY-MM-DD".
func ParseIssueDate(raw string) (IssueDate, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return IssueDate{Year: t.Year(), Month: t.Month()}, nil
		}
	}
	return IssueDate{}, fmt.Errorf("parse issue date %q: expected YYYY-MM", raw)
}

// MustIssueDate is ParseIssueDate for literals; it panics on bad input.
func MustIssueDate(raw string) IssueDate {
	d, err := ParseIssueDate(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// String renders YYYY-MM.
func (d IssueDate) String() string {
	return fmt.Sprintf("%04d-%02d", d.Year, int(d.Month))
}

// Title renders the human form used on overlays, e.g. "December 2020".
func (d IssueDate) Title() string {
	return fmt.Sprintf("%s %d", d.Month.String(), d.Year)
}

// Time returns the first day of the issue month in UTC.
func (d IssueDate) Time() time.Time {
	return time.Date(d.Year, d.Month, 1, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether the date is unset.
func (d IssueDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0
}

// Before reports whether d is an earlier month than other.
func (d IssueDate) Before(other IssueDate) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	return d.Month < other.Month
}

// MarshalJSON encodes the date as "YYYY-MM".
func (d IssueDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes "YYYY-MM".
func (d *IssueDate) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode issue date: %w", err)
	}
	parsed, err := ParseIssueDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalText lets IssueDate be used as a JSON map key.
func (d IssueDate) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (d *IssueDate) UnmarshalText(text []byte) error {
	parsed, err := ParseIssueDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// special issue names seen on the metadata source and in older filenames.
var monthAliases = map[string]time.Month{
	"winter": time.December,
	"summer": time.June,
	"photo":  time.September,
}

// ParseMonth resolves a month name, abbreviation, number, or special issue
// alias ("Winter", "Summer", "Photo").
func ParseMonth(raw string) (time.Month, bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.TrimSuffix(key, ".")
	if key == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(key); err == nil {
		if n >= 1 && n <= 12 {
			return time.Month(n), true
		}
		return 0, false
	}
	for m := time.January; m <= time.December; m++ {
		name := strings.ToLower(m.String())
		if key == name || (len(key) >= 3 && strings.HasPrefix(name, key)) {
			return m, true
		}
	}
	if strings.HasPrefix(key, "photo") {
		key = "photo"
	}
	m, ok := monthAliases[key]
	return m, ok
}
