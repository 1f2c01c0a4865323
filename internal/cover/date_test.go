package cover

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIssueDate(t *testing.T) {
	t.Parallel()

	d, err := ParseIssueDate("2020-12")
	require.NoError(t, err)
	assert.Equal(t, IssueDate{Year: 2020, Month: time.December}, d)

	d, err = ParseIssueDate("1981-01-01")
	require.NoError(t, err)
	assert.Equal(t, "1981-01", d.String())

	_, err = ParseIssueDate("December 2020")
	assert.Error(t, err)
}

func TestIssueDateTitle(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "December 2020", MustIssueDate("2020-12").Title())
	assert.Equal(t, "January 1981", MustIssueDate("1981-01").Title())
}

func TestIssueDateJSONAsValueAndMapKey(t *testing.T) {
	t.Parallel()

	payload := map[IssueDate]CoverKey{
		MustIssueDate("2001-03"): {Date: MustIssueDate("2001-03"), Edition: 1},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"2001-03":{"date":"2001-03","edition":1}}`, string(raw))

	var decoded map[IssueDate]CoverKey
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, payload, decoded)
}

func TestParseMonth(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Month{
		"December":   time.December,
		"dec":        time.December,
		"Sept.":      time.September,
		"7":          time.July,
		"Winter":     time.December,
		"summer":     time.June,
		"PhotoIssue": time.September,
	}
	for in, want := range cases {
		got, ok := ParseMonth(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "13", "Smarch", "ma"} {
		_, ok := ParseMonth(bad)
		assert.False(t, ok, bad)
	}
}

func TestCoverKeyOrderingAndString(t *testing.T) {
	t.Parallel()

	a := CoverKey{Date: MustIssueDate("2000-01")}
	b := CoverKey{Date: MustIssueDate("2000-01"), Edition: 1}
	c := CoverKey{Date: MustIssueDate("1999-12"), Edition: 3}

	assert.True(t, a.Less(b))
	assert.True(t, c.Less(a))
	assert.False(t, b.Less(a))
	assert.Equal(t, "2000-01", a.String())
	assert.Equal(t, "2000-01_2", b.String())
}
