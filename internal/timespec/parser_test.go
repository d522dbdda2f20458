package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 10, 29, 13, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want time.Time
	}{
		{"duration", "1h30m", now.Add(-90 * time.Minute)},
		{"rfc3339", "2025-10-28T08:15:00Z", time.Date(2025, 10, 28, 8, 15, 0, 0, time.UTC)},
		{"date", "2025-10-01", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, spec := range []string{"", "yesterday", "-1h", "2025-13-40"} {
		_, err := Parse(spec, now)
		assert.Error(t, err, spec)
	}
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("2h", "1h", now)
	require.NoError(t, err)
	assert.True(t, r.Since.Equal(now.Add(-2*time.Hour)))
	assert.True(t, r.Until.Equal(now.Add(-time.Hour)))

	open, err := ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, open.Since.IsZero())
	assert.True(t, open.Until.IsZero())

	_, err = ParseRange("1h", "2h", now)
	assert.ErrorContains(t, err, "--since must be before --until")

	_, err = ParseRange("nope", "", now)
	assert.ErrorContains(t, err, "invalid --since")
}

func TestRange_ContainsMs(t *testing.T) {
	r := Range{Since: now.Add(-time.Hour), Until: now}

	assert.True(t, r.ContainsMs(now.Add(-time.Hour).UnixMilli()), "since is inclusive")
	assert.True(t, r.ContainsMs(now.Add(-time.Minute).UnixMilli()))
	assert.False(t, r.ContainsMs(now.UnixMilli()), "until is exclusive")
	assert.False(t, r.ContainsMs(now.Add(-2*time.Hour).UnixMilli()))

	assert.True(t, Range{}.ContainsMs(0))
}
