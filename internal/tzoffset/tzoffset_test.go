package tzoffset

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "UTC+00:00"},
		{-8 * 3600, "UTC-08:00"},
		{5*3600 + 30*60, "UTC+05:30"},
		{-(3*3600 + 30*60), "UTC-03:30"},
		{14 * 3600, "UTC+14:00"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.seconds))
			got, err := Parse(tt.want)
			require.NoError(t, err)
			assert.Equal(t, tt.seconds, got)
		})
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"Unknown",
		"UTC",
		"UTC+5:30",
		"UTC*05:30",
		"UTC+05-30",
		"UTC+25:00",
		"UTC+05:75",
		"GMT+05:00",
		"UTC+ab:cd",
	} {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrUnknown))
		})
	}
}

func TestShiftRoundTrip(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offset := -7 * 3600

	shifted := Shift(at, offset)
	// Wall clock digits read as local time.
	assert.Equal(t, "2025-06-01 05:00:00", WallClock(shifted).Format(time.DateTime))

	back, err := Unshift(shifted, Format(offset))
	require.NoError(t, err)
	assert.True(t, at.Equal(back), "got %s", back)
}

func TestUnshiftMalformed(t *testing.T) {
	_, err := Unshift(0, "bogus")
	assert.ErrorIs(t, err, ErrUnknown)
}

type fakeFinder map[[2]float64]string

func (f fakeFinder) GetTimezoneName(lng, lat float64) string {
	return f[[2]float64{lng, lat}]
}

func TestResolver(t *testing.T) {
	r := NewResolver(fakeFinder{
		{-122.33, 47.60}: "America/Los_Angeles",
		{77.2, 28.6}:     "Asia/Kolkata",
		{0, 0}:           "Not/AZone",
	})

	winter := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	summer := time.Date(2025, 7, 15, 12, 0, 0, 0, time.UTC)

	off, err := r.Resolve(47.60, -122.33, winter)
	require.NoError(t, err)
	assert.Equal(t, "UTC-08:00", off.String())
	assert.Equal(t, "America/Los_Angeles", off.Zone)

	off, err = r.Resolve(47.60, -122.33, summer)
	require.NoError(t, err)
	assert.Equal(t, "UTC-07:00", off.String())

	off, err = r.Resolve(28.6, 77.2, summer)
	require.NoError(t, err)
	assert.Equal(t, "UTC+05:30", off.String())

	_, err = r.Resolve(10, 10, summer)
	assert.ErrorIs(t, err, ErrUnknown)

	_, err = r.Resolve(0, 0, summer)
	assert.ErrorIs(t, err, ErrUnknown)
}
