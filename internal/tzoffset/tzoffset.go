// Package tzoffset resolves the local UTC offset for a position and converts
// capture instants to and from the shifted timestamp stored with each sample.
//
// A shifted timestamp is a count of seconds since the epoch whose digits read
// as local wall-clock time: shifted = utc_seconds + offset_seconds. Values are
// only comparable with each other when taken from the same representation, and
// must be unshifted with the stored offset before any absolute comparison.
package tzoffset

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// ErrUnknown is returned when no offset can be determined.
var ErrUnknown = errors.New("unknown time zone")

// Offset is a resolved UTC offset.
type Offset struct {
	Zone    string // IANA zone name, informational.
	Seconds int    // Signed offset east of UTC.
}

// String renders the offset as UTC±HH:MM.
func (o Offset) String() string {
	return Format(o.Seconds)
}

// Format renders a signed offset in seconds as UTC±HH:MM.
func Format(seconds int) string {
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	minutes := seconds / 60
	return fmt.Sprintf("UTC%c%02d:%02d", sign, minutes/60, minutes%60)
}

// Parse reads a UTC±HH:MM string back into signed seconds. Anything else,
// including out-of-range hours or minutes, yields ErrUnknown.
func Parse(s string) (int, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "UTC")
	if !ok || len(rest) != 6 || rest[3] != ':' {
		return 0, xerrors.Errorf("parse offset %q: %w", s, ErrUnknown)
	}

	var sign int
	switch rest[0] {
	case '+':
		sign = 1
	case '-':
		sign = -1
	default:
		return 0, xerrors.Errorf("parse offset %q: %w", s, ErrUnknown)
	}

	hh, err := strconv.Atoi(rest[1:3])
	if err != nil || hh > 14 {
		return 0, xerrors.Errorf("parse offset %q: %w", s, ErrUnknown)
	}
	mm, err := strconv.Atoi(rest[4:6])
	if err != nil || mm > 59 {
		return 0, xerrors.Errorf("parse offset %q: %w", s, ErrUnknown)
	}

	return sign * (hh*3600 + mm*60), nil
}

// Shift converts a capture instant to a shifted timestamp.
func Shift(t time.Time, offsetSeconds int) float64 {
	return float64(t.UnixNano())/1e9 + float64(offsetSeconds)
}

// Unshift recovers the true UTC instant from a shifted timestamp and the
// offset string stored alongside it.
func Unshift(shifted float64, offset string) (time.Time, error) {
	secs, err := Parse(offset)
	if err != nil {
		return time.Time{}, err
	}
	return WallClock(shifted - float64(secs)), nil
}

// WallClock turns a shifted timestamp into a time whose UTC fields carry the
// local wall-clock digits. Use it for display only.
func WallClock(shifted float64) time.Time {
	sec, frac := math.Modf(shifted)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
