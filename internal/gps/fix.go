// Package gps talks to the position source and reduces its reports to the
// single best current fix.
package gps

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
)

// ErrConnect is returned when the position source cannot be reached.
var ErrConnect = errors.New("position source unavailable")

// ErrNoFix is returned when no usable fix arrived in time.
var ErrNoFix = errors.New("no position fix")

// Snapshot window used by the snapshot command.
const (
	SnapshotWait = 4 * time.Second
	SnapshotPoll = 200 * time.Millisecond
)

// Quality is the fix dimension reported by the receiver.
type Quality int

// Fix qualities. Anything below Quality2D carries no usable position.
const (
	QualityNone Quality = 0
	Quality2D   Quality = 2
	Quality3D   Quality = 3
)

func (q Quality) String() string {
	switch q {
	case Quality2D:
		return "2D Fix"
	case Quality3D:
		return "3D Fix"
	default:
		return "No Fix"
	}
}

// Fix is a single position report.
type Fix struct {
	Quality   Quality
	Latitude  float64
	Longitude float64
	Altitude  float64 // meters
	Speed     float64 // meters per second
	Track     float64 // degrees true
}

// Valid reports whether the fix carries a usable position. Receivers emit
// all-zero reports while acquiring, so those are rejected too.
func (f Fix) Valid() bool {
	if f.Quality < Quality2D {
		return false
	}
	return f.Latitude != 0 || f.Longitude != 0 || f.Altitude != 0 || f.Speed != 0
}

// Source yields the best current fix.
type Source interface {
	Connect(ctx context.Context) error
	CurrentFix() (Fix, error)
}

// BestFix polls src for up to wait and returns the highest quality fix seen,
// stopping as soon as a 3D fix arrives. It returns false if nothing usable
// was reported.
func BestFix(ctx context.Context, src Source, clock quartz.Clock, wait, poll time.Duration) (Fix, bool) {
	var best Fix
	found := false

	deadline := clock.Now().Add(wait)
	for {
		fix, err := src.CurrentFix()
		if err == nil && fix.Valid() && (!found || fix.Quality > best.Quality) {
			best, found = fix, true
		}
		if found && best.Quality >= Quality3D {
			return best, true
		}

		remaining := deadline.Sub(clock.Now())
		if remaining <= 0 {
			return best, found
		}
		t := clock.NewTimer(min(poll, remaining), "gps", "snapshot")
		select {
		case <-ctx.Done():
			t.Stop()
			return best, found
		case <-t.C:
		}
	}
}

// Snapshot connects to src and returns the best fix seen within SnapshotWait.
func Snapshot(ctx context.Context, src Source, clock quartz.Clock) (Fix, error) {
	if err := src.Connect(ctx); err != nil {
		return Fix{}, err
	}
	fix, ok := BestFix(ctx, src, clock, SnapshotWait, SnapshotPoll)
	if !ok {
		return fix, ErrNoFix
	}
	return fix, nil
}
