package gps

import (
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/stratoberry/go-gpsd"
	"golang.org/x/xerrors"
)

// DefaultAddress is where gpsd listens by default.
const DefaultAddress = "localhost:2947"

// GPSD keeps the latest TPV report from a gpsd watch stream.
type GPSD struct {
	addr   string
	maxAge time.Duration
	clock  quartz.Clock

	mu      sync.Mutex
	session *gpsd.Session
	last    Fix
	lastAt  time.Time
}

// NewGPSD returns a source for the gpsd daemon at addr. Reports older than
// maxAge are ignored so a silent receiver is not mistaken for a stationary
// one.
func NewGPSD(addr string, maxAge time.Duration, clock quartz.Clock) *GPSD {
	if addr == "" {
		addr = DefaultAddress
	}
	return &GPSD{addr: addr, maxAge: maxAge, clock: clock}
}

// Connect dials gpsd and starts watching TPV reports.
func (g *GPSD) Connect(_ context.Context) error {
	session, err := gpsd.Dial(g.addr)
	if err != nil {
		return xerrors.Errorf("dial gpsd %s: %v: %w", g.addr, err, ErrConnect)
	}
	session.AddFilter("TPV", g.handleTPV)

	g.mu.Lock()
	g.session = session
	g.mu.Unlock()

	session.Watch()
	return nil
}

func (g *GPSD) handleTPV(r interface{}) {
	tpv, ok := r.(*gpsd.TPVReport)
	if !ok {
		return
	}
	g.record(Fix{
		Quality:   qualityFromMode(tpv.Mode),
		Latitude:  tpv.Lat,
		Longitude: tpv.Lon,
		Altitude:  tpv.Alt,
		Speed:     tpv.Speed,
		Track:     tpv.Track,
	})
}

func (g *GPSD) record(f Fix) {
	g.mu.Lock()
	g.last = f
	g.lastAt = g.clock.Now()
	g.mu.Unlock()
}

// CurrentFix returns the latest report, or a QualityNone fix if none has
// arrived within maxAge.
func (g *GPSD) CurrentFix() (Fix, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.session == nil {
		return Fix{}, xerrors.Errorf("not connected: %w", ErrConnect)
	}
	if g.lastAt.IsZero() || (g.maxAge > 0 && g.clock.Since(g.lastAt) > g.maxAge) {
		return Fix{}, nil
	}
	return g.last, nil
}

// Close ends the watch.
func (g *GPSD) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.session == nil {
		return nil
	}
	err := g.session.Close()
	g.session = nil
	return err
}

func qualityFromMode(m gpsd.Mode) Quality {
	switch m {
	case gpsd.Mode3D:
		return Quality3D
	case gpsd.Mode2D:
		return Quality2D
	default:
		return QualityNone
	}
}
