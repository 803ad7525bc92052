package tzoffset

import (
	"sync"
	"time"

	"github.com/ringsaturn/tzf"
	"golang.org/x/xerrors"

	// Zone rules must be available on devices without a system tz database.
	_ "time/tzdata"
)

// Resolver maps a position to the UTC offset in effect there at an instant.
type Resolver interface {
	Resolve(lat, lon float64, at time.Time) (Offset, error)
}

// ZoneFinder is the subset of a polygon-backed zone lookup used here.
type ZoneFinder interface {
	GetTimezoneName(lng float64, lat float64) string
}

// TZFResolver resolves offsets from bundled time zone polygons.
type TZFResolver struct {
	finder ZoneFinder

	mu        sync.Mutex
	locations map[string]*time.Location
}

// NewTZFResolver loads the default zone polygons. Loading takes a noticeable
// amount of memory, so construct one resolver per process.
func NewTZFResolver() (*TZFResolver, error) {
	finder, err := tzf.NewDefaultFinder()
	if err != nil {
		return nil, xerrors.Errorf("load time zone finder: %w", err)
	}
	return NewResolver(finder), nil
}

// NewResolver wraps an existing zone finder.
func NewResolver(finder ZoneFinder) *TZFResolver {
	return &TZFResolver{
		finder:    finder,
		locations: make(map[string]*time.Location),
	}
}

// Resolve returns the offset for lat/lon at the given instant, or ErrUnknown
// when the position falls outside every known zone.
func (r *TZFResolver) Resolve(lat, lon float64, at time.Time) (Offset, error) {
	name := r.finder.GetTimezoneName(lon, lat)
	if name == "" {
		return Offset{}, xerrors.Errorf("resolve %.5f,%.5f: %w", lat, lon, ErrUnknown)
	}

	loc, err := r.location(name)
	if err != nil {
		return Offset{}, xerrors.Errorf("load zone %q: %w", name, ErrUnknown)
	}

	_, secs := at.In(loc).Zone()
	return Offset{Zone: name, Seconds: secs}, nil
}

func (r *TZFResolver) location(name string) (*time.Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if loc, ok := r.locations[name]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, err
	}
	r.locations[name] = loc
	return loc, nil
}
