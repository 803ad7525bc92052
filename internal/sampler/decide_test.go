package sampler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"boat_tracker/internal/gps"
	"boat_tracker/internal/storage"
)

func TestPolicyDecide(t *testing.T) {
	p := DefaultConfig().Policy
	last := &storage.Sample{Timestamp: 1000, Latitude: 47.0, Longitude: -122.0}
	here := gps.Fix{Quality: gps.Quality3D, Latitude: 47.0007, Longitude: -122.0}
	away := gps.Fix{Quality: gps.Quality3D, Latitude: 47.003, Longitude: -122.0}

	tests := []struct {
		name     string
		fix      gps.Fix
		now      float64
		engineOn bool
		last     *storage.Sample
		want     Decision
	}{
		{"empty store", here, 1000, false, nil, Bootstrap},
		{"moved", away, 1005, false, last, Motion},
		{"moved engine on", away, 1001, true, last, Motion},
		{"idle engine off", here, 1010, false, last, Skip},
		{"engine off at threshold", here, 1060, false, last, Skip},
		{"engine off past threshold", here, 1065, false, last, Heartbeat},
		{"engine on past threshold", here, 1035, true, last, Heartbeat},
		{"engine off same gap", here, 1035, false, last, Skip},
		{"clock behind last", here, 900, true, last, Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := p.Decide(tt.fix, tt.now, tt.engineOn, tt.last)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeartbeatThreshold(t *testing.T) {
	p := DefaultConfig().Policy
	assert.Equal(t, 30*time.Second, p.HeartbeatThreshold(true))
	assert.Equal(t, 60*time.Second, p.HeartbeatThreshold(false))
}
