package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCacheRead(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(10 * time.Second)
	c.Update(SignalRPM, 1800, t0)

	tests := []struct {
		name   string
		signal string
		now    time.Time
		want   float64
		wantOK bool
	}{
		{"fresh", SignalRPM, t0.Add(time.Second), 1800, true},
		{"at timeout", SignalRPM, t0.Add(10 * time.Second), 1800, true},
		{"stale", SignalRPM, t0.Add(10*time.Second + time.Millisecond), 0, false},
		{"never seen", SignalCoolantTemp, t0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Read(tt.signal, tt.now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCacheOverwrites(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewCache(0)
	c.Update(SignalAlternatorVoltage, 13.9, t0)
	c.Update(SignalAlternatorVoltage, 14.2, t0.Add(2*time.Second))

	v, ok := c.Read(SignalAlternatorVoltage, t0.Add(11*time.Second))
	require.True(t, ok, "default timeout is measured from the newest reading")
	assert.Equal(t, 14.2, v)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, t0.Add(2*time.Second), snap[SignalAlternatorVoltage].Timestamp)
}

func TestCacheConcurrent(t *testing.T) {
	c := NewCache(time.Minute)
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Update(SignalRPM, float64(i*100+j), now)
				_, _ = c.Read(SignalRPM, now)
			}
		}(i)
	}
	wg.Wait()

	_, ok := c.Read(SignalRPM, now)
	assert.True(t, ok)
}
