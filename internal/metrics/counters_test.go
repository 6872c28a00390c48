package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	var c Counter

	c.Inc()
	c.Inc()
	c.Add(3)

	assert.Equal(t, uint64(5), c.Load())
}

func TestCounterConcurrent(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(5000), c.Load())
}

func TestTimer(t *testing.T) {
	timer := StartTimer()
	time.Sleep(10 * time.Millisecond)

	assert.GreaterOrEqual(t, timer.Duration(), 10*time.Millisecond)
}

func TestSessionCountersSnapshot(t *testing.T) {
	var s SessionCounters

	s.Reconnects.Inc()
	s.EventsIn.Add(4)
	s.MessagesSent.Inc()
	s.AlertsSuppressed.Inc()

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap["reconnects"])
	assert.Equal(t, uint64(4), snap["events_in"])
	assert.Equal(t, uint64(0), snap["events_dropped"])
	assert.Equal(t, uint64(1), snap["messages_sent"])
	assert.Equal(t, uint64(0), snap["send_rollbacks"])
	assert.Equal(t, uint64(0), snap["alerts_shown"])
	assert.Equal(t, uint64(1), snap["alerts_suppressed"])
}
