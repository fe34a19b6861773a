package progress

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReporter struct {
	mu sync.Mutex
	n  int
}

func (r *countingReporter) Add(n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n += n
	return nil
}

func TestTracker(t *testing.T) {
	reporter := &countingReporter{}
	tracker := NewTracker(400, reporter)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				tracker.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), tracker.Done())
	assert.Equal(t, int64(400), tracker.Total())
	assert.Equal(t, 400, reporter.n)
}

func TestTracker_WithoutReporter(t *testing.T) {
	tracker := NewTracker(3, nil)
	tracker.Add(2)
	assert.Equal(t, int64(2), tracker.Done())
}

func TestNewBar(t *testing.T) {
	var out bytes.Buffer
	bar := NewBar(&out, 10, "tiling")
	tracker := NewTracker(10, bar)
	tracker.Add(10)
	require.True(t, bar.IsFinished())
	assert.Equal(t, int64(10), tracker.Done())
}
