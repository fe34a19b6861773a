// Package progress counts finished work across goroutines and forwards it to an optional reporter.
package progress

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Reporter shows progress, e.g. a *progressbar.ProgressBar.
type Reporter interface {
	Add(n int) error
}

type Tracker struct {
	done     atomic.Int64
	total    int64
	reporter Reporter
}

// NewTracker tracks total units of work. reporter may be nil.
func NewTracker(total int64, reporter Reporter) *Tracker {
	return &Tracker{total: total, reporter: reporter}
}

// Add marks n more units as done.
func (t *Tracker) Add(n int) {
	t.done.Add(int64(n))
	if t.reporter != nil {
		_ = t.reporter.Add(n)
	}
}

func (t *Tracker) Done() int64 {
	return t.done.Load()
}

func (t *Tracker) Total() int64 {
	return t.total
}

// NewBar returns a terminal progress bar for total units written to w.
func NewBar(w io.Writer, total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionShowIts(),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = io.WriteString(w, "\n") }),
	)
}
