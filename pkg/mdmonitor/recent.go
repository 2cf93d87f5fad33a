package mdmonitor

import (
	"fmt"
	"sync"

	"github.com/armon/circbuf"
)

// recentEventBytes bounds the trailing event log the original keeps
// for its --test and status-dump paths (recovered from
// original_source/mdmonitor.c's status line buffer).
const recentEventBytes = 8192

// RecentEvents is a bounded, append-only trailing log of formatted
// event lines, backed by a fixed-capacity ring so memory use never
// grows with monitor uptime.
type RecentEvents struct {
	mu  sync.Mutex
	buf *circbuf.Buffer
}

// NewRecentEvents allocates the ring.
func NewRecentEvents() (*RecentEvents, error) {
	b, err := circbuf.NewBuffer(recentEventBytes)
	if err != nil {
		return nil, fmt.Errorf("mdmonitor: allocating recent-event ring: %w", err)
	}
	return &RecentEvents{buf: b}, nil
}

// Record appends ev's formatted line, dropping the oldest bytes if the
// ring is full.
func (r *RecentEvents) Record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf("%s: %s", ev.Name, ev.Array)
	if ev.Component != "" {
		line += fmt.Sprintf(" (%s)", ev.Component)
	}
	_, _ = r.buf.Write([]byte(line + "\n"))
}

// String returns the ring's current trailing content.
func (r *RecentEvents) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return string(r.buf.Bytes())
}
