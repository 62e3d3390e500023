package resilience

import (
	"sync"
	"time"
)

type windowRecord struct {
	at       time.Time
	priority Priority
}

// SlidingWindow tracks timestamped requests over a fixed window; on each
// admission attempt it expires records older than the window, then admits
// if below the limit, or evicts the oldest lower-priority record to make
// room for a higher-priority incoming request (§4.8).
type SlidingWindow struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	records  []windowRecord
}

func NewSlidingWindow(window time.Duration, limit int) *SlidingWindow {
	return &SlidingWindow{window: window, limit: limit}
}

// Admit records the request if capacity allows, evicting the oldest
// lower-priority record when at capacity and the incoming request has
// higher priority. Returns whether the request was admitted.
func (w *SlidingWindow) Admit(priority Priority) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	w.expireLocked(now)

	if len(w.records) < w.limit {
		w.records = append(w.records, windowRecord{at: now, priority: priority})
		return true
	}

	// at capacity: look for the oldest record with a strictly lower
	// priority than the incoming request.
	oldestIdx := -1
	for i, r := range w.records {
		if r.priority < priority {
			if oldestIdx == -1 || r.at.Before(w.records[oldestIdx].at) {
				oldestIdx = i
			}
		}
	}
	if oldestIdx == -1 {
		return false
	}
	w.records[oldestIdx] = windowRecord{at: now, priority: priority}
	return true
}

func (w *SlidingWindow) expireLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	kept := w.records[:0]
	for _, r := range w.records {
		if r.at.After(cutoff) {
			kept = append(kept, r)
		}
	}
	w.records = kept
}

// Len reports the number of live records (test/metrics helper).
func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.expireLocked(time.Now())
	return len(w.records)
}
