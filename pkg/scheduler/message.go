// Package scheduler implements C4: ready-queue dispatch, priority policy,
// worker assignment, retry/backoff, and failure propagation over a
// pkg/graph.Graph. Adapted from coordinator/messages.go's WSMessage/
// MessageType actor pattern (a small closed set of message types carrying a
// generic payload) and worker/pool.go's Queue/JobProcessor dequeue loop,
// generalized from WebSocket/job-queue plumbing to in-process graph-node
// dispatch.
package scheduler

import (
	"encoding/json"
	"time"

	"github.com/forgecore/forgecore/pkg/graph"
)

// MessageType is the closed set of events the Scheduler actor loop consumes.
type MessageType string

const (
	// MessageSchedule is informational: Run only logs it. A target reaches
	// the ready queue through the pending-deps cascade, not this message.
	MessageSchedule MessageType = "schedule"
	// MessageComplete reports a worker finished a target successfully.
	MessageComplete MessageType = "complete"
	// MessageFail reports a worker finished a target with an error.
	MessageFail MessageType = "fail"
	// MessageWorkerLost reports a worker disappeared mid-assignment; its
	// in-progress targets are returned to the ready queue.
	MessageWorkerLost MessageType = "worker_lost"
)

// Message is the unit of work the Scheduler's actor loop processes. Only one
// of the payload fields is meaningful per Type, mirroring WSMessage's single
// generic Payload map but kept typed since the scheduler is in-process.
type Message struct {
	Type       MessageType
	Target     graph.TargetID
	WorkerID   string
	DurationMs int64
	Err        error
	Timestamp  time.Time
}

// NewMessage builds a Message of the given type stamped with the current
// time, the way coordinator.NewMessage stamps WSMessage.
func NewMessage(t MessageType, target graph.TargetID) *Message {
	return &Message{Type: t, Target: target, Timestamp: time.Now()}
}

// logFields renders a Message as structured fields for forgelog, avoiding a
// String() method that would swallow the Err value.
func (m *Message) logFields() map[string]interface{} {
	f := map[string]interface{}{
		"type":   string(m.Type),
		"target": string(m.Target),
	}
	if m.WorkerID != "" {
		f["worker"] = m.WorkerID
	}
	if m.DurationMs > 0 {
		f["duration_ms"] = m.DurationMs
	}
	if m.Err != nil {
		f["err"] = m.Err.Error()
	}
	return f
}

// MarshalJSON supports logging/debugging Message values without leaking the
// unexported logFields helper.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.logFields())
}
