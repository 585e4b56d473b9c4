package metrics

import (
	"io"
	"time"

	"github.com/fpang/photobooth/internal/booth"
)

// SessionMetrics emits one EMF document per finished booth session. Use
// Observe as a booth.Observer.
type SessionMetrics struct {
	Namespace string
	Out       io.Writer
	Now       func() time.Time
}

// Observe records the session when a transition enters success or failure.
func (m SessionMetrics) Observe(t booth.Transition) {
	if !t.Entered() || !t.Snapshot.Finished() {
		return
	}
	s := t.Snapshot
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	ns := m.Namespace
	if ns == "" {
		ns = Namespace
	}

	outcome := "success"
	if s.State == booth.StateFailure {
		outcome = "failure"
	}

	rec := New(ns).
		Output(m.Out).
		Dimension("Outcome", outcome).
		Metric("Sessions", 1, UnitCount).
		Metric("PhotosCaptured", float64(s.ImageCount), UnitCount).
		Metric("UploadRetries", float64(s.UploadRetries), UnitCount).
		Property("sessionId", s.SessionID).
		Property("frameId", s.SelectedFrameID)
	rec.now = now

	if !s.StartedAt.IsZero() {
		rec.Metric("SessionDurationMs", float64(now().Sub(s.StartedAt).Milliseconds()), UnitMilliseconds)
	}
	if len(s.Artifact) > 0 {
		rec.Metric("StripBytes", float64(len(s.Artifact)), UnitBytes)
	}
	if outcome == "failure" {
		rec.Property("error", s.Error).Property("failedIn", string(t.From))
	} else {
		rec.Property("resultId", s.ResultID)
	}
	rec.Flush()
}
