package store

import (
	"context"
	"sync"
	"time"

	"github.com/fpang/photobooth/internal/booth"
	"github.com/rs/zerolog/log"
)

const defaultWriteTimeout = 5 * time.Second

// SessionRecorder writes a Session summary for every finished booth session.
// Observe runs on the booth's event loop, so writes happen on their own
// goroutine and failures are logged, never surfaced to the guest.
type SessionRecorder struct {
	Store   Store
	Timeout time.Duration
	Now     func() time.Time

	wg sync.WaitGroup
}

// Observe is a booth.Observer.
func (r *SessionRecorder) Observe(t booth.Transition) {
	if r.Store == nil || !t.Entered() || !t.Snapshot.Finished() || t.Snapshot.SessionID == "" {
		return
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	session := summarize(t, now())

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := r.Store.PutSession(ctx, session); err != nil {
			log.Warn().Err(err).Str("sessionId", session.ID).Msg("Failed to record session summary")
		}
	}()
}

// Wait blocks until pending writes finish.
func (r *SessionRecorder) Wait() {
	r.wg.Wait()
}

func summarize(t booth.Transition, finished time.Time) *Session {
	s := t.Snapshot
	session := &Session{
		ID:            s.SessionID,
		Outcome:       string(s.State),
		FrameID:       s.SelectedFrameID,
		Photos:        s.ImageCount,
		UploadRetries: s.UploadRetries,
		FinishedAt:    finished.Unix(),
	}
	if !s.StartedAt.IsZero() {
		session.StartedAt = s.StartedAt.Unix()
	}
	if s.State == booth.StateSuccess {
		session.StripID = s.ResultID
	} else {
		session.Error = s.Error
		session.FailedIn = string(t.From)
	}
	return session
}
