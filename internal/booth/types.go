// Package booth is the photobooth session controller: a deterministic state
// machine that sequences countdown, capture, compositing, upload and
// presentation for one booth, plus a single-goroutine runtime that owns the
// machine's timers and long-running operations.
//
// The Machine is synchronous and side-effect free. It returns the effects a
// transition asks for (arm a timer, run the stitcher, run the uploader) and
// the Booth runtime carries them out, feeding results back in as events.
package booth

import (
	"context"
	"errors"
	"time"

	"github.com/fpang/photobooth/internal/frames"
)

// State is one of the session states.
type State string

const (
	StateIdle          State = "idle"
	StateCountdown     State = "countdown"
	StateCapture       State = "capture"
	StateCheckProgress State = "checkProgress"
	StateStitching     State = "stitching"
	StateUploading     State = "uploading"
	StateSuccess       State = "success"
	StateFailure       State = "failure"
)

// EventType names an event. The upper-case values double as the wire names
// accepted by the HTTP and MQTT front ends.
type EventType string

const (
	EventStart         EventType = "START"
	EventSelectFrame   EventType = "SELECT_FRAME"
	EventCountdownTick EventType = "COUNTDOWN_TICK"
	EventCaptureDone   EventType = "CAPTURE_DONE"
	EventCaptureError  EventType = "CAPTURE_ERROR"
	EventRetry         EventType = "RETRY"
	EventReset         EventType = "RESET"

	// Produced by the runtime from timers and operation results.
	EventCountdownDone EventType = "COUNTDOWN_DONE"
	EventStitchDone    EventType = "STITCH_DONE"
	EventStitchError   EventType = "STITCH_ERROR"
	EventUploadDone    EventType = "UPLOAD_DONE"
	EventUploadError   EventType = "UPLOAD_ERROR"
	EventAutoReset     EventType = "AUTO_RESET"
)

// External reports whether hosts may send the event directly.
func (t EventType) External() bool {
	switch t {
	case EventStart, EventSelectFrame, EventCountdownTick,
		EventCaptureDone, EventCaptureError, EventRetry, EventReset:
		return true
	}
	return false
}

// Event is a single input to the machine. Only the fields relevant to Type
// are read.
type Event struct {
	Type EventType

	FrameID  string       // SELECT_FRAME
	Image    []byte       // CAPTURE_DONE
	Reason   string       // CAPTURE_ERROR
	Artifact []byte       // STITCH_DONE
	Result   UploadResult // UPLOAD_DONE
	Err      error        // STITCH_ERROR, UPLOAD_ERROR

	// Epoch ties a timer or operation result to the state entry that
	// produced it. Host events leave it zero; events the runtime produces
	// must carry the epoch of their effect.
	Epoch uint64
}

// StitchRequest is the compositor input for one session.
type StitchRequest struct {
	SessionID string
	Images    [][]byte
	Frame     frames.Descriptor
}

// UploadRequest is the uploader input for one session.
type UploadRequest struct {
	SessionID string
	FrameID   string
	Artifact  []byte
}

// UploadResult identifies an uploaded artifact.
type UploadResult struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// StitchFunc composites the captured photos into one encoded artifact.
type StitchFunc func(ctx context.Context, req StitchRequest) ([]byte, error)

// UploadFunc stores an artifact and returns where it can be retrieved. It
// must enforce its own timeout and report it as an ordinary error.
type UploadFunc func(ctx context.Context, req UploadRequest) (UploadResult, error)

var (
	// ErrEventNotHandled is returned when the current state has no
	// transition for an event. State and context are left unchanged.
	ErrEventNotHandled = errors.New("event not handled in current state")
	// ErrInvalidEvent is returned for events missing a required payload.
	ErrInvalidEvent = errors.New("invalid event")
	// ErrStaleEvent is returned for timer or operation results that belong
	// to a state entry that has since been left.
	ErrStaleEvent = errors.New("stale event")
	// ErrNotRunning is returned by Dispatch when the runtime loop is not running.
	ErrNotRunning = errors.New("booth is not running")
	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("booth is already running")
)

// Snapshot is a read-only view of the session. Captured photos and the
// artifact are shared with the machine and must not be modified.
type Snapshot struct {
	SessionID       string `json:"sessionId,omitempty"`
	State           State  `json:"state"`
	ImageCount      int    `json:"imageCount"`
	PhotoNumber     int    `json:"photoNumber,omitempty"`
	Countdown       int    `json:"countdown"`
	SelectedFrameID string `json:"selectedFrameId"`
	UploadRetries   int    `json:"uploadRetries"`
	HasArtifact     bool   `json:"hasArtifact"`
	ResultURL       string `json:"resultUrl,omitempty"`
	ResultID        string `json:"resultId,omitempty"`
	Error           string `json:"error,omitempty"`

	StartedAt time.Time `json:"-"`
	Images    [][]byte  `json:"-"`
	Artifact  []byte    `json:"-"`
}

// Finished reports whether the session reached a terminal outcome.
func (s Snapshot) Finished() bool {
	return s.State == StateSuccess || s.State == StateFailure
}

// EffectKind names a side effect requested by a transition.
type EffectKind string

const (
	EffectArmCountdown EffectKind = "arm-countdown"
	EffectInvokeStitch EffectKind = "invoke-stitch"
	EffectInvokeUpload EffectKind = "invoke-upload"
	EffectArmAutoReset EffectKind = "arm-auto-reset"
)

// Effect is work the runtime performs on behalf of a transition. Events it
// produces must carry Epoch.
type Effect struct {
	Kind  EffectKind
	Epoch uint64

	Stitch  StitchRequest // invoke-stitch
	Upload  UploadRequest // invoke-upload
	Attempt int           // invoke-upload, 1-based
}

// Transition describes how one event was processed.
type Transition struct {
	Event EventType
	From  State
	To    State
	// Path lists every state entered, in order, including transient ones.
	// It is empty for transitions that stay in the current state without
	// re-entering it.
	Path     []State
	Effects  []Effect
	Snapshot Snapshot
}

// Entered reports whether the transition entered at least one state.
func (t Transition) Entered() bool {
	return len(t.Path) > 0
}
