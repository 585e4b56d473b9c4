package booth

import (
	"errors"
	"fmt"
	"time"

	"github.com/fpang/photobooth/internal/frames"
)

// sessionContext is the mutable session data. Only the Machine touches it.
type sessionContext struct {
	sessionID       string
	startedAt       time.Time
	images          [][]byte
	selectedFrameID string
	countdown       int
	uploadRetries   int
	artifact        []byte
	resultURL       string
	resultID        string
	err             string
}

// Machine is the synchronous session state machine. It is not safe for
// concurrent use; the Booth runtime serializes access to it.
type Machine struct {
	catalog *frames.Catalog
	opts    options
	state   State
	ctx     sessionContext
	epoch   uint64
}

// NewMachine returns a machine in the idle state with a fresh context.
func NewMachine(catalog *frames.Catalog, opts ...Option) (*Machine, error) {
	if catalog == nil {
		return nil, errors.New("booth: frame catalog is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	m := &Machine{catalog: catalog, opts: o}
	var t Transition
	m.enter(&t, StateIdle)
	return m, nil
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Epoch returns the counter of state entries. Every entry, including a
// re-entry of the same state, increments it.
func (m *Machine) Epoch() uint64 {
	return m.epoch
}

// Snapshot returns a view of the current session.
func (m *Machine) Snapshot() Snapshot {
	c := m.ctx
	s := Snapshot{
		SessionID:       c.sessionID,
		State:           m.state,
		ImageCount:      len(c.images),
		Countdown:       c.countdown,
		SelectedFrameID: c.selectedFrameID,
		UploadRetries:   c.uploadRetries,
		HasArtifact:     len(c.artifact) > 0,
		ResultURL:       c.resultURL,
		ResultID:        c.resultID,
		Error:           c.err,
		StartedAt:       c.startedAt,
		Images:          append([][]byte(nil), c.images...),
		Artifact:        c.artifact,
	}
	if m.state == StateCountdown || m.state == StateCapture {
		s.PhotoNumber = min(len(c.images)+1, frames.SlotCount)
	}
	return s
}

// Send processes one event to completion, including any transient states.
// Events the current state does not handle return ErrEventNotHandled and
// leave the machine untouched.
func (m *Machine) Send(ev Event) (Transition, error) {
	if ev.Epoch != 0 && ev.Epoch != m.epoch {
		return Transition{}, fmt.Errorf("%w: %s from epoch %d, current epoch %d", ErrStaleEvent, ev.Type, ev.Epoch, m.epoch)
	}
	if err := validateEvent(ev); err != nil {
		return Transition{}, err
	}
	if !ev.Type.External() && ev.Epoch == 0 {
		return Transition{}, fmt.Errorf("%w: %s is produced internally", ErrInvalidEvent, ev.Type)
	}

	t := Transition{Event: ev.Type, From: m.state}
	handled := true
	switch m.state {
	case StateIdle:
		switch ev.Type {
		case EventStart:
			m.ctx.sessionID = m.opts.newID()
			m.ctx.startedAt = m.opts.clock.Now()
			m.enter(&t, StateCountdown)
		case EventSelectFrame:
			m.ctx.selectedFrameID = ev.FrameID
		default:
			handled = false
		}

	case StateCountdown:
		switch ev.Type {
		case EventCountdownTick:
			m.ctx.countdown = max(0, m.ctx.countdown-1)
		case EventCountdownDone:
			m.enter(&t, StateCapture)
		default:
			handled = false
		}

	case StateCapture:
		switch ev.Type {
		case EventCaptureDone:
			m.ctx.images = append(m.ctx.images, ev.Image)
			m.enter(&t, StateCheckProgress)
		case EventCaptureError:
			m.fail(&t, ev.Reason)
		default:
			handled = false
		}

	case StateStitching:
		switch ev.Type {
		case EventStitchDone:
			if len(ev.Artifact) == 0 {
				m.fail(&t, "compositor produced an empty artifact")
				break
			}
			m.ctx.artifact = ev.Artifact
			m.enter(&t, StateUploading)
		case EventStitchError:
			m.fail(&t, ev.Err.Error())
		default:
			handled = false
		}

	case StateUploading:
		switch ev.Type {
		case EventUploadDone:
			m.ctx.resultURL = ev.Result.URL
			m.ctx.resultID = ev.Result.ID
			m.ctx.uploadRetries = 0
			m.enter(&t, StateSuccess)
		case EventUploadError:
			if m.ctx.uploadRetries < m.opts.maxUploadRetries {
				m.ctx.uploadRetries++
				m.enter(&t, StateUploading)
				break
			}
			m.fail(&t, ev.Err.Error())
		default:
			handled = false
		}

	case StateSuccess:
		switch ev.Type {
		case EventReset, EventAutoReset:
			m.enter(&t, StateIdle)
		default:
			handled = false
		}

	case StateFailure:
		switch ev.Type {
		case EventRetry:
			m.enter(&t, StateIdle)
		default:
			handled = false
		}

	default:
		handled = false
	}

	if !handled {
		return Transition{}, fmt.Errorf("%w: %s in %s", ErrEventNotHandled, ev.Type, m.state)
	}
	t.To = m.state
	t.Snapshot = m.Snapshot()
	return t, nil
}

func validateEvent(ev Event) error {
	switch ev.Type {
	case EventSelectFrame:
		if ev.FrameID == "" {
			return fmt.Errorf("%w: %s requires a frame id", ErrInvalidEvent, ev.Type)
		}
	case EventCaptureDone:
		if len(ev.Image) == 0 {
			return fmt.Errorf("%w: %s requires image data", ErrInvalidEvent, ev.Type)
		}
	case EventCaptureError:
		if ev.Reason == "" {
			return fmt.Errorf("%w: %s requires a reason", ErrInvalidEvent, ev.Type)
		}
	case EventStitchError, EventUploadError:
		if ev.Err == nil {
			return fmt.Errorf("%w: %s requires an error", ErrInvalidEvent, ev.Type)
		}
	case EventStart, EventCountdownTick, EventCountdownDone, EventRetry, EventReset,
		EventStitchDone, EventUploadDone, EventAutoReset:
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}
	return nil
}

func (m *Machine) fail(t *Transition, msg string) {
	m.ctx.err = msg
	m.enter(t, StateFailure)
}

// enter runs the entry actions of s and follows transient states.
func (m *Machine) enter(t *Transition, s State) {
	m.state = s
	m.epoch++
	t.Path = append(t.Path, s)

	switch s {
	case StateIdle:
		m.ctx = sessionContext{
			selectedFrameID: m.catalog.Default().ID,
			countdown:       m.opts.countdownFrom,
		}

	case StateCountdown:
		m.ctx.countdown = m.opts.countdownFrom
		t.Effects = append(t.Effects, Effect{Kind: EffectArmCountdown, Epoch: m.epoch})

	case StateCheckProgress:
		if len(m.ctx.images) < frames.SlotCount {
			m.enter(t, StateCountdown)
		} else {
			m.enter(t, StateStitching)
		}

	case StateStitching:
		frame, ok := m.catalog.Lookup(m.ctx.selectedFrameID)
		if !ok {
			m.fail(t, "Frame not found: "+m.ctx.selectedFrameID)
			return
		}
		t.Effects = append(t.Effects, Effect{
			Kind:  EffectInvokeStitch,
			Epoch: m.epoch,
			Stitch: StitchRequest{
				SessionID: m.ctx.sessionID,
				Images:    append([][]byte(nil), m.ctx.images...),
				Frame:     frame,
			},
		})

	case StateUploading:
		t.Effects = append(t.Effects, Effect{
			Kind:    EffectInvokeUpload,
			Epoch:   m.epoch,
			Attempt: m.ctx.uploadRetries + 1,
			Upload: UploadRequest{
				SessionID: m.ctx.sessionID,
				FrameID:   m.ctx.selectedFrameID,
				Artifact:  m.ctx.artifact,
			},
		})

	case StateSuccess:
		t.Effects = append(t.Effects, Effect{Kind: EffectArmAutoReset, Epoch: m.epoch})

	case StateFailure:
		m.ctx.artifact = nil
		m.ctx.resultURL = ""
		m.ctx.resultID = ""
	}
}
