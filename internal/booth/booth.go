package booth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fpang/photobooth/internal/frames"
	"github.com/rs/zerolog/log"
)

const (
	inboxSize      = 32
	subscriberSize = 16
)

type envelope struct {
	ev    Event
	reply chan dispatchResult
}

type dispatchResult struct {
	snap Snapshot
	err  error
}

// Booth runs a Machine on a single goroutine. Events from hosts, timers and
// operation workers all go through one inbox and are processed one at a
// time. Entering a state stops the previous state's timers and cancels its
// in-flight operation; results that arrive afterwards are discarded.
type Booth struct {
	machine *Machine
	stitch  StitchFunc
	upload  UploadFunc
	opts    options

	inbox   chan envelope
	done    chan struct{}
	running atomic.Bool

	// Owned by the Run goroutine.
	runCtx   context.Context
	timers   []Timer
	opCancel context.CancelFunc
	workers  sync.WaitGroup

	mu   sync.RWMutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// New returns a booth in the idle state. The stitch and upload capabilities
// are required.
func New(catalog *frames.Catalog, stitch StitchFunc, upload UploadFunc, opts ...Option) (*Booth, error) {
	if stitch == nil {
		return nil, errors.New("booth: stitch function is required")
	}
	if upload == nil {
		return nil, errors.New("booth: upload function is required")
	}
	m, err := NewMachine(catalog, opts...)
	if err != nil {
		return nil, err
	}
	return &Booth{
		machine: m,
		stitch:  stitch,
		upload:  upload,
		opts:    m.opts,
		inbox:   make(chan envelope, inboxSize),
		done:    make(chan struct{}),
		snap:    m.Snapshot(),
		subs:    make(map[chan Snapshot]struct{}),
	}, nil
}

// Run processes events until ctx is cancelled. On return every timer is
// stopped and in-flight operations are cancelled and awaited. A Booth can be
// run only once.
func (b *Booth) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	b.runCtx = ctx
	defer func() {
		b.stopTimers()
		b.cancelOp()
		close(b.done)
		b.workers.Wait()
		b.closeSubscribers()
	}()

	log.Info().
		Str("state", string(b.machine.State())).
		Str("frame", b.snap.SelectedFrameID).
		Msg("Booth runtime started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Booth runtime stopped")
			return nil
		case env := <-b.inbox:
			b.handle(env)
		}
	}
}

// Dispatch submits an event and waits until it has been processed. It
// returns the resulting snapshot, or the machine's error for rejected events.
func (b *Booth) Dispatch(ctx context.Context, ev Event) (Snapshot, error) {
	if !ev.Type.External() {
		return Snapshot{}, fmt.Errorf("%w: %s is produced internally", ErrInvalidEvent, ev.Type)
	}
	if !b.running.Load() {
		return Snapshot{}, ErrNotRunning
	}
	reply := make(chan dispatchResult, 1)
	select {
	case b.inbox <- envelope{ev: ev, reply: reply}:
	case <-b.done:
		return Snapshot{}, ErrNotRunning
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.snap, r.err
	case <-b.done:
		return Snapshot{}, ErrNotRunning
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Snapshot returns the latest published snapshot.
func (b *Booth) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snap
}

// Subscribe returns a channel that receives the current snapshot followed by
// one snapshot per accepted transition. Slow subscribers miss updates rather
// than block the booth. The channel is closed by cancel or when Run returns.
func (b *Booth) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberSize)
	b.mu.Lock()
	ch <- b.snap
	if b.subs != nil {
		b.subs[ch] = struct{}{}
	} else {
		close(ch)
	}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Booth) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Booth) handle(env envelope) {
	t, err := b.machine.Send(env.ev)
	if err != nil {
		if errors.Is(err, ErrStaleEvent) {
			log.Debug().Err(err).Msg("Discarding stale event")
		} else {
			log.Debug().Err(err).Str("event", string(env.ev.Type)).Msg("Event rejected")
		}
		if env.reply != nil {
			env.reply <- dispatchResult{snap: b.Snapshot(), err: err}
		}
		return
	}

	if t.Entered() {
		b.stopTimers()
		b.cancelOp()
	}
	for _, eff := range t.Effects {
		b.runEffect(eff)
	}
	b.publish(t)

	if env.reply != nil {
		env.reply <- dispatchResult{snap: t.Snapshot}
	}
}

func (b *Booth) runEffect(eff Effect) {
	switch eff.Kind {
	case EffectArmCountdown:
		from, interval := b.opts.countdownFrom, b.opts.tickInterval
		for k := 1; k < from; k++ {
			b.after(time.Duration(k)*interval, Event{Type: EventCountdownTick, Epoch: eff.Epoch})
		}
		b.after(time.Duration(from)*interval, Event{Type: EventCountdownDone, Epoch: eff.Epoch})

	case EffectArmAutoReset:
		b.after(b.opts.successTimeout, Event{Type: EventAutoReset, Epoch: eff.Epoch})

	case EffectInvokeStitch:
		req := eff.Stitch
		b.invoke(eff, func(ctx context.Context) Event {
			artifact, err := b.stitch(ctx, req)
			if err != nil {
				return Event{Type: EventStitchError, Err: err}
			}
			return Event{Type: EventStitchDone, Artifact: artifact}
		})

	case EffectInvokeUpload:
		req := eff.Upload
		b.invoke(eff, func(ctx context.Context) Event {
			res, err := b.upload(ctx, req)
			if err != nil {
				log.Warn().Err(err).
					Str("sessionId", req.SessionID).
					Int("attempt", eff.Attempt).
					Msg("Upload attempt failed")
				return Event{Type: EventUploadError, Err: err}
			}
			return Event{Type: EventUploadDone, Result: res}
		})
	}
}

func (b *Booth) after(d time.Duration, ev Event) {
	b.timers = append(b.timers, b.opts.clock.AfterFunc(d, func() { b.post(ev) }))
}

// invoke runs op on a worker goroutine under a context that is cancelled
// when the invoking state is left.
func (b *Booth) invoke(eff Effect, op func(ctx context.Context) Event) {
	ctx, cancel := context.WithCancel(b.runCtx)
	b.opCancel = cancel
	b.workers.Add(1)
	go func() {
		defer b.workers.Done()
		defer cancel()
		ev := safeOp(ctx, eff.Kind, op)
		ev.Epoch = eff.Epoch
		b.post(ev)
	}()
}

func safeOp(ctx context.Context, kind EffectKind, op func(ctx context.Context) Event) (ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("effect", string(kind)).Msg("Operation panicked")
			err := fmt.Errorf("%s panicked: %v", kind, r)
			if kind == EffectInvokeStitch {
				ev = Event{Type: EventStitchError, Err: err}
			} else {
				ev = Event{Type: EventUploadError, Err: err}
			}
		}
	}()
	return op(ctx)
}

// post queues an internal event. It gives up once Run has returned.
func (b *Booth) post(ev Event) {
	select {
	case b.inbox <- envelope{ev: ev}:
	case <-b.done:
	}
}

func (b *Booth) stopTimers() {
	for _, t := range b.timers {
		t.Stop()
	}
	b.timers = nil
}

func (b *Booth) cancelOp() {
	if b.opCancel != nil {
		b.opCancel()
		b.opCancel = nil
	}
}

func (b *Booth) publish(t Transition) {
	logTransition(t)
	for _, obs := range b.opts.observers {
		obs(t)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.snap = t.Snapshot
	for ch := range b.subs {
		select {
		case ch <- t.Snapshot:
		default:
			// Subscriber is behind; it will catch up on the next update.
		}
	}
}

func (b *Booth) closeSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

func logTransition(t Transition) {
	path := make([]string, len(t.Path))
	for i, s := range t.Path {
		path[i] = string(s)
	}
	log.Debug().
		Str("event", string(t.Event)).
		Str("from", string(t.From)).
		Str("to", string(t.To)).
		Strs("path", path).
		Str("sessionId", t.Snapshot.SessionID).
		Msg("Booth transition")

	if !t.Entered() {
		return
	}
	s := t.Snapshot
	switch t.To {
	case StateSuccess:
		log.Info().
			Str("sessionId", s.SessionID).
			Str("frame", s.SelectedFrameID).
			Str("resultId", s.ResultID).
			Msg("Session completed")
	case StateFailure:
		log.Warn().
			Str("sessionId", s.SessionID).
			Str("from", string(t.From)).
			Str("error", s.Error).
			Msg("Session failed")
	}
}
