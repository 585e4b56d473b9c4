package booth

import (
	"time"

	"github.com/google/uuid"
)

// Defaults for a booth session.
const (
	DefaultCountdownFrom    = 3
	DefaultTickInterval     = time.Second
	DefaultSuccessTimeout   = 60 * time.Second
	DefaultMaxUploadRetries = 3
)

// Observer is called on the runtime goroutine after every accepted
// transition. It must not block and must not call Dispatch.
type Observer func(Transition)

type options struct {
	countdownFrom    int
	tickInterval     time.Duration
	successTimeout   time.Duration
	maxUploadRetries int
	newID            func() string
	clock            Clock
	observers        []Observer
}

func defaultOptions() options {
	return options{
		countdownFrom:    DefaultCountdownFrom,
		tickInterval:     DefaultTickInterval,
		successTimeout:   DefaultSuccessTimeout,
		maxUploadRetries: DefaultMaxUploadRetries,
		newID:            uuid.NewString,
		clock:            realClock{},
	}
}

// Option configures a Machine or Booth.
type Option func(*options)

// WithCountdown sets the countdown start value and the tick interval.
// COUNTDOWN_DONE fires after from*interval.
func WithCountdown(from int, interval time.Duration) Option {
	return func(o *options) {
		if from > 0 {
			o.countdownFrom = from
		}
		if interval > 0 {
			o.tickInterval = interval
		}
	}
}

// WithSuccessTimeout sets how long a successful session is shown before it
// resets to idle on its own.
func WithSuccessTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.successTimeout = d
		}
	}
}

// WithMaxUploadRetries sets the number of automatic upload retries.
func WithMaxUploadRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxUploadRetries = n
		}
	}
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock replaces the wall clock used for timers and timestamps.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithObserver registers a transition hook.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}
