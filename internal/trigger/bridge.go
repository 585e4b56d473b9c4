package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/fpang/photobooth/internal/booth"
	"github.com/rs/zerolog/log"
)

// CommandPress is the single-button command: it starts a session when
// idle, retries after a failure and dismisses the success screen.
const CommandPress = "PRESS"

// Booth is the part of the booth runtime the bridge drives.
type Booth interface {
	Dispatch(ctx context.Context, ev booth.Event) (booth.Snapshot, error)
	Snapshot() booth.Snapshot
	Subscribe() (<-chan booth.Snapshot, func())
}

// Command is the JSON form of a command message. Plain-text payloads such
// as "START" or "PRESS" are accepted too.
type Command struct {
	Type    string `json:"type"`
	FrameID string `json:"frameId,omitempty"`
}

// Bridge forwards commands from CommandTopic to the booth and publishes
// every snapshot, retained, to StateTopic.
type Bridge struct {
	Conn         Conn
	Booth        Booth
	CommandTopic string
	StateTopic   string
}

// Run subscribes and publishes until ctx is cancelled or the booth stops.
func (b *Bridge) Run(ctx context.Context) error {
	snaps, cancel := b.Booth.Subscribe()
	defer cancel()

	if err := b.Conn.Subscribe(b.CommandTopic, func(topic string, payload []byte) {
		b.handleCommand(ctx, payload)
	}); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.CommandTopic, err)
	}
	log.Info().Str("commandTopic", b.CommandTopic).Str("stateTopic", b.StateTopic).Msg("MQTT trigger bridge started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snaps:
			if !ok {
				return nil
			}
			b.publish(snap)
		}
	}
}

func (b *Bridge) publish(snap booth.Snapshot) {
	if b.StateTopic == "" {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal booth snapshot")
		return
	}
	if err := b.Conn.Publish(b.StateTopic, payload, true); err != nil {
		log.Warn().Err(err).Str("topic", b.StateTopic).Msg("Failed to publish booth state")
	}
}

func (b *Bridge) handleCommand(ctx context.Context, payload []byte) {
	cmd, err := ParseCommand(payload)
	if err != nil {
		log.Warn().Err(err).Str("payload", truncate(string(payload), 64)).Msg("Ignoring MQTT command")
		return
	}
	ev, err := b.event(cmd)
	if err != nil {
		log.Debug().Err(err).Str("command", cmd.Type).Msg("Ignoring MQTT command")
		return
	}
	snap, err := b.Booth.Dispatch(ctx, ev)
	if err != nil {
		if errors.Is(err, booth.ErrEventNotHandled) {
			log.Debug().Str("command", cmd.Type).Str("state", string(b.Booth.Snapshot().State)).Msg("MQTT command not valid in current state")
			return
		}
		log.Warn().Err(err).Str("command", cmd.Type).Msg("MQTT command rejected")
		return
	}
	log.Debug().Str("command", cmd.Type).Str("state", string(snap.State)).Msg("MQTT command applied")
}

// event maps a command to a booth event. Capture events carry camera data
// the bus cannot provide, so only session control is accepted.
func (b *Bridge) event(cmd Command) (booth.Event, error) {
	if cmd.Type == CommandPress {
		switch b.Booth.Snapshot().State {
		case booth.StateIdle:
			return booth.Event{Type: booth.EventStart}, nil
		case booth.StateFailure:
			return booth.Event{Type: booth.EventRetry}, nil
		case booth.StateSuccess:
			return booth.Event{Type: booth.EventReset}, nil
		default:
			return booth.Event{}, errors.New("button press ignored while a session is running")
		}
	}
	switch t := booth.EventType(cmd.Type); t {
	case booth.EventStart, booth.EventRetry, booth.EventReset:
		return booth.Event{Type: t}, nil
	case booth.EventSelectFrame:
		return booth.Event{Type: t, FrameID: cmd.FrameID}, nil
	}
	return booth.Event{}, fmt.Errorf("command %q is not accepted over MQTT", cmd.Type)
}

// ParseCommand decodes a JSON or plain-text command payload.
func ParseCommand(payload []byte) (Command, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return Command{}, errors.New("empty command")
	}
	var cmd Command
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return Command{}, fmt.Errorf("parse command: %w", err)
		}
	} else {
		cmd.Type = text
	}
	cmd.Type = strings.ToUpper(strings.TrimSpace(cmd.Type))
	if cmd.Type == "" {
		return Command{}, errors.New("command type is required")
	}
	return cmd, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
