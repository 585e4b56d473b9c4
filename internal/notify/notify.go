// Package notify announces published strips on an EventBridge bus so
// downstream rules (email, print queue, gallery sync) can react without
// the booth knowing about them.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// DetailTypeStripPublished is the EventBridge detail-type for uploads.
const DetailTypeStripPublished = "StripPublished"

// StripPublished is the event detail sent after a strip is stored.
type StripPublished struct {
	StripID      string `json:"stripId"`
	SessionID    string `json:"sessionId"`
	FrameID      string `json:"frameId"`
	Backend      string `json:"backend"`
	URL          string `json:"url"`
	RetrievalURL string `json:"retrievalUrl,omitempty"`
	Size         int    `json:"size"`
	CreatedAt    int64  `json:"createdAt"`
}

// Notifier delivers strip events.
type Notifier interface {
	StripPublished(ctx context.Context, event StripPublished) error
}

// Nop discards events.
type Nop struct{}

func (Nop) StripPublished(context.Context, StripPublished) error { return nil }

// PutEventsAPI is the subset of the EventBridge client used here.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, in *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgeNotifier publishes events to a bus.
type EventBridgeNotifier struct {
	Client PutEventsAPI
	Bus    string
	Source string
}

// StripPublished emits one StripPublished event.
func (n EventBridgeNotifier) StripPublished(ctx context.Context, event StripPublished) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event detail: %w", err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: aws.String(n.Bus),
				Source:       aws.String(n.Source),
				DetailType:   aws.String(DetailTypeStripPublished),
				Detail:       aws.String(string(detail)),
			},
		},
	}

	result, err := n.Client.PutEvents(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("stripId", event.StripID).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("stripId", event.StripID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("stripId", event.StripID).Str("bus", n.Bus).Msg("StripPublished emitted to EventBridge")
	return nil
}
