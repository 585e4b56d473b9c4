// Package store persists uploaded strip records and finished session
// summaries so a guest's retrieval link resolves after the kiosk has moved
// on to the next session.
//
// DynamoStore uses a single-table design. Strips live under STRIP#{id} and
// session summaries under SESSION#{id}, both with SK = META. A TTL attribute
// (expiresAt) auto-deletes records after 24 hours, matching the lifecycle
// rule on the strip bucket.
package store

import (
	"context"
	"time"
)

// RecordTTL is the default time-to-live for all records. Matches the
// "photos are automatically deleted after 24 hours" promise shown to guests.
const RecordTTL = 24 * time.Hour

// Store defines the persistence interface for strips and sessions. Each
// method is safe for concurrent use.
//
// Get methods return (nil, nil) when the record does not exist or has
// expired. Put methods perform full-item replacement.
type Store interface {
	// PutStrip creates or replaces a strip record.
	PutStrip(ctx context.Context, strip *Strip) error

	// GetStrip retrieves a strip by ID. Returns nil, nil if not found.
	GetStrip(ctx context.Context, id string) (*Strip, error)

	// DeleteStrip removes a strip record. Deleting a missing strip is not an error.
	DeleteStrip(ctx context.Context, id string) error

	// PutSession creates or replaces a session summary.
	PutSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session summary. Returns nil, nil if not found.
	GetSession(ctx context.Context, id string) (*Session, error)
}

// Strip is an uploaded photo strip (PK = STRIP#{id}).
type Strip struct {
	ID          string `json:"id" dynamodbav:"-"`
	SessionID   string `json:"sessionId" dynamodbav:"sessionId"`
	FrameID     string `json:"frameId" dynamodbav:"frameId"`
	Backend     string `json:"backend" dynamodbav:"backend"`
	Key         string `json:"key,omitempty" dynamodbav:"key,omitempty"`
	URL         string `json:"url" dynamodbav:"url"`
	ContentType string `json:"contentType" dynamodbav:"contentType"`
	Size        int    `json:"size" dynamodbav:"size"`
	CreatedAt   int64  `json:"createdAt" dynamodbav:"createdAt"`
	ExpiresAt   int64  `json:"expiresAt" dynamodbav:"-"`
}

// Session is the summary of a finished booth session (PK = SESSION#{id}).
type Session struct {
	ID            string `json:"id" dynamodbav:"-"`
	Outcome       string `json:"outcome" dynamodbav:"outcome"`
	FrameID       string `json:"frameId" dynamodbav:"frameId"`
	Photos        int    `json:"photos" dynamodbav:"photos"`
	UploadRetries int    `json:"uploadRetries" dynamodbav:"uploadRetries"`
	StripID       string `json:"stripId,omitempty" dynamodbav:"stripId,omitempty"`
	Error         string `json:"error,omitempty" dynamodbav:"error,omitempty"`
	FailedIn      string `json:"failedIn,omitempty" dynamodbav:"failedIn,omitempty"`
	StartedAt     int64  `json:"startedAt" dynamodbav:"startedAt"`
	FinishedAt    int64  `json:"finishedAt" dynamodbav:"finishedAt"`
}

// Expired reports whether the strip's TTL has passed. DynamoDB deletes
// expired items lazily, so readers check this themselves.
func (s *Strip) Expired(now time.Time) bool {
	return s.ExpiresAt > 0 && now.Unix() >= s.ExpiresAt
}
