// Package upload stores finished strips. A Backend puts the bytes
// somewhere retrievable (S3, Cloudinary, or process memory); Publisher wraps
// a backend with the timeout, the strip record and the notification that
// the booth's upload step needs.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/photobooth/internal/booth"
	"github.com/fpang/photobooth/internal/notify"
	"github.com/fpang/photobooth/internal/store"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single upload attempt.
const DefaultTimeout = 30 * time.Second

// ContentType is the media type of every strip.
const ContentType = "image/jpeg"

// Object is a strip to store.
type Object struct {
	SessionID   string
	FrameID     string
	Data        []byte
	ContentType string
}

// Stored describes where a backend put an object.
type Stored struct {
	ID  string
	Key string
	URL string
}

// Backend stores strip bytes.
type Backend interface {
	Name() string
	Put(ctx context.Context, obj Object) (Stored, error)
}

// Publisher uploads strips through a Backend and records them.
type Publisher struct {
	Backend  Backend
	Store    store.Store
	Notifier notify.Notifier
	Timeout  time.Duration
	// RetrievalURL, when set, maps a strip ID to its guest-facing page.
	RetrievalURL func(id string) string
	Now          func() time.Time
}

// Upload implements booth.UploadFunc.
func (p *Publisher) Upload(ctx context.Context, req booth.UploadRequest) (booth.UploadResult, error) {
	if len(req.Artifact) == 0 {
		return booth.UploadResult{}, errors.New("no strip to upload")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stored, err := p.Backend.Put(ctx, Object{
		SessionID:   req.SessionID,
		FrameID:     req.FrameID,
		Data:        req.Artifact,
		ContentType: ContentType,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return booth.UploadResult{}, fmt.Errorf("upload timed out after %s", timeout)
		}
		return booth.UploadResult{}, err
	}
	if stored.ID == "" || stored.URL == "" {
		return booth.UploadResult{}, fmt.Errorf("%s upload returned no URL", p.Backend.Name())
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	strip := &store.Strip{
		ID:          stored.ID,
		SessionID:   req.SessionID,
		FrameID:     req.FrameID,
		Backend:     p.Backend.Name(),
		Key:         stored.Key,
		URL:         stored.URL,
		ContentType: ContentType,
		Size:        len(req.Artifact),
		CreatedAt:   now().Unix(),
	}
	if p.Store != nil {
		// Without the record the retrieval link would 404, so this fails the attempt.
		if err := p.Store.PutStrip(ctx, strip); err != nil {
			return booth.UploadResult{}, fmt.Errorf("record strip: %w", err)
		}
	}

	log.Info().
		Str("sessionId", req.SessionID).
		Str("stripId", stored.ID).
		Str("backend", p.Backend.Name()).
		Int("size", len(req.Artifact)).
		Dur("elapsed", time.Since(start)).
		Msg("Strip uploaded")

	p.notify(ctx, strip)
	return booth.UploadResult{URL: stored.URL, ID: stored.ID}, nil
}

// notify is best effort: the guest already has their strip.
func (p *Publisher) notify(ctx context.Context, strip *store.Strip) {
	if p.Notifier == nil {
		return
	}
	event := notify.StripPublished{
		StripID:   strip.ID,
		SessionID: strip.SessionID,
		FrameID:   strip.FrameID,
		Backend:   strip.Backend,
		URL:       strip.URL,
		Size:      strip.Size,
		CreatedAt: strip.CreatedAt,
	}
	if p.RetrievalURL != nil {
		event.RetrievalURL = p.RetrievalURL(strip.ID)
	}
	if err := p.Notifier.StripPublished(ctx, event); err != nil {
		log.Warn().Err(err).Str("stripId", strip.ID).Msg("Strip notification failed")
	}
}
