package upload

import (
	"context"
	"strings"
	"time"

	"github.com/fpang/photobooth/internal/s3util"
	"github.com/google/uuid"
)

// S3Backend stores strips in a bucket. With PublicBaseURL set (a CDN or a
// public bucket website) the URL is permanent for the object's lifetime;
// otherwise a presigned GET URL valid for PresignExpiry is returned.
type S3Backend struct {
	Client        s3util.ObjectAPI
	Presigner     s3util.PresignAPI
	Bucket        string
	Prefix        string
	PublicBaseURL string
	PresignExpiry time.Duration
	NewID         func() string
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) Put(ctx context.Context, obj Object) (Stored, error) {
	newID := uuid.NewString
	if b.NewID != nil {
		newID = b.NewID
	}
	id := newID()
	key := b.Key(id)

	if err := s3util.PutBytes(ctx, b.Client, b.Bucket, key, obj.Data, obj.ContentType); err != nil {
		return Stored{}, err
	}
	url, err := b.URL(ctx, key)
	if err != nil {
		return Stored{}, err
	}
	return Stored{ID: id, Key: key, URL: url}, nil
}

// Key returns the object key for a strip ID.
func (b *S3Backend) Key(id string) string {
	return b.Prefix + id + ".jpg"
}

// URL returns a fetchable URL for key.
func (b *S3Backend) URL(ctx context.Context, key string) (string, error) {
	if b.PublicBaseURL != "" {
		return strings.TrimSuffix(b.PublicBaseURL, "/") + "/" + key, nil
	}
	return s3util.GeneratePresignedURL(ctx, b.Presigner, b.Bucket, key, b.PresignExpiry)
}
