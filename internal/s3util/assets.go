package s3util

import (
	"context"
	"path"

	"github.com/fpang/photobooth/internal/frames"
)

// FrameAssets loads frame backgrounds from a bucket. It implements
// frames.AssetSource; a missing object wraps fs.ErrNotExist so it can sit
// in front of a frames.FallbackSource.
type FrameAssets struct {
	Client ObjectAPI
	Bucket string
	Prefix string
}

var _ frames.AssetSource = FrameAssets{}

// Background fetches the frame's asset object.
func (a FrameAssets) Background(ctx context.Context, frame frames.Descriptor) ([]byte, error) {
	return GetBytes(ctx, a.Client, a.Bucket, a.Key(frame))
}

// Key returns the object key holding the frame's background.
func (a FrameAssets) Key(frame frames.Descriptor) string {
	return path.Join(a.Prefix, frame.Asset)
}
