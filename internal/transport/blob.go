package transport

import (
	"context"
	"fmt"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/fentz26/fetchpool/internal/download"
)

// Blob reads objects from a gocloud bucket. The request URI is the object
// key.
type Blob struct {
	bucket  *blob.Bucket
	owned   bool
	bufSize int
	run     run
}

var _ download.Transport = (*Blob)(nil)

// NewBlob wraps an open bucket. Close does not close the bucket.
func NewBlob(bucket *blob.Bucket, bufSize int) *Blob {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Blob{bucket: bucket, bufSize: bufSize}
}

// OpenBlob opens bucketURL, e.g. "file:///srv/data" or "s3://bucket".
// Close closes the bucket.
func OpenBlob(ctx context.Context, bucketURL string, bufSize int) (*Blob, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket: %w", err)
	}
	b := NewBlob(bucket, bufSize)
	b.owned = true
	return b, nil
}

// Download starts reading req.URI from req.Offset in the background.
func (b *Blob) Download(req download.Request, sink download.Sink) error {
	ctx, err := b.run.begin()
	if err != nil {
		return err
	}
	go b.fetch(ctx, req.URI, req.Offset, sink)
	return nil
}

// Reset cancels the active read.
func (b *Blob) Reset() { b.run.reset() }

// Close cancels the active read and closes an owned bucket.
func (b *Blob) Close() error {
	b.run.close()
	if b.owned {
		return b.bucket.Close()
	}
	return nil
}

func (b *Blob) fetch(ctx context.Context, key string, offset int64, sink download.Sink) {
	attrs, err := b.bucket.Attributes(ctx, key)
	if err != nil {
		if ctx.Err() == nil {
			sink.Error(blobMessage(key, err), false)
		}
		return
	}
	if offset > attrs.Size {
		if ctx.Err() == nil {
			sink.Error(fmt.Sprintf("blob: partial file is larger than %s", key), true)
		}
		return
	}

	r, err := b.bucket.NewRangeReader(ctx, key, offset, -1, nil)
	if err != nil {
		if ctx.Err() == nil {
			sink.Error(blobMessage(key, err), false)
		}
		return
	}
	defer r.Close()

	stream(ctx, r, b.bufSize, sink)
}

func blobMessage(key string, err error) string {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Sprintf("blob: %s not found", key)
	}
	return fmt.Sprintf("blob: read %s: %v", key, err)
}
