package port

import (
	"context"
	"io"
)

// BlobStore is the object-store surface both stages share. Every write goes
// to a deterministic key, so repeating it is observably a no-op.
type BlobStore interface {
	// DownloadVideo fetches an uploaded video from its source bucket into
	// destPath.
	DownloadVideo(ctx context.Context, bucket, objectKey, destPath string) error

	// UploadFrame writes one extracted frame.
	UploadFrame(ctx context.Context, objectKey string, reader io.Reader, size int64) error

	// DownloadFrame fetches one frame blob into destPath.
	DownloadFrame(ctx context.Context, objectKey, destPath string) error

	// UploadArchive writes the final archive.
	UploadArchive(ctx context.Context, objectKey string, reader io.Reader, size int64) error
}
