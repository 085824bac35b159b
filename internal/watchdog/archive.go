package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Archive keeps alert screenshots
type Archive interface {
	// Save stores data under name and returns the local path of the file
	Save(ctx context.Context, name string, data []byte) (string, error)
}

// LocalArchive implements the Archive interface using a local directory
type LocalArchive struct {
	basePath string
}

// NewLocalArchive creates a LocalArchive, creating basePath if needed
func NewLocalArchive(basePath string) (*LocalArchive, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating screenshot directory: %w", err)
	}

	return &LocalArchive{
		basePath: basePath,
	}, nil
}

// Save writes the screenshot to the archive directory
func (l *LocalArchive) Save(_ context.Context, name string, data []byte) (string, error) {
	fullPath := filepath.Join(l.basePath, filepath.Base(name))
	if err := os.WriteFile(fullPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return fullPath, nil
}

// Uploader copies a file to remote storage
type Uploader interface {
	Upload(ctx context.Context, objectName string, data []byte) error
}

// MirroredArchive saves locally and then copies the screenshot to remote
// storage. A failed upload is logged; the local copy is what alerts use.
type MirroredArchive struct {
	local    Archive
	remote   Uploader
	prefix   string
	deadline time.Duration
}

// NewMirroredArchive wraps local so every saved file is also uploaded under
// prefix
func NewMirroredArchive(local Archive, remote Uploader, prefix string) *MirroredArchive {
	return &MirroredArchive{
		local:    local,
		remote:   remote,
		prefix:   strings.Trim(prefix, "/"),
		deadline: 2 * time.Minute,
	}
}

// Save implements Archive
func (m *MirroredArchive) Save(ctx context.Context, name string, data []byte) (string, error) {
	localPath, err := m.local.Save(ctx, name, data)
	if err != nil {
		return "", err
	}

	objectName := path.Join(m.prefix, filepath.Base(name))
	uploadCtx, cancel := context.WithTimeout(ctx, m.deadline)
	defer cancel()
	if err := m.remote.Upload(uploadCtx, objectName, data); err != nil {
		slog.Warn("Failed to mirror screenshot", "object", objectName, "error", err)
	} else {
		slog.Info("Mirrored screenshot", "object", objectName)
	}

	return localPath, nil
}

// GCSUploader uploads objects to a Google Cloud Storage bucket. It uses
// Application Default Credentials.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

// NewGCSUploader creates a storage client for bucket
func NewGCSUploader(ctx context.Context, bucket string) (*GCSUploader, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

// Upload writes data to objectName in the bucket
func (g *GCSUploader) Upload(ctx context.Context, objectName string, data []byte) error {
	w := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "image/png"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %s/%s: %w", g.bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// Close releases the storage client
func (g *GCSUploader) Close() error {
	return g.client.Close()
}

// ParseGCSLocation splits "bucket", "bucket/prefix" or "gs://bucket/prefix"
// into bucket and object prefix
func ParseGCSLocation(location string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(location), "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid GCS location: %q", location)
	}
	if len(parts) == 2 {
		prefix = strings.Trim(parts[1], "/")
	}
	return parts[0], prefix, nil
}
