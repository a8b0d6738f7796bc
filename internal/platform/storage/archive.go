package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ObjectWriter persists a single object. The Cloud Storage implementation is gcsObjectWriter.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object, contentType string, metadata map[string]string, data []byte) error
}

// WebhookArchive stores raw payment webhook bodies so disputed deliveries can be replayed.
type WebhookArchive struct {
	writer ObjectWriter
	bucket string
	now    func() time.Time
}

// ArchiveOption customises archive behaviour.
type ArchiveOption func(*WebhookArchive)

// WithArchiveClock injects a custom clock.
func WithArchiveClock(clock func() time.Time) ArchiveOption {
	return func(a *WebhookArchive) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewWebhookArchive constructs an archive writing to bucket.
func NewWebhookArchive(writer ObjectWriter, bucket string, opts ...ArchiveOption) (*WebhookArchive, error) {
	if writer == nil {
		return nil, errors.New("webhook archive: writer is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("webhook archive: bucket is required")
	}
	archive := &WebhookArchive{writer: writer, bucket: bucket, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(archive)
		}
	}
	return archive, nil
}

// ArchiveWebhook writes payload and returns the object path.
func (a *WebhookArchive) ArchiveWebhook(ctx context.Context, provider, eventID string, payload []byte, verified bool) (string, error) {
	if a == nil {
		return "", errors.New("webhook archive: not initialised")
	}
	path, err := BuildObjectPath(PurposeWebhookPayload, PathParams{
		Provider:   provider,
		EventID:    eventID,
		ReceivedAt: a.now(),
	})
	if err != nil {
		return "", err
	}
	metadata := map[string]string{
		"provider":           provider,
		"signature_verified": fmt.Sprintf("%t", verified),
	}
	if err := a.writer.WriteObject(ctx, a.bucket, path, "application/json", metadata, payload); err != nil {
		return "", fmt.Errorf("webhook archive: write %s: %w", path, err)
	}
	return path, nil
}

type gcsObjectWriter struct {
	client *gcs.Client
}

// NewGCSObjectWriter adapts a Cloud Storage client to ObjectWriter.
func NewGCSObjectWriter(client *gcs.Client) (ObjectWriter, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	return &gcsObjectWriter{client: client}, nil
}

func (w *gcsObjectWriter) WriteObject(ctx context.Context, bucket, object, contentType string, metadata map[string]string, data []byte) error {
	// DoesNotExist keeps redelivered events from overwriting the first archived copy.
	obj := w.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	writer.ContentType = contentType
	writer.Metadata = metadata
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			return nil
		}
		return err
	}
	return nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
