package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recordedObject struct {
	bucket, object, contentType string
	metadata                    map[string]string
	data                        []byte
}

type fakeObjectWriter struct {
	objects []recordedObject
	err     error
}

func (f *fakeObjectWriter) WriteObject(_ context.Context, bucket, object, contentType string, metadata map[string]string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.objects = append(f.objects, recordedObject{bucket, object, contentType, metadata, append([]byte(nil), data...)})
	return nil
}

func TestArchiveWebhookWritesDatedPath(t *testing.T) {
	writer := &fakeObjectWriter{}
	now := time.Date(2025, 3, 1, 23, 30, 0, 0, time.FixedZone("IST", 5*3600+1800))
	archive, err := NewWebhookArchive(writer, "webhook-archive", WithArchiveClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("NewWebhookArchive: %v", err)
	}

	path, err := archive.ArchiveWebhook(context.Background(), "razorpay", "evt_123", []byte(`{"event":"payment.captured"}`), true)
	if err != nil {
		t.Fatalf("ArchiveWebhook: %v", err)
	}
	if path != "webhooks/razorpay/2025/03/01/evt_123.json" {
		t.Fatalf("unexpected path %s", path)
	}
	if len(writer.objects) != 1 {
		t.Fatalf("expected one object, got %d", len(writer.objects))
	}
	obj := writer.objects[0]
	if obj.bucket != "webhook-archive" || obj.contentType != "application/json" {
		t.Fatalf("unexpected object %+v", obj)
	}
	if obj.metadata["signature_verified"] != "true" {
		t.Fatalf("expected verified metadata, got %v", obj.metadata)
	}
}

func TestArchiveWebhookRejectsTraversal(t *testing.T) {
	archive, err := NewWebhookArchive(&fakeObjectWriter{}, "bucket")
	if err != nil {
		t.Fatalf("NewWebhookArchive: %v", err)
	}
	if _, err := archive.ArchiveWebhook(context.Background(), "razorpay", "../evil", nil, false); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if _, err := archive.ArchiveWebhook(context.Background(), "razorpay", "", nil, false); err == nil {
		t.Fatal("expected empty event id to be rejected")
	}
}

func TestArchiveWebhookWrapsWriterError(t *testing.T) {
	archive, err := NewWebhookArchive(&fakeObjectWriter{err: errors.New("boom")}, "bucket")
	if err != nil {
		t.Fatalf("NewWebhookArchive: %v", err)
	}
	_, err = archive.ArchiveWebhook(context.Background(), "razorpay", "evt_1", []byte("{}"), true)
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped writer error, got %v", err)
	}
}

func TestBuildObjectPathRejectsUnsafeSegments(t *testing.T) {
	received := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	path, err := BuildObjectPath(PurposeWebhookPayload, PathParams{Provider: "razorpay", EventID: "evt_9", ReceivedAt: received})
	if err != nil {
		t.Fatalf("BuildObjectPath: %v", err)
	}
	if path != "webhooks/razorpay/2025/03/01/evt_9.json" {
		t.Fatalf("unexpected path %s", path)
	}
	for _, eventID := range []string{"../evt", "a/b", " "} {
		if _, err := BuildObjectPath(PurposeWebhookPayload, PathParams{Provider: "razorpay", EventID: eventID, ReceivedAt: received}); err == nil {
			t.Fatalf("expected %q to be rejected", eventID)
		}
	}
	if _, err := BuildObjectPath("unknown", PathParams{}); err == nil {
		t.Fatal("expected unsupported purpose error")
	}
}

func TestNewWebhookArchiveValidates(t *testing.T) {
	if _, err := NewWebhookArchive(nil, "bucket"); err == nil {
		t.Fatal("expected writer required")
	}
	if _, err := NewWebhookArchive(&fakeObjectWriter{}, " "); err == nil {
		t.Fatal("expected bucket required")
	}
}
