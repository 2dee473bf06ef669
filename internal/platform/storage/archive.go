package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

// ReceiptArchive writes immutable receipt snapshots to a Cloud Storage bucket.
type ReceiptArchive struct {
	client *gcs.Client
	bucket string
}

// NewReceiptArchive constructs an archive writing into bucket.
func NewReceiptArchive(client *gcs.Client, bucket string) (*ReceiptArchive, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	return &ReceiptArchive{client: client, bucket: bucket}, nil
}

// PutReceipt stores payload as JSON and returns the gs:// URI. An existing object is left
// untouched, which makes repeated finalization a no-op.
func (a *ReceiptArchive) PutReceipt(ctx context.Context, orderID string, createdAt time.Time, payload []byte) (string, error) {
	object, err := ReceiptPath(orderID, createdAt)
	if err != nil {
		return "", err
	}

	w := a.client.Bucket(a.bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	w.CacheControl = "private, max-age=0"
	w.Metadata = map[string]string{"order_id": orderID}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage: write receipt %s: %w", object, err)
	}
	if err := w.Close(); err != nil && !isPreconditionFailed(err) {
		return "", fmt.Errorf("storage: close receipt %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

// ReceiptPath lays receipts out by creation month: receipts/2024/03/ord_123.json.
func ReceiptPath(orderID string, createdAt time.Time) (string, error) {
	orderID, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	if createdAt.IsZero() {
		return "", errors.New("storage: receipt creation time is required")
	}
	createdAt = createdAt.UTC()
	return fmt.Sprintf("receipts/%04d/%02d/%s.json", createdAt.Year(), int(createdAt.Month()), orderID), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") || strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	return value, nil
}
