package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
)

// ErrNotFound marks a storage miss. Callers that treat absence as a
// legitimate initial state (segments table, pageview prefix, runtime config)
// check for it with errors.Is; every other storage error is a transport
// failure and propagates.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is the object-storage collaborator. The S3 client implements
// it; tests use an in-memory fake.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Key layout, shared by the handler, the eligibility check and the pacing job.

// EventLogKey is the per-pageview CSV record key.
func EventLogKey(folder, domain, id string, timestamp int64) string {
	return path.Join(folder, "publisher", domain, id, fmt.Sprintf("%d.csv", timestamp))
}

// PropertiesKey is the analytics JSON record key parallel to the CSV log.
func PropertiesKey(folder, domain, id string, timestamp int64) string {
	return path.Join(folder, "properties", domain, id, fmt.Sprintf("%d.json", timestamp))
}

// MappingKey is the previous-id → new-id mapping record key.
func MappingKey(folder, domain, previousID string) string {
	return path.Join(folder, "publisher", domain, "mappings", previousID+".csv")
}

// SegmentsKey is the segment-definition table key.
func SegmentsKey(folder string) string {
	return path.Join(folder, "segments.csv")
}

// PageviewPrefix is the listing prefix for one visitor's event logs.
func PageviewPrefix(folder, domain, id string) string {
	return path.Join(folder, "publisher", domain, id) + "/"
}

// ConfigKey is the runtime-config blob key.
const ConfigKey = "config.json"

// PacingKey is the MAU pacing projection blob key.
const PacingKey = "pacing/braze-mau-projection.json"
