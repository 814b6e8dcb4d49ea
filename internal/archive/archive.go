// Package archive keeps a copy of every fetched batch in object storage.
//
// Snapshots are written under {prefix}/{index}/{timestamp}-{uuid}.json, with
// a .zst suffix when compression is on. They are plain JSON documents holding
// the raw batch as it came out of the CMS, before any cleaning.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/syncer"
)

const timestampLayout = "20060102T150405Z"

// Store writes objects to a bucket
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Snapshot is the archived form of one batch
type Snapshot struct {
	Index     string             `json:"index"`
	CreatedAt time.Time          `json:"createdAt"`
	Count     int                `json:"count"`
	Records   []record.Candidate `json:"records"`
}

// Option configures an Archiver
type Option func(*Archiver)

// WithPrefix sets the key prefix inside the bucket
func WithPrefix(prefix string) Option {
	return func(a *Archiver) { a.prefix = prefix }
}

// WithCompression zstd-compresses snapshots
func WithCompression() Option {
	return func(a *Archiver) { a.compress = true }
}

// WithClock overrides the snapshot timestamp source
func WithClock(now func() time.Time) Option {
	return func(a *Archiver) { a.now = now }
}

// Archiver turns batches into snapshots
type Archiver struct {
	store    Store
	prefix   string
	compress bool
	now      func() time.Time
	encoder  *zstd.Encoder
}

// New creates an Archiver writing to store
func New(store Store, opts ...Option) (*Archiver, error) {
	a := &Archiver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	if a.compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		a.encoder = enc
	}
	return a, nil
}

// Write stores the batch and returns the object key
func (a *Archiver) Write(ctx context.Context, indexName string, batch []record.Candidate) (string, error) {
	createdAt := a.now().UTC()
	data, err := json.Marshal(Snapshot{
		Index:     indexName,
		CreatedAt: createdAt,
		Count:     len(batch),
		Records:   batch,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := a.Key(indexName, createdAt, uuid.NewString())
	contentType := "application/json"
	if a.encoder != nil {
		data = a.encoder.EncodeAll(data, make([]byte, 0, len(data)/2))
		contentType = "application/zstd"
	}

	if err := a.store.Put(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", key, err)
	}
	return key, nil
}

// Key builds the object key of a snapshot
func (a *Archiver) Key(indexName string, createdAt time.Time, id string) string {
	name := createdAt.UTC().Format(timestampLayout) + "-" + id + ".json"
	if a.compress {
		name += ".zst"
	}
	return path.Join(a.prefix, indexName, name)
}

// Hook adapts Write to a syncer.FetchedHook
func (a *Archiver) Hook() syncer.FetchedHook {
	return func(ctx context.Context, indexName string, batch []record.Candidate) error {
		_, err := a.Write(ctx, indexName, batch)
		return err
	}
}

// Close releases the encoder
func (a *Archiver) Close() error {
	if a.encoder != nil {
		return a.encoder.Close()
	}
	return nil
}
