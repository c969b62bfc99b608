// Package objectstore implements the snapshot object store of spec.md
// §3/§4.5: etcd snapshots with attached {hash, revision, size} metadata,
// retained and ordered by last-modified timestamp.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Metadata is the attached object metadata spec.md §3 requires.
// Hash == "" or Hash == "0" signals corruption and must never be
// uploaded (spec.md §4.5).
type Metadata struct {
	Hash     string
	Revision int64
	Size     int64
}

// Valid reports whether m passes the corruption check.
func (m Metadata) Valid() bool {
	return m.Hash != "" && m.Hash != "0"
}

// Object describes a stored snapshot for listing purposes.
type Object struct {
	Key          string
	LastModified time.Time
	Metadata     Metadata
}

// Store is the snapshot object-storage capability.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, meta Metadata) error
	Get(ctx context.Context, key string) (io.ReadCloser, Metadata, error)
	// Latest returns the object with the greatest LastModified under
	// the cluster's prefix, or nil if none exist.
	Latest(ctx context.Context, clusterPrefix string) (*Object, error)
}

// SnapshotKey builds the canonical key for a snapshot taken at ts
// (spec.md §3: "<cluster>/etcd-snapshot-YYYYMMDD-HHMMSS.db").
func SnapshotKey(cluster string, ts time.Time) string {
	return cluster + "/etcd-snapshot-" + ts.UTC().Format("20060102-150405") + ".db"
}
