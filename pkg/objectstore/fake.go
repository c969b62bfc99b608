package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

type fakeObject struct {
	body         []byte
	meta         Metadata
	lastModified time.Time
}

// FakeStore is an in-memory Store for tests.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	clock   func() time.Time
}

// NewFakeStore creates an empty in-memory object store. clock lets
// tests control LastModified ordering deterministically.
func NewFakeStore(clock func() time.Time) *FakeStore {
	return &FakeStore{objects: map[string]fakeObject{}, clock: clock}
}

func (f *FakeStore) Put(_ context.Context, key string, body io.Reader, _ int64, meta Metadata) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = fakeObject{body: data, meta: meta, lastModified: f.clock()}
	return nil
}

func (f *FakeStore) Get(_ context.Context, key string) (io.ReadCloser, Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	if !ok {
		return nil, Metadata{}, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(obj.body)), obj.meta, nil
}

func (f *FakeStore) Latest(_ context.Context, clusterPrefix string) (*Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *Object
	for key, obj := range f.objects {
		if len(key) <= len(clusterPrefix) || key[:len(clusterPrefix)+1] != clusterPrefix+"/" {
			continue
		}
		if latest == nil || obj.lastModified.After(latest.LastModified) {
			latest = &Object{Key: key, LastModified: obj.lastModified, Metadata: obj.meta}
		}
	}
	return latest, nil
}

var _ Store = (*FakeStore)(nil)
