package lock

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeStore is an in-memory Store for tests, avoiding a live DynamoDB
// table (SPEC_FULL.md §2.1 ambient test-tooling note).
type FakeStore struct {
	mu      sync.Mutex
	records map[string]Record // "cluster|lockID" -> Record
}

// NewFakeStore creates an empty in-memory Store.
func NewFakeStore() *FakeStore {
	return &FakeStore{records: map[string]Record{}}
}

func fakeKey(cluster, lockID string) string { return cluster + "|" + lockID }

func (f *FakeStore) TryAcquire(_ context.Context, cluster, lockName, holder string, now time.Time) (AcquireResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := fakeKey(cluster, lockName)
	if existing, ok := f.records[k]; ok {
		held := existing
		return AcquireResult{Acquired: false, Held: &held}, nil
	}
	f.records[k] = Record{
		ClusterName: cluster,
		LockID:      lockName,
		HolderID:    holder,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return AcquireResult{Acquired: true}, nil
}

func (f *FakeStore) Release(_ context.Context, cluster, lockName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, fakeKey(cluster, lockName))
	return nil
}

func (f *FakeStore) Inspect(_ context.Context, cluster, lockName string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[fakeKey(cluster, lockName)]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (f *FakeStore) PutMember(_ context.Context, rec Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[fakeKey(rec.ClusterName, rec.LockID)] = rec
	return nil
}

func (f *FakeStore) UpdateMemberStatus(_ context.Context, cluster, memberKey string, status MemberStatus, requestID string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := fakeKey(cluster, memberKey)
	rec, ok := f.records[k]
	if !ok {
		return nil
	}
	rec.Status = status
	rec.RequestID = requestID
	rec.UpdatedAt = now
	f.records[k] = rec
	return nil
}

func (f *FakeStore) GetMember(ctx context.Context, cluster, memberKey string) (*Record, error) {
	return f.Inspect(ctx, cluster, memberKey)
}

func (f *FakeStore) QueryByInstance(_ context.Context, cluster, instanceID string) (*Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.ClusterName == cluster && rec.HolderID == instanceID {
			cp := rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *FakeStore) DeleteMember(_ context.Context, cluster, memberKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, fakeKey(cluster, memberKey))
	return nil
}

func (f *FakeStore) ListMembers(_ context.Context, cluster string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Record
	for _, rec := range f.records {
		if rec.ClusterName == cluster && strings.HasPrefix(rec.LockID, "member#") {
			out = append(out, rec)
		}
	}
	return out, nil
}

var _ Store = (*FakeStore)(nil)
