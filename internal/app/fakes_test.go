package app

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"securedrop/internal/domain"
)

func textReader(s string) io.Reader { return strings.NewReader(s) }

// fakeClock is a settable Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeMeta is an in-memory MetadataStore with failure injection. Every call
// flips touched so tests can prove validation happens before store access.
type fakeMeta struct {
	mu       sync.Mutex
	recs     map[domain.FileID]domain.FileRecord
	counters map[string]int64
	touched  bool

	putErr, getErr, delErr, incrErr error

	removals chan RemovalEvent
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		recs:     make(map[domain.FileID]domain.FileRecord),
		counters: make(map[string]int64),
		removals: make(chan RemovalEvent, 64),
	}
}

func (m *fakeMeta) Put(_ context.Context, rec domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = true
	if m.putErr != nil {
		return m.putErr
	}
	m.recs[rec.ID] = rec
	return nil
}

func (m *fakeMeta) Get(_ context.Context, id domain.FileID) (domain.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = true
	if m.getErr != nil {
		return domain.FileRecord{}, m.getErr
	}
	rec, ok := m.recs[id]
	if !ok {
		return domain.FileRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *fakeMeta) Delete(_ context.Context, id domain.FileID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = true
	if m.delErr != nil {
		return false, m.delErr
	}
	if _, ok := m.recs[id]; !ok {
		return false, nil
	}
	delete(m.recs, id)
	select {
	case m.removals <- RemovalEvent{ID: id, Origin: RemovalDeleted}:
	default:
	}
	return true, nil
}

func (m *fakeMeta) IncrementCounter(_ context.Context, identity string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched = true
	if m.incrErr != nil {
		return 0, m.incrErr
	}
	m.counters[identity]++
	return m.counters[identity], nil
}

func (m *fakeMeta) Removals(context.Context) (<-chan RemovalEvent, error) {
	return m.removals, nil
}

func (m *fakeMeta) has(id domain.FileID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.recs[id]
	return ok
}

func (m *fakeMeta) wasTouched() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touched
}

// fakeBlobs is an in-memory BlobStore. onDelete runs inside Delete so tests
// can assert cross-store invariants at the moment of deletion.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[domain.FileID][]byte
	deletes map[domain.FileID]int
	touched bool

	putErr, getErr, delErr, presignErr error

	onDelete func(id domain.FileID)
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{
		objects: make(map[domain.FileID][]byte),
		deletes: make(map[domain.FileID]int),
	}
}

func (b *fakeBlobs) Put(_ context.Context, id domain.FileID, r io.Reader, _ int64, _ string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched = true
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[id] = data
	return nil
}

func (b *fakeBlobs) Get(_ context.Context, id domain.FileID) (io.ReadCloser, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched = true
	if b.getErr != nil {
		return nil, 0, b.getErr
	}
	data, ok := b.objects[id]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (b *fakeBlobs) Delete(_ context.Context, id domain.FileID) error {
	b.mu.Lock()
	hook := b.onDelete
	b.touched = true
	if b.delErr != nil {
		b.mu.Unlock()
		return b.delErr
	}
	delete(b.objects, id)
	b.deletes[id]++
	b.mu.Unlock()
	if hook != nil {
		hook(id)
	}
	return nil
}

func (b *fakeBlobs) PresignGet(_ context.Context, id domain.FileID, _ time.Duration, _ string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched = true
	if b.presignErr != nil {
		return "", b.presignErr
	}
	if _, ok := b.objects[id]; !ok {
		return "", domain.ErrNotFound
	}
	return "https://blobs.test/" + id.String() + "?sig=fake", nil
}

func (b *fakeBlobs) has(id domain.FileID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[id]
	return ok
}

func (b *fakeBlobs) deleteCount(id domain.FileID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deletes[id]
}

func (b *fakeBlobs) wasTouched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.touched
}
