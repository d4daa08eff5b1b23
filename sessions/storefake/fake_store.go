package storefake

import (
	"context"
	"sync"

	gateerrors "github.com/jrsteele09/go-oidc-gate/internal/errors"
	"github.com/jrsteele09/go-oidc-gate/sessions"
)

var _ sessions.Store = (*FakeStore)(nil)

// FakeStore is an in-memory store that counts calls and can be told to fail
// like an unreachable backend.
type FakeStore struct {
	inner *sessions.InMemoryStore

	lock      sync.Mutex
	putErr    error
	getErr    error
	deleteErr error
	puts      int
	gets      int
	deletes   int
}

func NewFakeStore(opts ...sessions.InMemoryOption) *FakeStore {
	return &FakeStore{inner: sessions.NewInMemoryStore(opts...)}
}

// FailPut makes every following Put return a StoreError wrapping err (nil clears it).
func (f *FakeStore) FailPut(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.putErr = err
}

func (f *FakeStore) FailGet(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.getErr = err
}

func (f *FakeStore) FailDelete(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.deleteErr = err
}

func (f *FakeStore) Put(ctx context.Context, sessionID string, record *sessions.Record) error {
	f.lock.Lock()
	f.puts++
	err := f.putErr
	f.lock.Unlock()
	if err != nil {
		return gateerrors.NewStoreError("put", err)
	}
	return f.inner.Put(ctx, sessionID, record)
}

func (f *FakeStore) Get(ctx context.Context, sessionID string) (*sessions.Record, error) {
	f.lock.Lock()
	f.gets++
	err := f.getErr
	f.lock.Unlock()
	if err != nil {
		return nil, gateerrors.NewStoreError("get", err)
	}
	return f.inner.Get(ctx, sessionID)
}

func (f *FakeStore) Delete(ctx context.Context, sessionID string) error {
	f.lock.Lock()
	f.deletes++
	err := f.deleteErr
	f.lock.Unlock()
	if err != nil {
		return gateerrors.NewStoreError("delete", err)
	}
	return f.inner.Delete(ctx, sessionID)
}

// Puts returns how many times Put was called, failed calls included
func (f *FakeStore) Puts() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.puts
}

func (f *FakeStore) Gets() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.gets
}

func (f *FakeStore) Deletes() int {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.deletes
}

// Len returns the number of records currently held
func (f *FakeStore) Len() int {
	return f.inner.Len()
}
