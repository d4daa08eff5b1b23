package sinkfake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-oidc-gate/activity"
)

var _ activity.Sink = (*FakeSink)(nil)

// FakeSink keeps every event it receives. It can be told to fail or panic.
type FakeSink struct {
	lock   sync.Mutex
	events []activity.Event
	err    error
	panic  any
}

func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// Fail makes following writes return err after recording the event
func (f *FakeSink) Fail(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.err = err
}

// Panic makes following writes panic with v
func (f *FakeSink) Panic(v any) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.panic = v
}

func (f *FakeSink) Write(_ context.Context, event activity.Event) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.panic != nil {
		panic(f.panic)
	}
	f.events = append(f.events, event)
	return f.err
}

// Events returns the received events in order
func (f *FakeSink) Events() []activity.Event {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]activity.Event(nil), f.events...)
}

// Types returns the types of the received events in order
func (f *FakeSink) Types() []activity.EventType {
	f.lock.Lock()
	defer f.lock.Unlock()
	types := make([]activity.EventType, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

// Count returns how many events of type t were received
func (f *FakeSink) Count(t activity.EventType) int {
	f.lock.Lock()
	defer f.lock.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (f *FakeSink) Reset() {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.events = nil
}
