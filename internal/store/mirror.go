package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Lllllllleong/documentcapture/internal/services"
)

const applyTimeout = 30 * time.Second

// Mirror applies registry events to a Store in the order they were recorded.
// Record never blocks; store errors are logged and never reach the registry.
type Mirror struct {
	store Store

	mu     sync.Mutex
	queue  []services.Event
	closed bool

	wake chan struct{}
	done chan struct{}
}

func NewMirror(store Store) *Mirror {
	m := &Mirror{
		store: store,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go m.loop()
	return m
}

// Record queues an event. Events recorded after Close are ignored.
func (m *Mirror) Record(e services.Event) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, e)
	m.mu.Unlock()
	m.signal()
}

// Close stops accepting events and waits until the queue is drained.
func (m *Mirror) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()

	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mirror: drain: %w", ctx.Err())
	}
}

func (m *Mirror) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Mirror) loop() {
	defer close(m.done)
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		closed := m.closed
		m.mu.Unlock()

		for _, e := range batch {
			m.apply(e)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-m.wake
	}
}

func (m *Mirror) apply(e services.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	var err error
	switch e.Kind {
	case services.EventUpserted:
		err = m.store.Save(ctx, e.Record)
	case services.EventRemoved:
		err = m.store.Delete(ctx, e.ID)
	case services.EventCleared:
		err = m.store.DeleteAll(ctx)
	}
	if err != nil {
		slog.Error("Failed to mirror upload record.", "event", string(e.Kind), "uploadId", e.ID, "error", err)
	}
}

// Restore loads terminal records from store into reg.
func Restore(ctx context.Context, store Store, reg *services.Registry) (int, error) {
	records, err := store.LoadTerminal(ctx)
	if err != nil {
		return 0, fmt.Errorf("load stored records: %w", err)
	}
	return reg.Restore(records), nil
}
