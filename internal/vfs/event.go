// Package vfs is the primary source of file-change events: a polling scanner
// over the project tree and a small bus that delivers its events to
// subscribers.
package vfs

import (
	"path/filepath"
	"sync"
)

// Kind classifies a file change.
type Kind string

const (
	ContentChanged Kind = "content-changed"
	Created        Kind = "created"
	Moved          Kind = "moved"
	Renamed        Kind = "renamed"
	Deleted        Kind = "deleted"
)

// Notifies reports whether a change of this kind should reload browsers.
// Deletes are informational only.
func (k Kind) Notifies() bool {
	return k != Deleted
}

// Event is one change to one file.
type Event struct {
	// Path is the absolute path of the file after the change.
	Path string
	// OldPath is the previous absolute path for Moved and Renamed.
	OldPath string
	Kind    Kind
}

// Name returns the base name of the changed file.
func (e Event) Name() string {
	return filepath.Base(e.Path)
}

// Source delivers file events to subscribers until they unsubscribe.
type Source interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Bus fans events out to subscribers. Subscribers are called synchronously
// on the publishing goroutine, in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]func(Event))}
}

// Subscribe registers fn. The returned function removes it and may be
// called more than once.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i:i], b.order[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// Publish delivers events to every current subscriber.
func (b *Bus) Publish(events ...Event) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
