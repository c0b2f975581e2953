// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tet Contributors

// Package emitter provides a listener registry keyed by an event kind type.
package emitter

import (
	"errors"
	"fmt"
	"sync"
)

// Listener handles one emitted payload. A returned error, or a panic, is
// collected by Emit and does not stop delivery to the other listeners.
type Listener[P any] func(P) error

type entry[P any] struct {
	id   uint64
	fn   Listener[P]
	once bool
}

// Emitter dispatches payloads to the listeners registered for a kind.
// Listeners run synchronously in registration order on the emitting
// goroutine. The zero value is ready to use.
type Emitter[K comparable, P any] struct {
	mu        sync.RWMutex
	nextID    uint64
	listeners map[K][]entry[P]
}

// New returns an empty Emitter.
func New[K comparable, P any]() *Emitter[K, P] {
	return &Emitter[K, P]{}
}

// On registers fn for kind and returns a function that removes it. Calling
// the returned function more than once is harmless.
func (e *Emitter[K, P]) On(kind K, fn Listener[P]) func() {
	return e.add(kind, fn, false)
}

// Once registers fn to be called at most one time.
func (e *Emitter[K, P]) Once(kind K, fn Listener[P]) func() {
	return e.add(kind, fn, true)
}

func (e *Emitter[K, P]) add(kind K, fn Listener[P], once bool) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listeners == nil {
		e.listeners = make(map[K][]entry[P])
	}
	e.nextID++
	id := e.nextID
	e.listeners[kind] = append(e.listeners[kind], entry[P]{id: id, fn: fn, once: once})
	return func() { e.remove(kind, id) }
}

func (e *Emitter[K, P]) remove(kind K, id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.listeners[kind]
	for i, l := range list {
		if l.id == id {
			e.listeners[kind] = append(list[:i:i], list[i+1:]...)
			if len(e.listeners[kind]) == 0 {
				delete(e.listeners, kind)
			}
			return true
		}
	}
	return false
}

// Emit delivers payload to every listener of kind and returns the joined
// listener failures, nil when all succeeded.
func (e *Emitter[K, P]) Emit(kind K, payload P) error {
	e.mu.RLock()
	snapshot := append([]entry[P](nil), e.listeners[kind]...)
	e.mu.RUnlock()

	var errs []error
	for _, l := range snapshot {
		if l.once && !e.remove(kind, l.id) {
			continue
		}
		if err := call(l.fn, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func call[P any](fn Listener[P], payload P) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(payload)
}

// Count returns the number of listeners registered for kind.
func (e *Emitter[K, P]) Count(kind K) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[kind])
}

// Clear removes every listener of every kind.
func (e *Emitter[K, P]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = nil
}
