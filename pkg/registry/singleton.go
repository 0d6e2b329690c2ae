// Package registry holds the process-wide plugin registry, the Singleton
// container its state (and other long-lived state) lives behind, and the
// plugins.toml manifest scan that contributes search-path entries.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package registry

import "sync"

// Singleton wraps a process-wide value of type T behind Get/Set plus a
// snapshot/restore pair tests use to isolate state across runs: Snapshot
// captures a deep-enough copy that Restore afterward leaves the container
// behaviourally indistinguishable from the moment it was snapshotted. The
// snapshot is a plain value with no live handles, so restoring it is
// side-effect free.
type Singleton[T any] struct {
	mu     sync.RWMutex
	value  T
	copyFn func(T) T
}

// NewSingleton returns a Singleton seeded with initial. copyFn produces an
// independent copy of a T for Snapshot/Restore/Get to hand out, so callers
// can't mutate the container's internal state through a returned value;
// pass a copyFn that does a deep-enough copy for T's actual mutability.
func NewSingleton[T any](initial T, copyFn func(T) T) *Singleton[T] {
	return &Singleton[T]{value: copyFn(initial), copyFn: copyFn}
}

// Get returns a copy of the current value.
func (s *Singleton[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copyFn(s.value)
}

// Set replaces the current value with a copy of v.
func (s *Singleton[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = s.copyFn(v)
}

// Snapshot returns an opaque copy of the current state for later Restore.
func (s *Singleton[T]) Snapshot() T {
	return s.Get()
}

// Restore replaces the current state with snapshot, the counterpart to
// Snapshot; tests call Snapshot before mutating shared state and Restore
// afterward so later tests see a clean container.
func (s *Singleton[T]) Restore(snapshot T) {
	s.Set(snapshot)
}
