// Package repository resolves logical config names against an ordered
// collection of sources, caching loaded documents.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package repository

import (
	"fmt"
	"sort"
	"sync"

	"stratum/pkg/composeerr"
	"stratum/pkg/source"
	"stratum/pkg/value"
)

// Repository resolves logical config names against an ordered list of
// ConfigSources. Resolution order is precedence: the first source that
// reports the name available wins.
type Repository struct {
	mu      sync.RWMutex
	sources []source.ConfigSource
	cache   map[string]*value.Document
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{cache: make(map[string]*value.Document)}
}

// Append adds src at the end (lowest precedence) and invalidates the cache.
func (r *Repository) Append(src source.ConfigSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append(r.sources, src)
	r.invalidate()
}

// Prepend adds src at the front (highest precedence) and invalidates the
// cache.
func (r *Repository) Prepend(src source.ConfigSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources = append([]source.ConfigSource{src}, r.sources...)
	r.invalidate()
}

func (r *Repository) invalidate() {
	r.cache = make(map[string]*value.Document)
}

// Sources returns the repository's sources in resolution order.
func (r *Repository) Sources() []source.ConfigSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]source.ConfigSource, len(r.sources))
	copy(out, r.sources)
	return out
}

// Resolve loads name from the first available source that has it, caching
// the result. Callers receive a clone so repeated Resolve calls never share
// mutable state. Safe for concurrent use, so sweep-expanded runs can compose
// in parallel over one repository.
func (r *Repository) Resolve(name string) (*value.Document, error) {
	r.mu.RLock()
	cached, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return &value.Document{Root: cached.Root.Clone(), Header: cached.Header}, nil
	}
	for _, src := range r.Sources() {
		if !src.Available() {
			continue
		}
		if !src.IsConfig(name) {
			continue
		}
		doc, err := src.Load(name)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[name] = doc
		r.mu.Unlock()
		return &value.Document{Root: doc.Root.Clone(), Header: doc.Header}, nil
	}
	return nil, &composeerr.ConfigLoadError{Name: name, Path: name, Err: fmt.Errorf("no source in the repository has this config")}
}

// List aggregates the names available under groupPath across every
// available source, sorted and de-duplicated; the result is independent of
// source insertion order.
func (r *Repository) List(groupPath string) ([]string, error) {
	seen := map[string]bool{}
	var names []string
	for _, src := range r.Sources() {
		if !src.Available() {
			continue
		}
		group, err := src.List(groupPath)
		if err != nil {
			continue
		}
		for _, n := range group {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// IsConfig reports whether any available source can load path as a config.
func (r *Repository) IsConfig(path string) bool {
	for _, src := range r.Sources() {
		if src.Available() && src.IsConfig(path) {
			return true
		}
	}
	return false
}

// ClearCache drops every cached document en bloc; the next Resolve for each
// path goes back to its source.
func (r *Repository) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidate()
}

// IsGroup reports whether any source treats path as a group.
func (r *Repository) IsGroup(path string) bool {
	for _, src := range r.Sources() {
		if src.Available() && src.IsGroup(path) {
			return true
		}
	}
	return false
}
