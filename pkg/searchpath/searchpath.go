// Package searchpath maintains the ordered, mutable list of
// (provider, path) entries a Repository consults, in order, when resolving
// config sources.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package searchpath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Entry is one search-path contribution: a provider name ("main", "myapp",
// a plugin name) and the path or scheme-qualified URI it contributed.
type Entry struct {
	Provider string
	Path     string
}

// SearchPath is an ordered, mutable list of Entry. Order is precedence:
// the first entry whose source answers for a name wins.
type SearchPath struct {
	entries []Entry
}

// New returns an empty SearchPath.
func New() *SearchPath {
	return &SearchPath{}
}

// Append adds an entry at the end (lowest precedence).
func (s *SearchPath) Append(provider, path string) {
	s.entries = append(s.entries, Entry{Provider: provider, Path: path})
}

// Prepend adds an entry at the front (highest precedence).
func (s *SearchPath) Prepend(provider, path string) {
	s.entries = append([]Entry{{Provider: provider, Path: path}}, s.entries...)
}

// Query selects search-path entries by provider name, by path, or both.
// An empty field matches anything; an entirely empty Query matches nothing.
type Query struct {
	Provider string
	Path     string
}

func (q Query) matches(e Entry) bool {
	if q.Provider == "" && q.Path == "" {
		return false
	}
	if q.Provider != "" && e.Provider != q.Provider {
		return false
	}
	if q.Path != "" && e.Path != q.Path {
		return false
	}
	return true
}

// AppendAfter inserts an entry immediately after the first entry matching
// anchor, or at the end if nothing matches.
func (s *SearchPath) AppendAfter(anchor Query, provider, path string) {
	for i, e := range s.entries {
		if anchor.matches(e) {
			entry := Entry{Provider: provider, Path: path}
			s.entries = append(s.entries[:i+1], append([]Entry{entry}, s.entries[i+1:]...)...)
			return
		}
	}
	s.Append(provider, path)
}

// Remove deletes every entry matching q.
func (s *SearchPath) Remove(q Query) {
	out := s.entries[:0]
	for _, e := range s.entries {
		if !q.matches(e) {
			out = append(out, e)
		}
	}
	s.entries = out
}

// FindFirst returns the first entry matching q.
func (s *SearchPath) FindFirst(q Query) (Entry, bool) {
	for _, e := range s.entries {
		if q.matches(e) {
			return e, true
		}
	}
	return Entry{}, false
}

// FindLast returns the last entry matching q.
func (s *SearchPath) FindLast(q Query) (Entry, bool) {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if q.matches(s.entries[i]) {
			return s.entries[i], true
		}
	}
	return Entry{}, false
}

// Find returns the first entry with the given provider name.
func (s *SearchPath) Find(provider string) (Entry, bool) {
	return s.FindFirst(Query{Provider: provider})
}

// Entries returns the search path's entries in resolution order.
func (s *SearchPath) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// BootstrapFromEnv seeds a SearchPath from a colon-separated environment
// variable, expanding each entry with ExpandPath.
func BootstrapFromEnv(envVar, provider string) *SearchPath {
	sp := New()
	raw := os.Getenv(envVar)
	if raw == "" {
		return sp
	}
	for _, p := range strings.Split(raw, ":") {
		if p == "" {
			continue
		}
		sp.Append(provider, ExpandPath(p))
	}
	return sp
}

// ExpandPath expands a leading "~/" to the user's home directory and leaves
// absolute paths untouched.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return path
}

// String renders the search path as one "provider: path" line per entry.
func (s *SearchPath) String() string {
	var b strings.Builder
	for _, e := range s.entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Provider, e.Path)
	}
	return b.String()
}
