package source

import (
	"sort"
	"strings"
	"sync"

	"stratum/pkg/composeerr"
	"stratum/pkg/value"
)

// StructuredSource is an in-process registry of Documents: callers Store()
// values at build time (typically from init()) and the Repository resolves
// them exactly like any other source at composition time. A trailing ".yaml"
// on a stored name is optional, and group paths are slash-separated
// (store("db/mysql", ...) is later addressable as List("db") containing
// "mysql").
type StructuredSource struct {
	mu    sync.RWMutex
	nodes map[string]*value.Document
}

// NewStructuredSource returns an empty registry.
func NewStructuredSource() *StructuredSource {
	return &StructuredSource{nodes: make(map[string]*value.Document)}
}

// Store registers doc under path, a "/"-separated group path ending in the
// config's name; a trailing ".yaml" is stripped, so callers address the
// entry without it.
func (s *StructuredSource) Store(path string, doc *value.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[normalizeStructuredPath(path)] = doc
}

// normalizeStructuredPath trims slashes and a trailing .yaml/.yml, so a name
// stored as "db/mysql.yaml" and one stored as "db/mysql" are the same entry
// and both are addressable without the suffix.
func normalizeStructuredPath(path string) string {
	p := strings.Trim(path, "/")
	p = strings.TrimSuffix(p, ".yaml")
	return strings.TrimSuffix(p, ".yml")
}

func (s *StructuredSource) Scheme() string { return "structured" }

func (s *StructuredSource) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes) > 0
}

func (s *StructuredSource) Load(name string) (*value.Document, error) {
	key := normalizeStructuredPath(name)
	s.mu.RLock()
	doc, ok := s.nodes[key]
	s.mu.RUnlock()
	if !ok {
		return nil, &composeerr.ConfigLoadError{Name: name, Path: "structured://" + key, Err: errNotFound(key)}
	}
	return &value.Document{Root: doc.Root.Clone(), Header: doc.Header}, nil
}

func (s *StructuredSource) List(groupPath string) ([]string, error) {
	prefix := normalizeStructuredPath(groupPath)
	seen := map[string]bool{}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key := range s.nodes {
		rest := key
		if prefix != "" {
			if !strings.HasPrefix(key, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(key, prefix+"/")
		}
		head := rest
		if idx := strings.Index(rest, "/"); idx >= 0 {
			head = rest[:idx]
		}
		seen[head] = true
	}
	var names []string
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *StructuredSource) IsGroup(path string) bool {
	names, err := s.List(path)
	return err == nil && len(names) > 0 && !s.IsConfig(path)
}

func (s *StructuredSource) IsConfig(path string) bool {
	key := normalizeStructuredPath(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[key]
	return ok
}

// Snapshot captures the registry's contents as a deep copy with no live
// handles, so a later Restore is side-effect free. Paired with Restore it
// gives tests the same isolation contract the plugin registry's Singleton
// offers.
func (s *StructuredSource) Snapshot() map[string]*value.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*value.Document, len(s.nodes))
	for k, doc := range s.nodes {
		out[k] = &value.Document{Root: doc.Root.Clone(), Header: doc.Header}
	}
	return out
}

// Restore replaces the registry's contents with a value previously returned
// by Snapshot.
func (s *StructuredSource) Restore(snapshot map[string]*value.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*value.Document, len(snapshot))
	for k, doc := range snapshot {
		s.nodes[k] = &value.Document{Root: doc.Root.Clone(), Header: doc.Header}
	}
}

// defaultStore is the process-wide structured registry the "structured://"
// scheme refers to; packages register configs against it at init time.
var defaultStore = NewStructuredSource()

// DefaultStore returns the process-wide structured registry.
func DefaultStore() *StructuredSource { return defaultStore }

type notFoundError string

func (e notFoundError) Error() string { return "not found: " + string(e) }

func errNotFound(key string) error { return notFoundError(key) }
