// Package source defines ConfigSource, the abstraction a Repository walks
// to resolve a logical config name to a Document, and its file, structured
// and pkg implementations.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package source

import "stratum/pkg/value"

// ConfigSource resolves logical config names ("db/mysql") to Documents.
// One implementation exists per backing scheme (file, structured, pkg).
type ConfigSource interface {
	// Scheme returns the URI scheme this source answers for ("file", "pkg",
	// "structured").
	Scheme() string
	// Available reports whether the source is usable at all (its root
	// exists, its registry is non-empty).
	Available() bool
	// Load resolves name to a Document, or a ConfigLoadError if name is not
	// found or cannot be parsed.
	Load(name string) (*value.Document, error)
	// List enumerates the names directly available at the given group path.
	List(groupPath string) ([]string, error)
	// IsGroup reports whether path names a group (a directory of further
	// configs) rather than a single config.
	IsGroup(path string) bool
	// IsConfig reports whether path names a single loadable config.
	IsConfig(path string) bool
}
