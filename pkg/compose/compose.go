// Package compose wires the repository, defaults resolver, override
// grammar, merge engine and sweep expander into the single Compose call an
// application or CLI uses to produce an effective configuration, plus a
// bounded-concurrency multirun runner for sweep-expanded override sets.
//
// The pipeline: parse overrides, resolve the primary config's defaults
// list, merge the resolved documents in order, apply patches and value
// overrides, resolve interpolations.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package compose

import (
	"context"
	"runtime"
	"sync"

	"stratum/pkg/composeerr"
	"stratum/pkg/defaults"
	"stratum/pkg/merge"
	"stratum/pkg/override"
	"stratum/pkg/repository"
	"stratum/pkg/sweep"
	"stratum/pkg/value"
)

// Options configures a single Compose call.
type Options struct {
	// PrependHydra requests a built-in "hydra" primary config ahead of the
	// caller's primary config, per defaults.Options.
	PrependHydra bool
	// SkipMissing silently drops defaults entries whose target config can't
	// be found instead of failing composition.
	SkipMissing bool
}

// Compose runs the full single-composition pipeline: parse overrideStrings,
// resolve primaryConfigName's defaults list against repo, deep-merge every
// resolved document at its effective package, apply _patch_ directives and
// then the caller's value/list-mutation overrides, and finally resolve
// "${...}" interpolations.
//
// overrideStrings must not contain any sweep-valued entry (choice/range/
// glob/interval); callers with sweeps should use sweep.Expander.Expand first
// and call Compose once per expanded list (or use RunMultirun below).
func Compose(repo *repository.Repository, primaryConfigName string, overrideStrings []string, opts Options) (*value.Value, error) {
	overrides, err := override.ParseAll(overrideStrings)
	if err != nil {
		return nil, err
	}
	for _, ov := range overrides {
		if ov.IsSweep() {
			return nil, &composeerr.ConfigCompositionError{
				Message: "Compose received a sweep-valued override; expand sweeps first (see sweep.Expander)",
				Path:    ov.Key.KeyOrGroup,
			}
		}
	}

	resultDefaults, patches, err := defaults.Resolve(repo, primaryConfigName, overrides, defaults.Options{
		PrependHydra: opts.PrependHydra,
		SkipMissing:  opts.SkipMissing,
	})
	if err != nil {
		return nil, err
	}

	layers := make([]merge.Layer, 0, len(resultDefaults))
	for _, rd := range resultDefaults {
		doc, err := repo.Resolve(rd.ConfigPath)
		if err != nil {
			if opts.SkipMissing {
				continue
			}
			return nil, err
		}
		root := doc.Root
		if root.Kind == value.KindMap {
			// The defaults list drives composition; it is not part of the
			// document's body.
			root.Map.Delete("defaults")
		}
		layers = append(layers, merge.Layer{Root: root, Package: rd.Package})
	}

	valueOverrides := nonDefaultsOverrides(repo, overrides)
	return merge.Merge(layers, patches, valueOverrides)
}

// nonDefaultsOverrides drops the overrides that only reshape the defaults
// list, since defaults.Resolve already consumed them; everything else —
// dotted-path overrides, dot-free keys that don't name a config group, and
// every list mutation — is passed through to the merge engine.
func nonDefaultsOverrides(repo *repository.Repository, overrides []*override.Override) []*override.Override {
	var out []*override.Override
	for _, ov := range overrides {
		if ov.Type == override.ExtendList {
			out = append(out, ov)
			continue
		}
		if isDefaultsGroupOverride(repo, ov) {
			continue
		}
		out = append(out, ov)
	}
	return out
}

// isDefaultsGroupOverride reports whether ov selects, appends or deletes a
// defaults-list entry: its key is dot-free and names a config group the
// repository knows. A dotted key (e.g. "db.port") or a key with no matching
// group (e.g. "port") always targets the composed tree.
func isDefaultsGroupOverride(repo *repository.Repository, ov *override.Override) bool {
	key := ov.Key.KeyOrGroup
	for _, r := range key {
		if r == '.' {
			return false
		}
	}
	return repo.IsGroup(key)
}

// Run is one fully composed sweep task: the concrete override list that
// produced it, the resulting tree, and any composition error.
type Run struct {
	Overrides []string
	Value     *value.Value
	Err       error
}

// RunMultirun expands overrideStrings via expander and composes each
// resulting override list independently and concurrently, bounded to
// GOMAXPROCS workers; each task is a self-contained composition. Results
// are returned in the same order the expander produced them, regardless of
// completion order.
func RunMultirun(ctx context.Context, repo *repository.Repository, primaryConfigName string, expander *sweep.Expander, overrideStrings []string, opts Options) ([]Run, error) {
	overrides, err := override.ParseAll(overrideStrings)
	if err != nil {
		return nil, err
	}
	combos, err := expander.Expand(overrides)
	if err != nil {
		return nil, err
	}

	results := make([]Run, len(combos))
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	if workers > len(combos) {
		workers = len(combos)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				select {
				case <-ctx.Done():
					results[idx] = Run{Overrides: combos[idx], Err: ctx.Err()}
					continue
				default:
				}
				root, err := Compose(repo, primaryConfigName, combos[idx], opts)
				results[idx] = Run{Overrides: combos[idx], Value: root, Err: err}
			}
		}()
	}
	for idx := range combos {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	return results, nil
}
