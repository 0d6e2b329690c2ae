// Package sweep expands sweep-valued overrides into the Cartesian product
// of concrete per-run override lists. Discrete sweeps (choice, range, glob)
// are materialized here; continuous interval sweeps pass through untouched
// for a sampler to handle.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package sweep

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	"stratum/pkg/composeerr"
	"stratum/pkg/override"
	"stratum/pkg/repository"
	"stratum/pkg/value"
)

// GroupLister resolves the option names available under a config group, the
// capability glob() sweeps need; satisfied by *repository.Repository.
type GroupLister interface {
	List(groupPath string) ([]string, error)
}

var _ GroupLister = (*repository.Repository)(nil)

// Expander turns the discrete sweeps among a parsed override list into the
// full Cartesian product of concrete override-string lists. Continuous
// (interval) sweeps are left untouched on every resulting list for a
// sampler plugin outside this package's scope to handle.
type Expander struct {
	repo GroupLister
	rand *rand.Rand
}

// NewExpander returns an Expander that resolves glob() sweeps against repo
// and seeds shuffle() from seed. The seed is supplied by the caller rather
// than read from wall-clock time inside this package, keeping Expander
// itself deterministic.
func NewExpander(repo GroupLister, seed int64) *Expander {
	return &Expander{repo: repo, rand: rand.New(rand.NewSource(seed))}
}

// Expand partitions overrides into sweep and non-sweep entries and returns
// the Cartesian product of every discrete sweep's materialized values, each
// combined with the non-sweep overrides unchanged. The returned slice has
// exactly ∏ sizes(discrete sweeps) entries.
func (e *Expander) Expand(overrides []*override.Override) ([][]string, error) {
	var fixed []string
	type axis struct {
		key    string
		values []string
	}
	var axes []axis

	for _, ov := range overrides {
		if !ov.IsSweep() || ov.ValueKind == override.IntervalSweepKind {
			// Intervals are continuous: they ride along unmaterialized for a
			// sweeper plugin to sample.
			fixed = append(fixed, renderFixed(ov))
			continue
		}
		values, err := e.materialize(ov)
		if err != nil {
			return nil, err
		}
		axes = append(axes, axis{key: ov.Key.KeyOrGroup, values: values})
	}

	combos := [][]string{{}}
	for _, ax := range axes {
		var next [][]string
		for _, combo := range combos {
			for _, v := range ax.values {
				entry := fmt.Sprintf("%s=%s", ax.key, v)
				c := append(append([]string{}, combo...), entry)
				next = append(next, c)
			}
		}
		combos = next
	}

	out := make([][]string, 0, len(combos))
	for _, combo := range combos {
		out = append(out, append(append([]string{}, fixed...), combo...))
	}
	return out, nil
}

func renderFixed(ov *override.Override) string {
	return ov.Input
}

// materialize expands one sweep-valued override into its list of rendered
// value strings, honoring each sweep kind's shuffle flag.
func (e *Expander) materialize(ov *override.Override) ([]string, error) {
	switch ov.ValueKind {
	case override.ChoiceSweepKind, override.SimpleChoiceSweepKind:
		out := make([]string, 0, len(ov.Choice.List))
		for _, v := range ov.Choice.List {
			s, err := renderValue(v)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		if ov.Choice.Shuffle {
			e.shuffle(out)
		}
		return out, nil
	case override.RangeSweepKind:
		return e.materializeRange(ov.Range)
	case override.GlobChoiceSweepKind:
		return e.materializeGlob(ov.Key.KeyOrGroup, ov.GlobVal)
	case override.IntervalSweepKind:
		return nil, &composeerr.ConfigCompositionError{
			Message: "interval() sweeps are continuous and must be handled by a sampler, not the sweep expander",
			Path:    ov.Key.KeyOrGroup,
		}
	default:
		return nil, fmt.Errorf("override %q is not a discrete sweep", ov.Input)
	}
}

func renderValue(v *value.Value) (string, error) {
	if v.Kind == value.KindQuoted {
		q := byte(v.Quote)
		return string(q) + v.Str + string(q), nil
	}
	return v.AsString()
}

func (e *Expander) materializeRange(r *override.RangeSweep) ([]string, error) {
	if r.Step == 0 {
		return nil, fmt.Errorf("range() step must be nonzero")
	}
	var out []string
	if r.Step > 0 {
		for x := r.Start; x < r.Stop; x += r.Step {
			out = append(out, formatRangeValue(x, r.IsInt))
		}
	} else {
		for x := r.Start; x > r.Stop; x += r.Step {
			out = append(out, formatRangeValue(x, r.IsInt))
		}
	}
	if r.Shuffle {
		e.shuffle(out)
	}
	return out, nil
}

func formatRangeValue(x float64, isInt bool) string {
	if isInt {
		return strconv.FormatInt(int64(x), 10)
	}
	return strconv.FormatFloat(x, 'g', -1, 64)
}

// materializeGlob resolves a glob() sweep by listing group's available
// option names from the repository (consulting every source on the search
// path, not just file sources) and filtering them with shell-style
// include/exclude patterns.
func (e *Expander) materializeGlob(group string, g *override.Glob) ([]string, error) {
	names, err := e.repo.List(group)
	if err != nil {
		return nil, &composeerr.ConfigCompositionError{Message: fmt.Sprintf("glob() could not list group %q: %v", group, err), Path: group}
	}

	include := g.Include
	if len(include) == 0 {
		include = []string{"*"}
	}
	var out []string
	for _, name := range names {
		if !matchesAny(include, name) {
			continue
		}
		if matchesAny(g.Exclude, name) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func (e *Expander) shuffle(s []string) {
	e.rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// HasSweep reports whether any override in the list is a discrete or
// continuous sweep.
func HasSweep(overrides []*override.Override) bool {
	for _, ov := range overrides {
		if ov.IsSweep() {
			return true
		}
	}
	return false
}
