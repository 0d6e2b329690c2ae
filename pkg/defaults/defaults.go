// Package defaults implements the defaults-list resolver.
//
// It expands a primary config's "defaults:" entries recursively into a flat,
// ordered list of ResultDefault records, applying the subset of command-line
// overrides that reshape the defaults list itself (group selection, "+"
// external append, "++" force-append, "~" deletion) along the way.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package defaults

import (
	"fmt"
	"path"
	"strings"

	"stratum/pkg/composeerr"
	"stratum/pkg/override"
	"stratum/pkg/repository"
	"stratum/pkg/value"
)

// ResultDefault is one flattened, fully resolved entry of a defaults list.
type ResultDefault struct {
	ConfigPath     string
	ParentBaseDir  string
	Package        string
	IsSelf         bool
	Primary        bool
	Override       bool
	ExternalAppend bool
}

// key identifies a ResultDefault for duplicate detection: (config path, package).
type key struct {
	ConfigPath string
	Package    string
}

// Options configures Resolve.
type Options struct {
	// PrependHydra, if set, prepends a built-in "hydra" primary config
	// (resolved from the repository under the name "hydra/config") before
	// the caller's primary config is processed.
	PrependHydra bool
	// SkipMissing, if set, silently drops defaults entries whose target
	// config cannot be found instead of failing the composition.
	SkipMissing bool
}

// groupOverride is the effect one CLI override has on a single defaults-list
// group: select a different option, external-append a new one, force-append,
// or delete every current selection.
type groupOverride struct {
	group          string
	pkg            string // explicit "@pkg" from the CLI key, "" if none
	values         []string // selected option name(s); nil keeps the entry's own choice (deletion is the delete flag)
	externalAppend bool
	forceAppend    bool
	delete         bool
}

// Resolve expands primary's defaults list (and everything it transitively
// pulls in) into a flat, pre-order list of ResultDefault, applying the
// defaults-list-shaping subset of overrides. It also returns every _patch_
// directive encountered, in visitation order, for the merge engine to apply
// after the documents themselves are merged, each in its enclosing
// document's package context.
func Resolve(repo *repository.Repository, primary string, overrides []*override.Override, opts Options) ([]*ResultDefault, []Patch, error) {
	ordered, groupOverrides := extractGroupOverrides(repo, overrides)

	var out []*ResultDefault
	var patches []Patch
	seen := map[key]*ResultDefault{}
	visiting := map[string]bool{}

	if opts.PrependHydra {
		hydraOut, err := resolveOne(repo, "hydra/config", "", groupPackage("hydra/config"), false, false, groupOverrides, opts, seen, visiting, &patches)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, hydraOut...)
	}

	primaryNorm := normalizePath(primary, "")
	primaryPkg := groupPackage(primaryNorm)
	primaryOut, err := resolveOne(repo, primary, "", primaryPkg, false, true, groupOverrides, opts, seen, visiting, &patches)
	if err != nil {
		return nil, nil, err
	}
	out = append(out, primaryOut...)
	if doc, derr := repo.Resolve(primaryNorm); derr == nil && doc.Header.Package != "" {
		primaryPkg = resolveHeaderPackage(doc.Header.Package, primaryPkg, primaryNorm)
	}

	if err := applyExternalAppends(repo, ordered, primaryPkg, &out, seen); err != nil {
		return nil, nil, err
	}
	if err := detectDuplicates(out); err != nil {
		return nil, nil, err
	}
	return out, patches, nil
}

// extractGroupOverrides partitions the override list down to the ones that
// reshape the defaults list, keyed by group name and kept in CLI order.
// An override only qualifies when its key is dot-free and actually names a
// config group known to the repository; everything else is a value override
// against the composed tree and is ignored here.
func extractGroupOverrides(repo *repository.Repository, overrides []*override.Override) ([]*groupOverride, map[string]*groupOverride) {
	var ordered []*groupOverride
	byGroup := map[string]*groupOverride{}
	add := func(g *groupOverride) {
		if prev, ok := byGroup[g.group]; ok {
			*prev = *g
			return
		}
		byGroup[g.group] = g
		ordered = append(ordered, g)
	}
	for _, ov := range overrides {
		group := ov.Key.KeyOrGroup
		if strings.Contains(group, ".") || !repo.IsGroup(group) {
			continue
		}
		switch ov.Type {
		case override.Del:
			add(&groupOverride{group: group, pkg: ov.Key.Package, delete: true})
		case override.Add:
			add(&groupOverride{group: group, pkg: ov.Key.Package, values: valuesOf(ov), externalAppend: true})
		case override.ForceAdd:
			add(&groupOverride{group: group, pkg: ov.Key.Package, values: valuesOf(ov), forceAppend: true})
		case override.Change:
			if ov.ValueKind == override.Element && ov.Value != nil && ov.Value.Kind == value.KindNull {
				add(&groupOverride{group: group, pkg: ov.Key.Package, delete: true})
				continue
			}
			add(&groupOverride{group: group, pkg: ov.Key.Package, values: valuesOf(ov)})
		}
	}
	return ordered, byGroup
}

func valuesOf(ov *override.Override) []string {
	if ov.ValueKind != override.Element && ov.ValueKind != override.SimpleChoiceSweepKind {
		return nil
	}
	if ov.ValueKind == override.SimpleChoiceSweepKind {
		var out []string
		for _, v := range ov.Choice.List {
			if s, err := v.AsString(); err == nil {
				out = append(out, s)
			}
		}
		return out
	}
	if ov.Value.Kind == value.KindSeq {
		var out []string
		for _, v := range ov.Value.Seq {
			if s, err := v.AsString(); err == nil {
				out = append(out, s)
			}
		}
		return out
	}
	if ov.Value.Kind == value.KindNull {
		return nil
	}
	s, err := ov.Value.AsString()
	if err != nil {
		return nil
	}
	return []string{s}
}

// resolveOne loads configPath, recurses into its defaults list, and returns
// the pre-order flattening of this subtree (dependencies first, _self_ in
// the position the document declared). entryPkg is the package computed from
// the referring entry; pkgExplicit marks an explicit "@pkg" suffix, which
// beats the document's own "# @package" header.
func resolveOne(repo *repository.Repository, configPath, baseDir, entryPkg string, pkgExplicit, primary bool, groupOverrides map[string]*groupOverride, opts Options, seen map[key]*ResultDefault, visiting map[string]bool, patches *[]Patch) ([]*ResultDefault, error) {
	normalized := normalizePath(configPath, baseDir)
	if visiting[normalized] {
		return nil, &composeerr.ConfigCompositionError{Message: fmt.Sprintf("cycle detected: %q already being resolved", normalized), Path: normalized}
	}
	visiting[normalized] = true
	defer delete(visiting, normalized)

	doc, err := repo.Resolve(normalized)
	if err != nil {
		if opts.SkipMissing {
			return nil, nil
		}
		return nil, &composeerr.ConfigCompositionError{Message: fmt.Sprintf("could not find %q", configPath), Path: normalized, Err: err}
	}

	pkg := entryPkg
	if !pkgExplicit && doc.Header.Package != "" {
		pkg = resolveHeaderPackage(doc.Header.Package, entryPkg, normalized)
	}
	entries, selfIndex := parseDefaultsList(doc.Root)

	var out []*ResultDefault
	emitSelf := func() {
		rd := &ResultDefault{ConfigPath: normalized, ParentBaseDir: baseDir, Package: pkg, IsSelf: true, Primary: primary}
		out = append(out, rd)
	}
	selfEmitted := false
	for i, ent := range entries {
		if selfIndex == i {
			emitSelf()
			selfEmitted = true
		}
		children, err := expandEntry(repo, ent, normalized, pkg, groupOverrides, opts, seen, visiting, patches)
		if err != nil {
			return nil, err
		}
		out = append(out, children...)
	}
	if !selfEmitted {
		emitSelf()
	}

	for _, rd := range out {
		k := key{ConfigPath: rd.ConfigPath, Package: rd.Package}
		seen[k] = rd
	}

	if err := collectPatches(doc.Root, pkg, patches); err != nil {
		return nil, err
	}
	return out, nil
}

// defaultsEntry is one raw "defaults:" list item, before expansion.
type defaultsEntry struct {
	isSelf  bool
	isPatch bool
	group   string // "" for a bare config-path entry
	path    string // the config path (for a bare entry) or the chosen option (for a group entry)
	values  []string
	pkg     string // explicit "@pkg" suffix, "" if none
}

func parseDefaultsList(root *value.Value) ([]defaultsEntry, int) {
	if root.Kind != value.KindMap {
		return nil, -1
	}
	defaultsVal, ok := root.Map.Get("defaults")
	if !ok || defaultsVal.Kind != value.KindSeq {
		return nil, -1
	}
	var out []defaultsEntry
	selfIndex := -1
	for _, item := range defaultsVal.Seq {
		switch item.Kind {
		case value.KindString, value.KindQuoted:
			s := item.Str
			name, pkg := splitPackageSuffix(s)
			if name == "_self_" {
				selfIndex = len(out)
				out = append(out, defaultsEntry{isSelf: true})
				continue
			}
			if strings.HasPrefix(name, "_patch_") {
				out = append(out, defaultsEntry{isPatch: true, pkg: pkg})
				continue
			}
			out = append(out, defaultsEntry{path: name, pkg: pkg})
		case value.KindMap:
			for _, k := range item.Map.Keys() {
				v, _ := item.Map.Get(k)
				group, pkg := splitPackageSuffix(k)
				if strings.HasPrefix(group, "_patch_") {
					out = append(out, defaultsEntry{isPatch: true, pkg: pkg})
					continue
				}
				if v.Kind == value.KindNull {
					out = append(out, defaultsEntry{group: group, pkg: pkg})
					continue
				}
				if v.Kind == value.KindSeq {
					vals, _ := asStringList(v)
					out = append(out, defaultsEntry{group: group, values: vals, pkg: pkg})
					continue
				}
				s, _ := v.AsString()
				out = append(out, defaultsEntry{group: group, values: []string{s}, pkg: pkg})
			}
		}
	}
	return out, selfIndex
}

func asStringList(v *value.Value) ([]string, error) {
	if v.Kind != value.KindSeq {
		return nil, fmt.Errorf("expected a list")
	}
	out := make([]string, 0, len(v.Seq))
	for _, item := range v.Seq {
		s, err := item.AsString()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func splitPackageSuffix(s string) (string, string) {
	if idx := strings.Index(s, "@"); idx >= 0 {
		return s[:idx], s[idx+1:]
	}
	return s, ""
}

// expandEntry turns one raw defaults entry into its ResultDefault
// subtree(s), applying any matching group override first.
func expandEntry(repo *repository.Repository, ent defaultsEntry, parentPath, parentPkg string, groupOverrides map[string]*groupOverride, opts Options, seen map[key]*ResultDefault, visiting map[string]bool, patches *[]Patch) ([]*ResultDefault, error) {
	if ent.isSelf || ent.isPatch {
		return nil, nil
	}

	values := ent.values
	group := ent.group
	explicitPkg := ent.pkg
	isConfigEntry := group == ""
	overridden := false
	baseDir := path.Dir(parentPath)
	if baseDir == "." {
		baseDir = ""
	}

	if group != "" {
		if go_, ok := groupOverrides[strings.TrimPrefix(group, "/")]; ok && !go_.externalAppend {
			if go_.delete {
				return nil, nil
			}
			if go_.values != nil {
				values = go_.values
				overridden = true
			}
			if go_.pkg != "" {
				explicitPkg = go_.pkg
			}
		}
	}

	var targets []string
	if isConfigEntry {
		targets = []string{ent.path}
	} else {
		for _, optName := range values {
			targets = append(targets, group+"/"+optName)
		}
	}

	var out []*ResultDefault
	for _, targetPath := range targets {
		normalized := normalizePath(targetPath, baseDir)
		pkg, explicit := entryPackage(explicitPkg, parentPkg, group, targetPath, normalized)
		children, err := resolveOne(repo, targetPath, baseDir, pkg, explicit, false, groupOverrides, opts, seen, visiting, patches)
		if err != nil {
			return nil, err
		}
		if overridden {
			for _, rd := range children {
				if rd.ConfigPath == normalized {
					rd.Override = true
				}
			}
		}
		out = append(out, children...)
	}
	return out, nil
}

// entryPackage computes a defaults entry's package per the precedence rule:
// an explicit "@pkg" suffix wins (special tokens resolved, plain names
// joined onto the parent's package); otherwise the package is derived from
// the entry's group (or the config path's directory) joined onto the
// parent's package, leaving the document's own header to override later.
func entryPackage(suffix, parentPkg, group, writtenPath, normalized string) (string, bool) {
	if suffix != "" {
		return resolveSuffixPackage(suffix, parentPkg, normalized), true
	}
	segment := group
	if segment == "" {
		segment = writtenDir(writtenPath)
	}
	return joinPkg(parentPkg, packageSegment(segment)), false
}

func resolveSuffixPackage(suffix, parentPkg, normalized string) string {
	switch suffix {
	case value.PackageHere:
		return parentPkg
	case value.PackageGlobal:
		return ""
	case value.PackageGroup:
		return groupPackage(normalized)
	case value.PackageName:
		return path.Base(normalized)
	default:
		return joinPkg(parentPkg, suffix)
	}
}

// resolveHeaderPackage resolves a "# @package" header value. Unlike an
// entry suffix, a plain header value is an absolute dotted path from the
// composed root.
func resolveHeaderPackage(header, inheritedPkg, normalized string) string {
	switch header {
	case value.PackageHere:
		return inheritedPkg
	case value.PackageGlobal:
		return ""
	case value.PackageGroup:
		return groupPackage(normalized)
	case value.PackageName:
		return path.Base(normalized)
	default:
		return header
	}
}

// groupPackage is the dotted package a config path's directory denotes:
// "server/db/mysql" → "server.db", "config" → "".
func groupPackage(configPath string) string {
	return packageSegment(writtenDir(configPath))
}

func writtenDir(p string) string {
	p = strings.TrimPrefix(p, "/")
	for strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(p, "../")
	}
	p = strings.TrimPrefix(p, "./")
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

func packageSegment(group string) string {
	g := strings.Trim(group, "/")
	return strings.ReplaceAll(g, "/", ".")
}

func joinPkg(parent, child string) string {
	if parent == "" {
		return child
	}
	if child == "" {
		return parent
	}
	return parent + "." + child
}

// applyExternalAppends handles "+group=value" and "++group=value": these add
// an entry to the defaults list whose path is absolute from the root (base
// dir ""), not relative to any parent document. Their package is the
// explicit "@pkg" joined onto the primary's package; without one, the
// appended document's "# @package" header; failing both, the group name
// joined onto the primary's package. So
// "+db@db_2=postgresql" against a primary in "server/" lands at
// "server.db_2" while still loading "db/postgresql" from the root.
func applyExternalAppends(repo *repository.Repository, ordered []*groupOverride, primaryPkg string, out *[]*ResultDefault, seen map[key]*ResultDefault) error {
	for _, go_ := range ordered {
		if !go_.externalAppend && !go_.forceAppend {
			continue
		}
		for _, optName := range go_.values {
			targetPath := go_.group + "/" + optName
			normalized := normalizePath(targetPath, "")

			doc, err := repo.Resolve(normalized)
			if err != nil {
				return &composeerr.ConfigCompositionError{Message: fmt.Sprintf("could not find appended default %q", targetPath), Path: normalized, Err: err}
			}
			var pkg string
			switch {
			case go_.pkg != "":
				pkg = resolveSuffixPackage(go_.pkg, primaryPkg, normalized)
			case doc.Header.Package != "":
				pkg = resolveHeaderPackage(doc.Header.Package, primaryPkg, normalized)
			default:
				pkg = joinPkg(primaryPkg, packageSegment(go_.group))
			}

			k := key{ConfigPath: normalized, Package: pkg}
			if _, already := seen[k]; already {
				// ++ against a group whose selection the first pass already
				// honored; nothing further to append.
				if go_.forceAppend {
					continue
				}
				return &composeerr.ConfigCompositionError{
					Message: fmt.Sprintf("%q is already in the defaults list (use ++ to force)", targetPath),
					Path:    normalized,
				}
			}
			rd := &ResultDefault{
				ConfigPath:     normalized,
				ParentBaseDir:  "",
				Package:        pkg,
				ExternalAppend: true,
			}
			seen[k] = rd
			*out = append(*out, rd)
		}
	}
	return nil
}

// Patch is a post-merge mutation list contributed by a document's "_patch_"
// or "_patch_@pkg" defaults-list entry.
type Patch struct {
	Package   string
	Overrides []string
}

// collectPatches appends every _patch_ directive found on root's defaults
// list (if any) to patches, in declaration order. Threaded through
// resolveOne's call tree rather than held as package state, so Resolve
// stays safe to call concurrently for independent compositions.
func collectPatches(root *value.Value, docPkg string, patches *[]Patch) error {
	if root.Kind != value.KindMap {
		return nil
	}
	defaultsVal, ok := root.Map.Get("defaults")
	if !ok || defaultsVal.Kind != value.KindSeq {
		return nil
	}
	for _, item := range defaultsVal.Seq {
		if item.Kind != value.KindMap {
			continue
		}
		for _, k := range item.Map.Keys() {
			name, pkgSuffix := splitPackageSuffix(k)
			if !strings.HasPrefix(name, "_patch_") {
				continue
			}
			if strings.Contains(k, "@") && pkgSuffix == "" {
				return &composeerr.ConfigCompositionError{Message: "_patch_ with an empty @ package is an error", Path: k}
			}
			pkg := docPkg
			switch pkgSuffix {
			case "":
			case value.PackageGlobal:
				pkg = ""
			case value.PackageHere:
				pkg = docPkg
			default:
				pkg = joinPkg(docPkg, pkgSuffix)
			}
			v, _ := item.Map.Get(k)
			overrides, err := asStringList(v)
			if err != nil {
				return &composeerr.ConfigCompositionError{Message: "_patch_ value must be a list of override strings", Path: k, Err: err}
			}
			*patches = append(*patches, Patch{Package: pkg, Overrides: overrides})
		}
	}
	return nil
}

func detectDuplicates(list []*ResultDefault) error {
	seen := map[key][]*ResultDefault{}
	for _, rd := range list {
		k := key{ConfigPath: rd.ConfigPath, Package: rd.Package}
		seen[k] = append(seen[k], rd)
	}
	for k, group := range seen {
		if len(group) <= 1 {
			continue
		}
		selfCount := 0
		for _, rd := range group {
			if rd.IsSelf {
				selfCount++
			}
		}
		if len(group) == 2 && selfCount == 1 {
			continue
		}
		return &composeerr.ConfigCompositionError{
			Message: fmt.Sprintf("duplicate default %q in package %q (%d entries, only one may be _self_)", k.ConfigPath, k.Package, len(group)),
			Path:    k.ConfigPath,
		}
	}
	return nil
}

// normalizePath joins configPath against baseDir and normalizes it:
// "." and ".." are resolved, double slashes collapse, and ".." can never
// rise above the root. A leading "/" makes configPath absolute from the
// root regardless of baseDir (as in a "/db: mysql" defaults entry).
func normalizePath(configPath, baseDir string) string {
	if strings.HasPrefix(configPath, "/") {
		return clampToRoot(path.Clean(configPath))
	}
	joined := configPath
	if baseDir != "" {
		joined = baseDir + "/" + configPath
	}
	return clampToRoot(path.Clean(joined))
}

func clampToRoot(p string) string {
	p = strings.TrimPrefix(p, "/")
	for strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(p, "../")
	}
	if p == ".." || p == "." {
		p = ""
	}
	return strings.TrimPrefix(p, "./")
}
