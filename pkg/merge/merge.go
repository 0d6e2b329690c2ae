// Package merge implements the deep-merge engine, its list-mutation
// operators, and ${...} interpolation resolution.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package merge

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"stratum/pkg/composeerr"
	"stratum/pkg/defaults"
	"stratum/pkg/override"
	"stratum/pkg/value"
)

// Layer is one document ready to be merged at its effective package.
type Layer struct {
	Root    *value.Value
	Package string
}

// Merge deep-merges layers in order (later layers win on scalar conflict),
// grafting each at its Package path, then applies patch-directive overrides,
// then the caller's CLI value overrides, then list-mutation overrides, and
// finally resolves "${...}" interpolations against the fully composed tree.
// Patches from the defaults list always run before the CLI overrides.
func Merge(layers []Layer, patches []defaults.Patch, overrides []*override.Override) (*value.Value, error) {
	composed := value.NewMap()

	for _, layer := range layers {
		if err := graft(composed, layer.Package, layer.Root); err != nil {
			return nil, err
		}
	}

	for _, patch := range patches {
		patchOverrides, err := override.ParseAll(patch.Overrides)
		if err != nil {
			return nil, err
		}
		for _, ov := range patchOverrides {
			if ov.IsSweep() {
				return nil, &composeerr.ConfigCompositionError{
					Message: fmt.Sprintf("_patch_ entries may only contain value overrides, got sweep %q", ov.Input),
					Path:    ov.Key.KeyOrGroup,
				}
			}
			qualified := qualifyPatchOverride(ov, patch.Package)
			if err := applyOverride(composed, qualified); err != nil {
				return nil, err
			}
		}
	}

	for _, ov := range overrides {
		if ov.Type == override.ExtendList {
			continue
		}
		if err := applyOverride(composed, ov); err != nil {
			return nil, err
		}
	}
	for _, ov := range overrides {
		if ov.Type != override.ExtendList {
			continue
		}
		if err := applyListMutation(composed, ov); err != nil {
			return nil, err
		}
	}

	if err := ResolveInterpolations(composed); err != nil {
		return nil, err
	}
	return composed, nil
}

// qualifyPatchOverride prefixes a bare key inside a _patch_ block with the
// enclosing document's package, unless the key is escaped with
// "_global_.".
func qualifyPatchOverride(ov *override.Override, pkg string) *override.Override {
	if pkg == "" {
		return ov
	}
	if strings.HasPrefix(ov.Key.KeyOrGroup, value.PackageGlobal+".") {
		clone := *ov
		clone.Key.KeyOrGroup = strings.TrimPrefix(ov.Key.KeyOrGroup, value.PackageGlobal+".")
		return &clone
	}
	clone := *ov
	clone.Key.KeyOrGroup = pkg + "." + ov.Key.KeyOrGroup
	return &clone
}

// graft deep-merges src into dest at the dotted path pkg, creating
// intermediate maps as needed.
func graft(dest *value.Value, pkg string, src *value.Value) error {
	if pkg == "" {
		merged, err := deepMerge(dest, src)
		if err != nil {
			return err
		}
		*dest = *merged
		return nil
	}
	target, err := navigateOrCreate(dest, pkg)
	if err != nil {
		return err
	}
	merged, err := deepMerge(target, src)
	if err != nil {
		return err
	}
	*target = *merged
	return nil
}

func navigateOrCreate(root *value.Value, dottedPath string) (*value.Value, error) {
	segments := strings.Split(dottedPath, ".")
	cur := root
	for _, seg := range segments {
		if cur.Kind != value.KindMap {
			return nil, &composeerr.ConfigCompositionError{Message: fmt.Sprintf("cannot graft at %q: %q is not a map", dottedPath, seg)}
		}
		next, ok := cur.Map.Get(seg)
		if !ok {
			next = value.NewMap()
			cur.Map.Set(seg, next)
		}
		cur = next
	}
	return cur, nil
}

// deepMerge merges src into dest: Maps merge key-wise (right/src wins on
// scalar conflict), Seqs are replaced wholesale (list-mutation operators are
// a separate, later pass), and mismatched kinds fall back to "src wins".
func deepMerge(dest, src *value.Value) (*value.Value, error) {
	if dest == nil || dest.Kind == value.KindMissing && src.Kind != value.KindMissing {
		return src.Clone(), nil
	}
	if dest.Kind == value.KindMap && src.Kind == value.KindMap {
		out := value.NewMap()
		for _, k := range dest.Map.Keys() {
			v, _ := dest.Map.Get(k)
			out.Map.Set(k, v.Clone())
		}
		for _, k := range src.Map.Keys() {
			srcVal, _ := src.Map.Get(k)
			if existing, ok := out.Map.Get(k); ok {
				merged, err := deepMerge(existing, srcVal)
				if err != nil {
					return nil, err
				}
				out.Map.Set(k, merged)
			} else {
				out.Map.Set(k, srcVal.Clone())
			}
		}
		return out, nil
	}
	return src.Clone(), nil
}

// applyOverride applies one CLI-style override to composed: Change requires
// the key to already exist, Add requires it not to, ForceAdd is
// unconditional, Del requires existence, and ExtendList dispatches to the
// list-mutation operators.
func applyOverride(composed *value.Value, ov *override.Override) error {
	if ov.Type == override.ExtendList {
		return applyListMutation(composed, ov)
	}

	path := ov.Key.KeyOrGroup
	_, exists := lookupErr(composed, path)

	switch ov.Type {
	case override.Del:
		if !exists {
			return &composeerr.ConfigCompositionError{Message: fmt.Sprintf("cannot delete %q: key does not exist", path), Path: path}
		}
		return value.Delete(composed, path)
	case override.Add:
		if exists {
			return &composeerr.ConfigCompositionError{Message: fmt.Sprintf("cannot add %q: key already exists (use ++ to force)", path), Path: path}
		}
	case override.Change:
		if !exists {
			return &composeerr.ConfigCompositionError{Message: fmt.Sprintf("cannot change %q: key does not exist (use + to add)", path), Path: path}
		}
	case override.ForceAdd:
		// unconditional
	}

	v, err := overrideValue(ov)
	if err != nil {
		return err
	}
	return value.Set(composed, path, v)
}

func lookupErr(root *value.Value, path string) (*value.Value, bool) {
	v, err := value.Lookup(root, path)
	if err != nil {
		return nil, false
	}
	return v, true
}

func overrideValue(ov *override.Override) (*value.Value, error) {
	switch ov.ValueKind {
	case override.Element:
		return ov.Value, nil
	default:
		return nil, &composeerr.ConfigCompositionError{Message: fmt.Sprintf("override %q carries a sweep; sweeps must be expanded before merge", ov.Input)}
	}
}

// applyListMutation applies an ExtendList override's operation against its
// target sequence.
func applyListMutation(composed *value.Value, ov *override.Override) error {
	path := ov.Key.KeyOrGroup
	target, err := value.Lookup(composed, path)
	if err != nil {
		return &composeerr.ConfigCompositionError{Message: fmt.Sprintf("cannot mutate list %q: %v", path, err), Path: path}
	}
	if target.Kind != value.KindSeq {
		return &composeerr.ValidationError{Path: path, Message: fmt.Sprintf("expected a list, got %s", target.Kind)}
	}

	mut := ov.ListMutation
	switch mut.Operation {
	case override.OpAppend:
		target.Seq = append(target.Seq, mut.Values...)
	case override.OpPrepend:
		target.Seq = append(append([]*value.Value{}, mut.Values...), target.Seq...)
	case override.OpInsert:
		idx := *mut.Index
		if idx < 0 || idx > len(target.Seq) {
			return &composeerr.ValidationError{Path: path, Message: fmt.Sprintf("insert index %d out of range", idx)}
		}
		out := make([]*value.Value, 0, len(target.Seq)+len(mut.Values))
		out = append(out, target.Seq[:idx]...)
		out = append(out, mut.Values...)
		out = append(out, target.Seq[idx:]...)
		target.Seq = out
	case override.OpRemoveAt:
		idx := *mut.Index
		if idx < 0 || idx >= len(target.Seq) {
			return &composeerr.ValidationError{Path: path, Message: fmt.Sprintf("remove_at index %d out of range", idx)}
		}
		target.Seq = append(target.Seq[:idx], target.Seq[idx+1:]...)
	case override.OpRemoveValue:
		if len(mut.Values) != 1 {
			return &composeerr.ValidationError{Path: path, Message: "remove_value() requires exactly one value"}
		}
		target.Seq = removeFirstEqual(target.Seq, mut.Values[0])
	case override.OpClear:
		target.Seq = nil
	}
	return nil
}

func removeFirstEqual(seq []*value.Value, want *value.Value) []*value.Value {
	for i, v := range seq {
		if valuesEqual(v, want) {
			return append(append([]*value.Value{}, seq[:i]...), seq[i+1:]...)
		}
	}
	return seq
}

func valuesEqual(a, b *value.Value) bool {
	as, aerr := a.AsString()
	bs, berr := b.AsString()
	if aerr == nil && berr == nil {
		return as == bs
	}
	return a.Kind == b.Kind
}

// interpRef matches "${...}" interpolation expressions.
var interpRef = regexp.MustCompile(`\$\{([^}]*)\}`)

// ResolveInterpolations walks root and replaces every String leaf that
// contains "${...}" with the resolved text, supporting "${path.to.key}",
// "${oc.env:NAME[,default]}" and its short form "${env:NAME[,default]}".
// Cyclic references are detected via a visiting set and reported as an
// InterpolationError carrying the hosting node's full key and kind.
func ResolveInterpolations(root *value.Value) error {
	resolved := map[string]string{}
	visiting := map[string]bool{}
	return resolveWalk(root, root, "", resolved, visiting)
}

func resolveWalk(root, node *value.Value, path string, resolved map[string]string, visiting map[string]bool) error {
	switch node.Kind {
	case value.KindMap:
		for _, k := range node.Map.Keys() {
			child, _ := node.Map.Get(k)
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if err := resolveWalk(root, child, childPath, resolved, visiting); err != nil {
				return err
			}
		}
		return nil
	case value.KindSeq:
		for i, child := range node.Seq {
			childPath := fmt.Sprintf("%s.%d", path, i)
			if path == "" {
				childPath = fmt.Sprintf("%d", i)
			}
			if err := resolveWalk(root, child, childPath, resolved, visiting); err != nil {
				return err
			}
		}
		return nil
	case value.KindString, value.KindQuoted:
		if !interpRef.MatchString(node.Str) {
			return nil
		}
		out, err := resolveString(root, node.Str, path, visiting)
		if err != nil {
			return err
		}
		node.Str = out
		return nil
	default:
		return nil
	}
}

func resolveString(root *value.Value, s, hostPath string, visiting map[string]bool) (string, error) {
	var outerErr error
	out := interpRef.ReplaceAllStringFunc(s, func(match string) string {
		if outerErr != nil {
			return match
		}
		expr := interpRef.FindStringSubmatch(match)[1]
		resolved, err := resolveExpr(root, expr, hostPath, visiting)
		if err != nil {
			outerErr = err
			return match
		}
		return resolved
	})
	if outerErr != nil {
		return "", outerErr
	}
	return out, nil
}

func resolveExpr(root *value.Value, expr, hostPath string, visiting map[string]bool) (string, error) {
	if strings.HasPrefix(expr, "oc.env:") || strings.HasPrefix(expr, "env:") {
		rest := strings.TrimPrefix(strings.TrimPrefix(expr, "oc.env:"), "env:")
		name, def, hasDefault := splitOnce(rest, ",")
		if v, ok := os.LookupEnv(name); ok {
			return v, nil
		}
		if hasDefault {
			return def, nil
		}
		return "", &composeerr.InterpolationError{
			Expression: expr,
			FullKey:    hostPath,
			ObjectType: "string",
			Message:    fmt.Sprintf("environment variable %q is not set and no default was given", name),
		}
	}

	if visiting[expr] {
		return "", &composeerr.InterpolationError{Expression: expr, FullKey: hostPath, ObjectType: "string", Message: fmt.Sprintf("cyclic interpolation at %q (referenced from %q)", expr, hostPath)}
	}
	visiting[expr] = true
	defer delete(visiting, expr)

	target, err := value.Lookup(root, expr)
	if err != nil {
		return "", &composeerr.InterpolationError{Expression: expr, FullKey: hostPath, ObjectType: "string", Message: err.Error()}
	}
	if target.Kind == value.KindMissing {
		return "", &composeerr.MissingMandatoryValue{Path: expr}
	}
	if target.Kind == value.KindString || target.Kind == value.KindQuoted {
		if interpRef.MatchString(target.Str) {
			resolvedNested, err := resolveString(root, target.Str, expr, visiting)
			if err != nil {
				return "", err
			}
			return resolvedNested, nil
		}
	}
	out, err := target.AsString()
	if err != nil {
		return "", &composeerr.InterpolationError{Expression: expr, FullKey: hostPath, ObjectType: target.Kind.String(), Message: err.Error()}
	}
	return out, nil
}

func splitOnce(s, sep string) (string, string, bool) {
	idx := strings.Index(s, sep)
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], s[idx+1:], true
}
