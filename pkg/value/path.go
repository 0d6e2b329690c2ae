package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Lookup resolves a dotted path ("db.mysql.port") against root, descending
// through Map and Seq nodes (numeric segments index a Seq).
func Lookup(root *Value, path string) (*Value, error) {
	if path == "" {
		return root, nil
	}
	segments := strings.Split(path, ".")
	cur := root
	for i, seg := range segments {
		switch cur.Kind {
		case KindMap:
			next, ok := cur.Map.Get(seg)
			if !ok {
				return nil, fmt.Errorf("key %q not found (at %s)", seg, strings.Join(segments[:i+1], "."))
			}
			cur = next
		case KindSeq:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(cur.Seq) {
				return nil, fmt.Errorf("index %q out of range (at %s)", seg, strings.Join(segments[:i+1], "."))
			}
			cur = cur.Seq[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %s at %s", cur.Kind, strings.Join(segments[:i], "."))
		}
	}
	return cur, nil
}

// Set writes v at path under root, creating intermediate maps as needed.
// root must be a Map (or become one via in-place promotion when empty).
func Set(root *Value, path string, v *Value) error {
	if path == "" {
		return fmt.Errorf("cannot set the empty path")
	}
	segments := strings.Split(path, ".")
	cur := root
	for i, seg := range segments[:len(segments)-1] {
		if cur.Kind == KindMissing || cur.Kind == KindNull {
			cur.Kind = KindMap
			cur.Map = newMap()
		}
		if cur.Kind != KindMap {
			return fmt.Errorf("cannot descend into %s at %s", cur.Kind, strings.Join(segments[:i], "."))
		}
		next, ok := cur.Map.Get(seg)
		if !ok {
			next = NewMap()
			cur.Map.Set(seg, next)
		}
		cur = next
	}
	if cur.Kind == KindMissing || cur.Kind == KindNull {
		cur.Kind = KindMap
		cur.Map = newMap()
	}
	if cur.Kind != KindMap {
		return fmt.Errorf("cannot set %q: parent is %s, not a map", path, cur.Kind)
	}
	cur.Map.Set(segments[len(segments)-1], v)
	return nil
}

// Delete removes the value at path under root.
func Delete(root *Value, path string) error {
	if path == "" {
		return fmt.Errorf("cannot delete the empty path")
	}
	segments := strings.Split(path, ".")
	parentPath := strings.Join(segments[:len(segments)-1], ".")
	parent := root
	if parentPath != "" {
		var err error
		parent, err = Lookup(root, parentPath)
		if err != nil {
			return err
		}
	}
	if parent.Kind != KindMap {
		return fmt.Errorf("cannot delete %q: parent is %s, not a map", path, parent.Kind)
	}
	last := segments[len(segments)-1]
	if _, ok := parent.Map.Get(last); !ok {
		return fmt.Errorf("key %q not found", path)
	}
	parent.Map.Delete(last)
	return nil
}

// Walk visits every scalar or missing leaf in the tree, calling fn with its
// dotted path. Map keys are visited in insertion order; Seq elements by index.
func Walk(root *Value, fn func(path string, leaf *Value) error) error {
	return walk(root, "", fn)
}

func walk(v *Value, path string, fn func(string, *Value) error) error {
	switch v.Kind {
	case KindMap:
		for _, k := range v.Map.Keys() {
			child, _ := v.Map.Get(k)
			childPath := k
			if path != "" {
				childPath = path + "." + k
			}
			if err := walk(child, childPath, fn); err != nil {
				return err
			}
		}
		return nil
	case KindSeq:
		for i, child := range v.Seq {
			childPath := fmt.Sprintf("%s.%d", path, i)
			if path == "" {
				childPath = strconv.Itoa(i)
			}
			if err := walk(child, childPath, fn); err != nil {
				return err
			}
		}
		return nil
	default:
		return fn(path, v)
	}
}
