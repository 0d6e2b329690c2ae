package merge

import (
	"errors"
	"testing"

	"stratum/pkg/composeerr"
	"stratum/pkg/defaults"
	"stratum/pkg/override"
	"stratum/pkg/value"
)

func mapOf(pairs ...interface{}) *value.Value {
	m := value.NewMap()
	for i := 0; i < len(pairs); i += 2 {
		m.Map.Set(pairs[i].(string), pairs[i+1].(*value.Value))
	}
	return m
}

func mustParseAll(t *testing.T, overrides ...string) []*override.Override {
	t.Helper()
	out, err := override.ParseAll(overrides)
	if err != nil {
		t.Fatalf("ParseAll(%v): %v", overrides, err)
	}
	return out
}

func lookupInt(t *testing.T, root *value.Value, path string) int64 {
	t.Helper()
	v, err := value.Lookup(root, path)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", path, err)
	}
	if v.Kind != value.KindInt {
		t.Fatalf("Lookup(%s).Kind = %s", path, v.Kind)
	}
	return v.Int
}

func lookupStr(t *testing.T, root *value.Value, path string) string {
	t.Helper()
	v, err := value.Lookup(root, path)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", path, err)
	}
	s, err := v.AsString()
	if err != nil {
		t.Fatalf("Lookup(%s).AsString: %v", path, err)
	}
	return s
}

func TestMergeSimpleValueOverride(t *testing.T) {
	base := mapOf("db", mapOf("host", value.QuotedString("localhost", value.DoubleQuote), "port", value.Int(3306)))

	composed, err := Merge([]Layer{{Root: base}}, nil, mustParseAll(t, "db.port=5432"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := lookupInt(t, composed, "db.port"); got != 5432 {
		t.Fatalf("db.port = %d, want 5432", got)
	}
	if got := lookupStr(t, composed, "db.host"); got != "localhost" {
		t.Fatalf("db.host = %q", got)
	}
}

func TestMergeGraftsLayerAtPackage(t *testing.T) {
	root := mapOf("app_name", value.String("myapp"))
	db := mapOf("driver", value.String("mysql"), "port", value.Int(3306))

	composed, err := Merge([]Layer{{Root: db, Package: "db"}, {Root: root}}, nil, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := lookupStr(t, composed, "db.driver"); got != "mysql" {
		t.Fatalf("db.driver = %q", got)
	}
	if got := lookupStr(t, composed, "app_name"); got != "myapp" {
		t.Fatalf("app_name = %q", got)
	}
}

func TestMergeLaterLayerWins(t *testing.T) {
	a := mapOf("x", value.Int(1), "y", value.Int(2))
	b := mapOf("x", value.Int(10))

	composed, err := Merge([]Layer{{Root: a}, {Root: b}}, nil, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := lookupInt(t, composed, "x"); got != 10 {
		t.Fatalf("x = %d, want 10", got)
	}
	if got := lookupInt(t, composed, "y"); got != 2 {
		t.Fatalf("y = %d, want 2", got)
	}
}

func TestMergeSequenceReplacesWholesale(t *testing.T) {
	a := mapOf("tags", value.NewSeq(value.String("one"), value.String("two")))
	b := mapOf("tags", value.NewSeq(value.String("three")))

	composed, err := Merge([]Layer{{Root: a}, {Root: b}}, nil, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	tags, _ := value.Lookup(composed, "tags")
	if len(tags.Seq) != 1 || tags.Seq[0].Str != "three" {
		t.Fatalf("tags = %+v", tags.Seq)
	}
}

func TestMergeDisjointKeysAssociative(t *testing.T) {
	a := mapOf("a", value.Int(1))
	b := mapOf("b", value.Int(2))
	c := mapOf("c", value.Int(3))

	left, err := Merge([]Layer{{Root: a}, {Root: b}, {Root: c}}, nil, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, err := value.Lookup(left, k); err != nil {
			t.Fatalf("missing %q after merge", k)
		}
	}
}

func TestMergeListMutations(t *testing.T) {
	base := mapOf("tags", value.NewSeq(value.String("one"), value.String("two"), value.String("three")))

	composed, err := Merge([]Layer{{Root: base}}, nil, mustParseAll(t,
		"tags=remove_value(two)",
		"tags=append(four)",
	))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	tags, _ := value.Lookup(composed, "tags")
	var got []string
	for _, v := range tags.Seq {
		got = append(got, v.Str)
	}
	want := []string{"one", "three", "four"}
	if len(got) != len(want) {
		t.Fatalf("tags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tags = %v, want %v", got, want)
		}
	}
}

func TestMergeRemoveValueThenAppendMovesValueToEnd(t *testing.T) {
	base := mapOf("xs", value.NewSeq(value.String("a"), value.String("b"), value.String("c")))

	composed, err := Merge([]Layer{{Root: base}}, nil, mustParseAll(t,
		"xs=remove_value(b)",
		"xs=append(b)",
	))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	xs, _ := value.Lookup(composed, "xs")
	if len(xs.Seq) != 3 {
		t.Fatalf("len(xs) = %d", len(xs.Seq))
	}
	if xs.Seq[0].Str != "a" || xs.Seq[1].Str != "c" || xs.Seq[2].Str != "b" {
		t.Fatalf("xs = %+v, want [a c b]", xs.Seq)
	}
}

func TestMergeListMutationOnNonSequence(t *testing.T) {
	base := mapOf("x", value.Int(1))
	_, err := Merge([]Layer{{Root: base}}, nil, mustParseAll(t, "x=append(2)"))
	var ve *composeerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
}

func TestMergeAddSemantics(t *testing.T) {
	base := mapOf("x", value.Int(1))

	if _, err := Merge([]Layer{{Root: base.Clone()}}, nil, mustParseAll(t, "+x=2")); err == nil {
		t.Fatal("Add of an existing key should fail")
	}
	composed, err := Merge([]Layer{{Root: base.Clone()}}, nil, mustParseAll(t, "+y=2"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := lookupInt(t, composed, "y"); got != 2 {
		t.Fatalf("y = %d", got)
	}
}

func TestMergeDelSemantics(t *testing.T) {
	base := mapOf("x", value.Int(1))

	composed, err := Merge([]Layer{{Root: base.Clone()}}, nil, mustParseAll(t, "~x"))
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := value.Lookup(composed, "x"); err == nil {
		t.Fatal("x should be gone")
	}

	_, err = Merge([]Layer{{Root: base.Clone()}}, nil, mustParseAll(t, "~nope"))
	var ce *composeerr.ConfigCompositionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigCompositionError", err)
	}
}

func TestMergeChangeOfUnknownKeyFails(t *testing.T) {
	_, err := Merge([]Layer{{Root: mapOf("x", value.Int(1))}}, nil, mustParseAll(t, "nope=2"))
	if err == nil {
		t.Fatal("Change of a nonexistent key should fail")
	}
}

func TestMergePatchQualifiesBareKeys(t *testing.T) {
	lib := mapOf(
		"alpha", value.Int(1),
		"beta", value.Int(2),
		"gamma", value.Int(3),
		"tags", value.NewSeq(value.String("old"), value.String("current"), value.String("experimental")),
	)

	patches := []defaults.Patch{
		{Package: "lib", Overrides: []string{"~beta", "tags=remove_value(old)"}},
		{Package: "lib", Overrides: []string{"~gamma", "tags=remove_value(experimental)"}},
	}
	composed, err := Merge([]Layer{{Root: lib, Package: "lib"}}, patches, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := lookupInt(t, composed, "lib.alpha"); got != 1 {
		t.Fatalf("lib.alpha = %d", got)
	}
	for _, gone := range []string{"lib.beta", "lib.gamma"} {
		if _, err := value.Lookup(composed, gone); err == nil {
			t.Fatalf("%s should be gone", gone)
		}
	}
	tags, _ := value.Lookup(composed, "lib.tags")
	if len(tags.Seq) != 1 || tags.Seq[0].Str != "current" {
		t.Fatalf("lib.tags = %+v", tags.Seq)
	}
}

func TestMergePatchGlobalEscape(t *testing.T) {
	base := mapOf("top", value.Int(1), "lib", mapOf("x", value.Int(2)))

	composed, err := Merge([]Layer{{Root: base}}, []defaults.Patch{
		{Package: "lib", Overrides: []string{"~_global_.top"}},
	}, nil)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := value.Lookup(composed, "top"); err == nil {
		t.Fatal("top should be gone")
	}
	if got := lookupInt(t, composed, "lib.x"); got != 2 {
		t.Fatalf("lib.x = %d", got)
	}
}

func TestMergePatchRejectsSweep(t *testing.T) {
	_, err := Merge([]Layer{{Root: mapOf("x", value.Int(1))}}, []defaults.Patch{
		{Package: "", Overrides: []string{"x=1,2,3"}},
	}, nil)
	var ce *composeerr.ConfigCompositionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want ConfigCompositionError", err)
	}
}

func TestResolveInterpolationPathReference(t *testing.T) {
	root := mapOf(
		"host", value.String("localhost"),
		"url", value.String("http://${host}:8080"),
	)
	if err := ResolveInterpolations(root); err != nil {
		t.Fatalf("ResolveInterpolations: %v", err)
	}
	if got := lookupStr(t, root, "url"); got != "http://localhost:8080" {
		t.Fatalf("url = %q", got)
	}
}

func TestResolveInterpolationNested(t *testing.T) {
	root := mapOf(
		"a", value.String("${b}"),
		"b", value.String("${c}"),
		"c", value.String("deep"),
	)
	if err := ResolveInterpolations(root); err != nil {
		t.Fatalf("ResolveInterpolations: %v", err)
	}
	if got := lookupStr(t, root, "a"); got != "deep" {
		t.Fatalf("a = %q", got)
	}
}

func TestResolveInterpolationEnvDefault(t *testing.T) {
	t.Setenv("STRATUM_TEST_SET", "alice")
	root := mapOf(
		"greeting", value.String("hi ${oc.env:STRATUM_TEST_UNSET_VAR,world}"),
		"name", value.String("${oc.env:STRATUM_TEST_SET}"),
	)
	if err := ResolveInterpolations(root); err != nil {
		t.Fatalf("ResolveInterpolations: %v", err)
	}
	if got := lookupStr(t, root, "greeting"); got != "hi world" {
		t.Fatalf("greeting = %q", got)
	}
	if got := lookupStr(t, root, "name"); got != "alice" {
		t.Fatalf("name = %q", got)
	}
}

func TestResolveInterpolationEnvMissingNoDefault(t *testing.T) {
	root := mapOf("x", value.String("${oc.env:STRATUM_DEFINITELY_UNSET}"))
	err := ResolveInterpolations(root)
	var ie *composeerr.InterpolationError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InterpolationError", err)
	}
	if ie.FullKey != "x" {
		t.Fatalf("FullKey = %q, want x", ie.FullKey)
	}
}

func TestResolveInterpolationCycleFails(t *testing.T) {
	root := mapOf(
		"a", value.String("${b}"),
		"b", value.String("${a}"),
	)
	err := ResolveInterpolations(root)
	var ie *composeerr.InterpolationError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want InterpolationError", err)
	}
}

func TestResolveInterpolationMissingLeaf(t *testing.T) {
	root := mapOf(
		"req", value.Missing(),
		"x", value.String("${req}"),
	)
	err := ResolveInterpolations(root)
	var mv *composeerr.MissingMandatoryValue
	if !errors.As(err, &mv) {
		t.Fatalf("err = %v, want MissingMandatoryValue", err)
	}
}
