package sweep

import (
	"reflect"
	"sort"
	"testing"

	"stratum/pkg/override"
)

// fakeLister satisfies GroupLister with a fixed option list per group.
type fakeLister map[string][]string

func (f fakeLister) List(groupPath string) ([]string, error) {
	return f[groupPath], nil
}

func mustParseAll(t *testing.T, overrides ...string) []*override.Override {
	t.Helper()
	out, err := override.ParseAll(overrides)
	if err != nil {
		t.Fatalf("ParseAll(%v): %v", overrides, err)
	}
	return out
}

func TestExpandNoSweepsSingleRun(t *testing.T) {
	e := NewExpander(fakeLister{}, 1)
	combos, err := e.Expand(mustParseAll(t, "db.port=5432", "+app=web"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combos) != 1 {
		t.Fatalf("len(combos) = %d, want 1", len(combos))
	}
	if !reflect.DeepEqual(combos[0], []string{"db.port=5432", "+app=web"}) {
		t.Fatalf("combos[0] = %v", combos[0])
	}
}

func TestExpandCartesianProduct(t *testing.T) {
	e := NewExpander(fakeLister{}, 1)
	combos, err := e.Expand(mustParseAll(t, "db=mysql,postgres", "port=3306,5432"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combos) != 4 {
		t.Fatalf("len(combos) = %d, want 4", len(combos))
	}
	seen := map[string]bool{}
	for _, combo := range combos {
		if len(combo) != 2 {
			t.Fatalf("combo = %v, want 2 entries", combo)
		}
		key := combo[0] + "|" + combo[1]
		if seen[key] {
			t.Fatalf("duplicate combo %v", combo)
		}
		seen[key] = true
	}
	if !seen["db=mysql|port=3306"] || !seen["db=postgres|port=5432"] {
		t.Fatalf("combos = %v", combos)
	}
}

func TestExpandChoiceFunction(t *testing.T) {
	e := NewExpander(fakeLister{}, 1)
	combos, err := e.Expand(mustParseAll(t, "model=choice(resnet,vgg)"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combos) != 2 {
		t.Fatalf("len(combos) = %d, want 2", len(combos))
	}
}

func TestExpandRangeSweep(t *testing.T) {
	e := NewExpander(fakeLister{}, 1)
	combos, err := e.Expand(mustParseAll(t, "lr=range(0,10,2)"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	var got []string
	for _, combo := range combos {
		got = append(got, combo[0])
	}
	want := []string{"lr=0", "lr=2", "lr=4", "lr=6", "lr=8"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandDescendingRange(t *testing.T) {
	e := NewExpander(fakeLister{}, 1)
	combos, err := e.Expand(mustParseAll(t, "n=range(3,0,-1)"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combos) != 3 || combos[0][0] != "n=3" {
		t.Fatalf("combos = %v", combos)
	}
}

func TestExpandGlobConsultsRepository(t *testing.T) {
	lister := fakeLister{"db": {"mysql", "postgresql", "sqlite"}}
	e := NewExpander(lister, 1)
	combos, err := e.Expand(mustParseAll(t, "db=glob([*sql],exclude=[postgresql])"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	var got []string
	for _, combo := range combos {
		got = append(got, combo[0])
	}
	sort.Strings(got)
	want := []string{"db=mysql"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExpandGlobDictForm(t *testing.T) {
	lister := fakeLister{"db": {"mysql", "postgresql"}}
	e := NewExpander(lister, 1)
	combos, err := e.Expand(mustParseAll(t, "db={_type:glob,include:[my*]}"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combos) != 1 || combos[0][0] != "db=mysql" {
		t.Fatalf("combos = %v", combos)
	}
}

func TestExpandIntervalPassesThrough(t *testing.T) {
	e := NewExpander(fakeLister{}, 1)
	combos, err := e.Expand(mustParseAll(t, "lr=interval(0,1)", "db=mysql,postgres"))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if len(combos) != 2 {
		t.Fatalf("len(combos) = %d, want 2 (interval must not multiply)", len(combos))
	}
	for _, combo := range combos {
		found := false
		for _, s := range combo {
			if s == "lr=interval(0,1)" {
				found = true
			}
		}
		if !found {
			t.Fatalf("interval override missing from combo %v", combo)
		}
	}
}

func TestExpandShuffleIsSeedDeterministic(t *testing.T) {
	overrides := "xs=shuffle(choice(a,b,c,d,e,f))"
	first, err := NewExpander(fakeLister{}, 42).Expand(mustParseAll(t, overrides))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	second, err := NewExpander(fakeLister{}, 42).Expand(mustParseAll(t, overrides))
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("same seed produced different orders:\n%v\n%v", first, second)
	}
	if len(first) != 6 {
		t.Fatalf("len = %d, want 6", len(first))
	}
}

func TestHasSweep(t *testing.T) {
	if HasSweep(mustParseAll(t, "a=1", "b=2")) {
		t.Fatal("no sweep expected")
	}
	if !HasSweep(mustParseAll(t, "a=1", "b=1,2")) {
		t.Fatal("simple choice is a sweep")
	}
}
