package defaults

import (
	"testing"

	"stratum/pkg/override"
	"stratum/pkg/repository"
	"stratum/pkg/source"
	"stratum/pkg/value"
)

func mapOf(pairs ...interface{}) *value.Value {
	m := value.NewMap()
	for i := 0; i < len(pairs); i += 2 {
		m.Map.Set(pairs[i].(string), pairs[i+1].(*value.Value))
	}
	return m
}

func seqOf(items ...*value.Value) *value.Value { return value.NewSeq(items...) }

func store(ss *source.StructuredSource, path string, root *value.Value, pkg string) {
	ss.Store(path, &value.Document{Root: root, Header: value.Header{Package: pkg}})
}

func newTestRepo() (*repository.Repository, *source.StructuredSource) {
	ss := source.NewStructuredSource()
	repo := repository.New()
	repo.Append(ss)
	return repo, ss
}

func TestResolveSimplePrimaryNoDefaults(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "config", mapOf("name", value.String("app")), "")

	results, patches, err := Resolve(repo, "config", nil, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(patches) != 0 {
		t.Fatalf("patches = %+v", patches)
	}
	if len(results) != 1 || !results[0].IsSelf || !results[0].Primary {
		t.Fatalf("results = %+v", results)
	}
}

func TestResolveDefaultsListDependencyFirstOrder(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "db")
	store(ss, "config", mapOf(
		"defaults", seqOf(value.String("db/mysql"), value.String("_self_")),
	), "")

	results, _, err := Resolve(repo, "config", nil, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].ConfigPath != "db/mysql" || results[0].Package != "db" {
		t.Fatalf("first = %+v", results[0])
	}
	if !results[1].IsSelf || !results[1].Primary {
		t.Fatalf("second = %+v", results[1])
	}
}

func TestResolveGroupDefaultEntry(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "db")
	store(ss, "db/postgresql", mapOf("driver", value.String("postgresql")), "db")
	store(ss, "config", mapOf(
		"defaults", seqOf(mapOf("db", value.String("mysql")), value.String("_self_")),
	), "")

	results, _, err := Resolve(repo, "config", nil, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(results) != 2 || results[0].ConfigPath != "db/mysql" {
		t.Fatalf("results = %+v", results)
	}
}

func TestResolveGroupOverrideSelectsDifferentOption(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "db")
	store(ss, "db/postgresql", mapOf("driver", value.String("postgresql")), "db")
	store(ss, "config", mapOf(
		"defaults", seqOf(mapOf("db", value.String("mysql")), value.String("_self_")),
	), "")

	ov, err := override.Parse("db=postgresql")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	results, _, err := Resolve(repo, "config", []*override.Override{ov}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if results[0].ConfigPath != "db/postgresql" {
		t.Fatalf("results = %+v", results)
	}
}

func TestResolveGroupDeleteOverride(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "db")
	store(ss, "config", mapOf(
		"defaults", seqOf(mapOf("db", value.String("mysql")), value.String("_self_")),
	), "")

	ov, err := override.Parse("~db")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	results, _, err := Resolve(repo, "config", []*override.Override{ov}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(results) != 1 || !results[0].IsSelf {
		t.Fatalf("results = %+v, want only _self_", results)
	}
}

func TestResolveExternalAppendFromSubfolder(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/postgresql", mapOf("driver", value.String("postgresql")), "db")
	store(ss, "experiment/config", mapOf(
		"defaults", seqOf(value.String("_self_")),
	), "")

	ov, err := override.Parse("+db=postgresql")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	results, _, err := Resolve(repo, "experiment/config", []*override.Override{ov}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	found := false
	for _, rd := range results {
		if rd.ConfigPath == "db/postgresql" && rd.ExternalAppend {
			found = true
		}
	}
	if !found {
		t.Fatalf("results = %+v, want an external-append of db/postgresql rooted at the repository root", results)
	}
}

func TestResolveDuplicateDefaultIsAnError(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "db")
	store(ss, "config", mapOf(
		"defaults", seqOf(value.String("db/mysql"), value.String("db/mysql"), value.String("_self_")),
	), "")

	_, _, err := Resolve(repo, "config", nil, Options{})
	if err == nil {
		t.Fatalf("expected a duplicate-default error")
	}
}

func TestResolveSkipMissingDropsUnresolvable(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "config", mapOf(
		"defaults", seqOf(value.String("db/does_not_exist"), value.String("_self_")),
	), "")

	results, _, err := Resolve(repo, "config", nil, Options{SkipMissing: true})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(results) != 1 || !results[0].IsSelf {
		t.Fatalf("results = %+v", results)
	}
}

func TestResolveWithoutSkipMissingErrors(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "config", mapOf(
		"defaults", seqOf(value.String("db/does_not_exist"), value.String("_self_")),
	), "")

	_, _, err := Resolve(repo, "config", nil, Options{})
	if err == nil {
		t.Fatalf("expected a missing-default error")
	}
}

func TestResolveCollectsPatchDirective(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "config", mapOf(
		"defaults", seqOf(
			value.String("_self_"),
			mapOf("_patch_", seqOf(value.String("db.port=5433"))),
		),
	), "")

	_, patches, err := Resolve(repo, "config", nil, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(patches) != 1 || len(patches[0].Overrides) != 1 || patches[0].Overrides[0] != "db.port=5433" {
		t.Fatalf("patches = %+v", patches)
	}
}

func TestResolveGroupDefaultDerivesPackage(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "")
	store(ss, "config", mapOf(
		"defaults", seqOf(mapOf("db", value.String("mysql")), value.String("_self_")),
	), "")

	results, _, err := Resolve(repo, "config", nil, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if results[0].Package != "db" {
		t.Fatalf("Package = %q, want the group-derived %q", results[0].Package, "db")
	}
}

func TestResolvePrimaryInSubfolderNestsPackages(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "")
	store(ss, "db/postgresql", mapOf("driver", value.String("postgresql")), "")
	store(ss, "server/alpha", mapOf(
		"defaults", seqOf(mapOf("/db", value.String("mysql")), value.String("_self_")),
		"name", value.String("alpha"),
	), "")

	ov, err := override.Parse("+db@db_2=postgresql")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	results, _, err := Resolve(repo, "server/alpha", []*override.Override{ov}, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	byPath := map[string]*ResultDefault{}
	for _, rd := range results {
		byPath[rd.ConfigPath+"@"+rd.Package] = rd
	}
	if _, ok := byPath["db/mysql@server.db"]; !ok {
		t.Fatalf("missing db/mysql at server.db: %+v", results)
	}
	if _, ok := byPath["server/alpha@server"]; !ok {
		t.Fatalf("missing primary at server: %+v", results)
	}
	appended, ok := byPath["db/postgresql@server.db_2"]
	if !ok || !appended.ExternalAppend {
		t.Fatalf("missing external append at server.db_2: %+v", results)
	}
}

func TestResolveExplicitSuffixBeatsHeader(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "backends.db")
	store(ss, "config", mapOf(
		"defaults", seqOf(value.String("db/mysql@override_pkg"), value.String("_self_")),
	), "")

	results, _, err := Resolve(repo, "config", nil, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if results[0].Package != "override_pkg" {
		t.Fatalf("Package = %q, want %q", results[0].Package, "override_pkg")
	}
}

func TestResolveRelativeParentPath(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "shared/common", mapOf("x", value.Int(1)), "_global_")
	store(ss, "server/alpha", mapOf(
		"defaults", seqOf(value.String("../shared/common"), value.String("_self_")),
	), "")

	results, _, err := Resolve(repo, "server/alpha", nil, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if results[0].ConfigPath != "shared/common" {
		t.Fatalf("ConfigPath = %q, want shared/common", results[0].ConfigPath)
	}
}

func TestResolveDuplicateAppendWithoutForceErrors(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "db/mysql", mapOf("driver", value.String("mysql")), "")
	store(ss, "config", mapOf(
		"defaults", seqOf(mapOf("db", value.String("mysql")), value.String("_self_")),
	), "")

	ov, err := override.Parse("+db=mysql")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, err := Resolve(repo, "config", []*override.Override{ov}, Options{}); err == nil {
		t.Fatal("appending an already-selected default without ++ should fail")
	}
}

func TestResolvePatchWithEmptyPackageErrors(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "config", mapOf(
		"defaults", seqOf(
			value.String("_self_"),
			mapOf("_patch_@", seqOf(value.String("x=1"))),
		),
	), "")

	_, _, err := Resolve(repo, "config", nil, Options{})
	if err == nil {
		t.Fatal("_patch_@ with an empty package must be an error")
	}
}

func TestNormalizePathIdempotentAndClamped(t *testing.T) {
	cases := map[string]string{
		"db/mysql":          "db/mysql",
		"/db/mysql":         "db/mysql",
		"a//b":              "a/b",
		"a/./b":             "a/b",
		"a/../b":            "b",
		"../../../escaped":  "escaped",
		"..":                "",
	}
	for input, want := range cases {
		got := normalizePath(input, "")
		if got != want {
			t.Errorf("normalizePath(%q) = %q, want %q", input, got, want)
		}
		if again := normalizePath(got, ""); again != got {
			t.Errorf("normalizePath not idempotent: %q -> %q -> %q", input, got, again)
		}
	}
	if got := normalizePath("../shared/x", "server"); got != "shared/x" {
		t.Errorf("relative join = %q, want shared/x", got)
	}
}

func TestResolveCycleDetection(t *testing.T) {
	repo, ss := newTestRepo()
	store(ss, "a", mapOf("defaults", seqOf(value.String("b"), value.String("_self_"))), "")
	store(ss, "b", mapOf("defaults", seqOf(value.String("a"), value.String("_self_"))), "")

	_, _, err := Resolve(repo, "a", nil, Options{})
	if err == nil {
		t.Fatalf("expected a cycle-detection error")
	}
}
