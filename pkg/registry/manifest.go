package registry

import (
	"os"

	"github.com/BurntSushi/toml"

	"stratum/pkg/composeerr"
	"stratum/pkg/searchpath"
)

// Manifest is the static plugin-discovery surface: a deployment can extend
// the search path and activate launchers without a code change by dropping
// a plugins.toml into the working directory the stratum CLI runs in. "[[source]]" tables contribute
// search-path roots; "[[launcher]]" tables name compiled-in launcher
// constructors to register.
type Manifest struct {
	Source   []SourceEntry   `toml:"source"`
	Launcher []LauncherEntry `toml:"launcher"`
}

// SourceEntry is one "[[source]]" table: a search-path contribution plus
// its scheme, so ApplyManifest can distinguish a "file://" root from a
// "pkg://" one without guessing from the path shape.
type SourceEntry struct {
	Provider string `toml:"provider"`
	Scheme   string `toml:"scheme"`
	Path     string `toml:"path"`
	// Prepend requests highest precedence instead of the default append.
	Prepend bool `toml:"prepend"`
}

// LauncherEntry is one "[[launcher]]" table: the fully-qualified name of a
// launcher constructor to register. The constructor itself must be compiled
// into the binary and listed in the table handed to RegisterLaunchers; the
// manifest only selects which of them become active.
type LauncherEntry struct {
	Provider    string `toml:"provider"`
	Constructor string `toml:"constructor"`
}

// LoadManifest decodes a plugins.toml file at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ApplyManifest appends (or prepends) every source entry in m onto sp.
func ApplyManifest(m *Manifest, sp *searchpath.SearchPath) {
	for _, entry := range m.Source {
		if entry.Prepend {
			sp.Prepend(entry.Provider, entry.Scheme+"://"+entry.Path)
			continue
		}
		sp.Append(entry.Provider, entry.Scheme+"://"+entry.Path)
	}
}

// RegisterLaunchers registers every "[[launcher]]" entry in m with reg,
// resolving each constructor name against constructors, the table of
// factories the binary's linked-in launcher packages expose. A constructor
// the binary does not carry is a PluginError naming the entry, and the
// registry's namespace policy still applies to every name.
func RegisterLaunchers(m *Manifest, reg *Registry, constructors map[string]Factory) error {
	for _, entry := range m.Launcher {
		factory, ok := constructors[entry.Constructor]
		if !ok {
			return &composeerr.PluginError{
				Plugin:  entry.Constructor,
				Message: "manifest names a launcher constructor this binary does not carry",
			}
		}
		if err := reg.Register(entry.Constructor, LauncherPlugin, factory); err != nil {
			return err
		}
	}
	return nil
}
