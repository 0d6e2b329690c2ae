package registry

import (
	"fmt"
	"strings"
	"sync"

	"stratum/pkg/composeerr"
)

// Category is a plugin's declared capability, the axis registrations are
// discovered and listed by.
type Category int

const (
	ConfigSourcePlugin Category = iota
	LauncherPlugin
	SweeperPlugin
	SearchPathPlugin
	CompletionPlugin
)

func (c Category) String() string {
	switch c {
	case ConfigSourcePlugin:
		return "ConfigSource"
	case LauncherPlugin:
		return "Launcher"
	case SweeperPlugin:
		return "Sweeper"
	case SearchPathPlugin:
		return "SearchPathPlugin"
	case CompletionPlugin:
		return "CompletionPlugin"
	default:
		return "Unknown"
	}
}

// Factory constructs a plugin instance given an opaque config value; the
// config's shape is specific to the plugin.
type Factory func(config any) (any, error)

// registration is one entry registered under a fully-qualified name.
type registration struct {
	category Category
	pkg      string // the fully-qualified name the entry was registered under
	factory  Factory
}

// approvedNamespace reports whether fqName's leading path segment is the
// built-in core_plugins namespace or ends in "_plugins", the only two
// namespace shapes plugins may register under.
func approvedNamespace(fqName string) bool {
	root := fqName
	if idx := strings.Index(fqName, "."); idx >= 0 {
		root = fqName[:idx]
	}
	return root == "core_plugins" || strings.HasSuffix(root, "_plugins")
}

// state is the Registry's reload/snapshot-able data: every registration plus
// the phase it's in.
type state struct {
	phase         Phase
	registrations map[string]registration
}

func cloneState(s state) state {
	out := state{phase: s.phase, registrations: make(map[string]registration, len(s.registrations))}
	for k, v := range s.registrations {
		out.registrations[k] = v
	}
	return out
}

// Phase is the registry's lifecycle state machine: Uninitialized →
// Scanning → Ready. register() may only run while Ready.
type Phase int

const (
	Uninitialized Phase = iota
	Scanning
	Ready
)

// Registry is the process-wide plugin registry. Use
// NewRegistry for an independent instance (tests), or Global for the
// process singleton.
type Registry struct {
	singleton *Singleton[state]
	mu        sync.Mutex
}

// NewRegistry returns an empty, Uninitialized Registry.
func NewRegistry() *Registry {
	return &Registry{singleton: NewSingleton(state{phase: Uninitialized, registrations: map[string]registration{}}, cloneState)}
}

// global is the process-wide Registry instance other packages reach for by
// default; individual compositions may construct their own via NewRegistry
// instead when isolation matters more than convenience.
var global = NewRegistry()

// Global returns the process-wide Registry singleton.
func Global() *Registry { return global }

// BeginScan transitions the registry from Uninitialized to Scanning. Callers
// perform their package-scan / entry-point walk between BeginScan and
// FinishScan.
func (r *Registry) BeginScan() {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.singleton.Get()
	if s.phase == Uninitialized {
		s.phase = Scanning
		r.singleton.Set(s)
	}
}

// FinishScan transitions Scanning → Ready, after which Register calls
// succeed.
func (r *Registry) FinishScan() {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.singleton.Get()
	s.phase = Ready
	r.singleton.Set(s)
}

// Register records factory under fqName in category. fqName must live
// under an approved top-level namespace (core_plugins, or a "*_plugins"
// package); unqualified or foreign names are refused with a PluginError,
// and Register itself may only run once the registry is Ready.
func (r *Registry) Register(fqName string, category Category, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.singleton.Get()
	if s.phase != Ready {
		return &composeerr.PluginError{Plugin: fqName, Message: "register() called before the registry finished scanning"}
	}
	if !approvedNamespace(fqName) {
		return &composeerr.PluginError{Plugin: fqName, Message: "plugin name is not under an approved namespace (core_plugins or *_plugins)"}
	}
	s.registrations[fqName] = registration{category: category, pkg: fqName, factory: factory}
	r.singleton.Set(s)
	return nil
}

// Instantiate constructs the plugin registered as fqName, passing config
// through to its Factory. Refuses to instantiate a name that was never
// registered or that falls outside an approved namespace, even if it's
// present in the map (defense in depth against a caller bypassing Register).
func (r *Registry) Instantiate(fqName string, config any) (any, error) {
	if !approvedNamespace(fqName) {
		return nil, &composeerr.PluginError{Plugin: fqName, Message: "refusing to instantiate a plugin outside an approved namespace"}
	}
	s := r.singleton.Get()
	reg, ok := s.registrations[fqName]
	if !ok {
		return nil, &composeerr.PluginError{Plugin: fqName, Message: "no plugin registered under this name"}
	}
	out, err := reg.factory(config)
	if err != nil {
		return nil, &composeerr.PluginError{Plugin: fqName, Message: "constructor failed", Err: err}
	}
	return out, nil
}

// ByCategory returns the fully-qualified names of every plugin registered
// under category, for discovery/listing commands.
func (r *Registry) ByCategory(category Category) []string {
	s := r.singleton.Get()
	var out []string
	for name, reg := range s.registrations {
		if reg.category == category {
			out = append(out, name)
		}
	}
	return out
}

// Phase reports the registry's current lifecycle phase.
func (r *Registry) Phase() Phase {
	return r.singleton.Get().phase
}

// Snapshot captures the registry's current state for later Restore, the
// test-isolation hook every process-wide registry here exposes.
func (r *Registry) Snapshot() any {
	return r.singleton.Get()
}

// Restore replaces the registry's state with a value previously returned by
// Snapshot.
func (r *Registry) Restore(snapshot any) error {
	s, ok := snapshot.(state)
	if !ok {
		return fmt.Errorf("registry: snapshot is not a registry state")
	}
	r.singleton.Set(s)
	return nil
}
