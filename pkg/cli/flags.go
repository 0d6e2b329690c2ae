package cli

import (
	"github.com/spf13/cobra"
)

// ComposeFlags is the flag surface of one composition invocation.
type ComposeFlags struct {
	// ConfigPaths are additional file:// search-path roots, highest first.
	ConfigPaths []string
	// ShowConfig requests printing the composed tree and exiting (--cfg).
	ShowConfig bool
	// Multirun expands sweep-valued overrides and composes every run.
	Multirun bool
	// SkipMissing drops unresolvable defaults entries instead of failing.
	SkipMissing bool
	// Timeout bounds the whole composition or multirun ("30s", "2m");
	// empty means no bound.
	Timeout string
}

// DefaultFlagManager is the standard FlagManager.
type DefaultFlagManager struct{}

// NewFlagManager returns the standard flag manager.
func NewFlagManager() FlagManager {
	return &DefaultFlagManager{}
}

// AddGlobalFlags adds the flags every command carries.
func (fm *DefaultFlagManager) AddGlobalFlags(cmd *cobra.Command) error {
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose diagnostic output")
	return nil
}

// AddComposeFlags binds the composition surface to target.
func (fm *DefaultFlagManager) AddComposeFlags(cmd *cobra.Command, target *ComposeFlags) error {
	cmd.Flags().StringSliceVar(&target.ConfigPaths, "config-path", nil,
		"additional file:// search path root (repeatable)")
	cmd.Flags().BoolVar(&target.ShowConfig, "cfg", false,
		"print the composed configuration and exit")
	cmd.Flags().BoolVarP(&target.Multirun, "multirun", "m", false,
		"expand sweep-valued overrides and compose every resulting run")
	cmd.Flags().BoolVar(&target.SkipMissing, "skip-missing", false,
		"silently drop defaults entries that cannot be resolved")
	cmd.Flags().StringVar(&target.Timeout, "timeout", "",
		"bound the composition or multirun (e.g. 30s, 2m)")
	return nil
}
