package cli

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// DefaultVersionManager is the standard VersionManager.
type DefaultVersionManager struct{}

// NewVersionManager returns the standard version manager.
func NewVersionManager() VersionManager {
	return &DefaultVersionManager{}
}

// ResolveBuildInfo fills info's unset fields from the metadata the Go
// linker embeds in the binary: vcs.revision and vcs.time when the build
// wasn't stamped explicitly, and GOOS/GOARCH for the platform. Explicitly
// stamped fields win.
func ResolveBuildInfo(info BuildInfo) BuildInfo {
	if info.Platform == "" {
		info.Platform = runtime.GOOS + "/" + runtime.GOARCH
	}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, setting := range bi.Settings {
		switch setting.Key {
		case "vcs.revision":
			if info.Commit == "" || info.Commit == "unknown" {
				info.Commit = setting.Value
			}
		case "vcs.time":
			if info.Date == "" || info.Date == "unknown" {
				info.Date = setting.Value
			}
		}
	}
	return info
}

// FormatVersion renders build metadata on one line.
func (vm *DefaultVersionManager) FormatVersion(info BuildInfo) string {
	return fmt.Sprintf("%s (built %s, commit %s) [%s]", info.Version, info.Date, info.Commit, info.Platform)
}

// CreateVersionCommand builds the "version" subcommand, resolving any
// unstamped build fields from the binary itself.
func (vm *DefaultVersionManager) CreateVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Display version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), vm.FormatVersion(ResolveBuildInfo(info)))
		},
	}
}

// CreateVersionTemplate builds the template cobra renders for --version.
func (vm *DefaultVersionManager) CreateVersionTemplate(info BuildInfo) string {
	return "version " + vm.FormatVersion(ResolveBuildInfo(info)) + "\n"
}
