// Package cli provides the command-line plumbing the stratum binary is
// assembled from: build metadata, flag registration for the composition
// surface, context lifecycle with signal handling, version display, and the
// --cfg inspection writer.
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"
)

// BuildInfo carries version and build-time metadata for the binary.
type BuildInfo struct {
	// Version is the release version, e.g. "0.1.0".
	Version string
	// Date is the compilation date.
	Date string
	// Commit is the Git commit hash the binary was built from.
	Commit string
	// Platform is "GOOS/GOARCH".
	Platform string
}

// AppInfo is the application metadata the root command is built from.
type AppInfo struct {
	Name  string
	Short string
	Long  string
	Build BuildInfo
}

// CommandContext bundles the per-invocation dependencies a command handler
// needs: the cancellable context and the output streams.
type CommandContext struct {
	Context     context.Context
	Output      io.Writer
	ErrorOutput io.Writer
}

// FlagManager registers the composition CLI's flags with consistent names.
type FlagManager interface {
	// AddGlobalFlags adds flags every command carries.
	AddGlobalFlags(cmd *cobra.Command) error
	// AddComposeFlags binds the composition surface (--config-path, --cfg,
	// --multirun, --skip-missing) to target.
	AddComposeFlags(cmd *cobra.Command, target *ComposeFlags) error
}

// ContextManager derives the contexts compositions run under.
type ContextManager interface {
	// Create derives a cancellable context from parent.
	Create(parent context.Context) (context.Context, context.CancelFunc)
	// WithDeadline applies the --timeout flag value; an unparsable
	// duration is an error rather than a silently unbounded run.
	WithDeadline(parent context.Context, timeout string) (context.Context, context.CancelFunc, error)
	// CancelOnSignal cancels the context on the first SIGINT/SIGTERM and
	// force-exits the process on a second.
	CancelOnSignal(cancel context.CancelFunc)
}

// VersionManager formats build metadata for display.
type VersionManager interface {
	FormatVersion(info BuildInfo) string
	CreateVersionCommand(info BuildInfo) *cobra.Command
	CreateVersionTemplate(info BuildInfo) string
}
