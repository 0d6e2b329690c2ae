// Command stratum is the configuration composition engine's CLI: it takes a
// primary config name and a list of overrides in the grammar pkg/override
// implements, and composes the effective configuration. A plain run is
// silent, --cfg prints the composed tree, and --multirun composes every
// sweep-expanded run, printing each run's overrides (and, with --cfg, its
// composed tree).
//
// Copyright (c) 2024 BkpDir Contributors
// Licensed under the MIT License
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stratum/pkg/cli"
	"stratum/pkg/compose"
	"stratum/pkg/registry"
	"stratum/pkg/repository"
	"stratum/pkg/searchpath"
	"stratum/pkg/source"
	"stratum/pkg/sweep"
)

var buildInfo = cli.ResolveBuildInfo(cli.BuildInfo{Version: "0.1.0"})

// launcherConstructors is the table of launcher factories compiled into this
// binary; a plugins.toml "[[launcher]]" entry selects which become active.
var launcherConstructors = map[string]registry.Factory{}

func main() {
	cm := cli.NewContextManager()
	ctx, cancel := cm.Create(context.Background())
	cm.CancelOnSignal(cancel)

	reg := registry.Global()
	reg.BeginScan()
	reg.FinishScan()
	if m, err := registry.LoadManifest("plugins.toml"); err == nil {
		if err := registry.RegisterLaunchers(m, reg, launcherConstructors); err != nil {
			// A bad manifest entry is a warning, never a composition failure.
			fmt.Fprintln(os.Stderr, "plugins.toml:", err)
		}
	}

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags cli.ComposeFlags
	versions := cli.NewVersionManager()

	root := &cobra.Command{
		Use:     "stratum <primary-config> [override ...]",
		Short:   "Compose a layered configuration from a defaults list and command-line overrides",
		Long:    "stratum composes an effective configuration tree from named configuration\ndocuments, subject to a defaults list and a command-line override grammar.",
		Version: versions.FormatVersion(buildInfo),
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			primary := args[0]
			overrideStrings := args[1:]

			runCtx := cmd.Context()
			if flags.Timeout != "" {
				bounded, cancel, err := cli.NewContextManager().WithDeadline(runCtx, flags.Timeout)
				if err != nil {
					return err
				}
				defer cancel()
				runCtx = bounded
			}

			repo := buildRepository(flags.ConfigPaths)
			opts := compose.Options{SkipMissing: flags.SkipMissing}
			cmdCtx := cli.CommandContext{Context: runCtx, Output: cmd.OutOrStdout(), ErrorOutput: cmd.ErrOrStderr()}

			if flags.Multirun {
				return runMultirun(cmdCtx, repo, primary, overrideStrings, opts, flags.ShowConfig)
			}

			composed, err := compose.Compose(repo, primary, overrideStrings, opts)
			if err != nil {
				return err
			}
			// Without --cfg a successful composition is silent: exit code 0
			// is the result. --cfg prints the composed tree.
			if flags.ShowConfig {
				return cli.NewInspector().WriteTree(cmdCtx, composed)
			}
			return nil
		},
	}
	root.SetVersionTemplate(versions.CreateVersionTemplate(buildInfo))

	fm := cli.NewFlagManager()
	if err := fm.AddGlobalFlags(root); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if err := fm.AddComposeFlags(root, &flags); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	root.AddCommand(versions.CreateVersionCommand(buildInfo))
	return root
}

// buildRepository assembles a search path from the working directory's
// "conf" tree, any --config-path roots, and an optional plugins.toml
// manifest, then a Repository that resolves against it in order (first
// match wins).
func buildRepository(extraPaths []string) *repository.Repository {
	sp := searchpath.New()
	sp.Append("main", "file://conf")
	for i, p := range extraPaths {
		sp.Append(fmt.Sprintf("config-path-%d", i), "file://"+p)
	}
	if m, err := registry.LoadManifest("plugins.toml"); err == nil {
		registry.ApplyManifest(m, sp)
	}

	repo := repository.New()
	for _, entry := range sp.Entries() {
		switch {
		case strings.HasPrefix(entry.Path, "file://"):
			repo.Append(source.NewFileSource(strings.TrimPrefix(entry.Path, "file://")))
		case strings.HasPrefix(entry.Path, "pkg://"):
			repo.Append(source.NewPkgSource(entry.Provider, strings.TrimPrefix(entry.Path, "pkg://")))
		}
	}
	// Configs registered in-process resolve after every on-disk root.
	repo.Append(source.DefaultStore())
	return repo
}

// runMultirun composes every sweep-expanded run, always reporting each run's
// overrides; the composed trees themselves print only under --cfg.
func runMultirun(ctx cli.CommandContext, repo *repository.Repository, primary string, overrideStrings []string, opts compose.Options, showConfig bool) error {
	expander := sweep.NewExpander(repo, time.Now().UnixNano())
	runs, err := compose.RunMultirun(ctx.Context, repo, primary, expander, overrideStrings, opts)
	if err != nil {
		return err
	}
	inspector := cli.NewInspector()
	for i, run := range runs {
		if run.Err != nil {
			return fmt.Errorf("run %d (%s): %w", i, strings.Join(run.Overrides, " "), run.Err)
		}
		if showConfig {
			if err := inspector.WriteRun(ctx, i, run.Overrides, run.Value); err != nil {
				return err
			}
			continue
		}
		if _, err := fmt.Fprintf(ctx.Output, "[run %d] %s\n", i, strings.Join(run.Overrides, " ")); err != nil {
			return err
		}
	}
	return nil
}
