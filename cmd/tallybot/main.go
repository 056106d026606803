// Package main implements the tallybot command: the Discord daemon plus a
// few offline helpers for the calculator, the config file and the log.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/spf13/cobra"

	rootpkg "tools.zach/dev/tallybot"
	"tools.zach/dev/tallybot/internal/atomicfile"
	"tools.zach/dev/tallybot/internal/calc"
	"tools.zach/dev/tallybot/internal/config"
	"tools.zach/dev/tallybot/internal/logger"
	"tools.zach/dev/tallybot/internal/paths"
)

// ///////////////////////////////////////////////
// Version
// ///////////////////////////////////////////////

// version is set at build time via ldflags:
//   - goreleaser: -X main.version={{.Version}}  -> "0.1.0"
//   - make build: -X main.version=$(VERSION)    -> "0.0.0-dev+05ffee5"
//
// When ldflags are not set, resolveVersion falls back to the VCS info the Go
// toolchain embeds.
var version = "dev"

// resolveVersion returns the build version string. If [version] was set via
// ldflags it is returned as-is; otherwise the embedded VCS revision and dirty
// state produce a "dev+<hash>" tag.
func resolveVersion() string {
	if version != "dev" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return version
	}
	var revision string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if revision == "" {
		return version
	}
	hash := revision[:min(7, len(revision))]
	if dirty {
		return "dev+" + hash + ".dirty"
	}
	return "dev+" + hash
}

// defaultDataDir returns ~/.tallybot, or ./.tallybot when the home
// directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", paths.DataDirRel)
	}
	return filepath.Join(home, paths.DataDirRel)
}

// ///////////////////////////////////////////////
// Commands
// ///////////////////////////////////////////////

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dataDir string

	root := &cobra.Command{
		Use:           paths.BinaryName,
		Short:         "Discord calculator and work-session tracker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "data directory for config, credentials, and logs")

	root.AddCommand(newRunCmd(&dataDir))
	root.AddCommand(newCalcCmd())
	root.AddCommand(newConfigCmd(&dataDir))
	root.AddCommand(newLogsCmd(&dataDir))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and serve commands until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runDaemon(DataPaths{Root: *dataDir})
		},
	}
}

func newCalcCmd() *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "calc <expression>[,var=value...]",
		Short: "Evaluate an expression the way op> does",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !raw {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), calc.Reply(args[0]))
				return nil
			}
			v, err := calc.Evaluate(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), calc.Format(v))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print only the number and fail on errors")
	return cmd
}

func newConfigCmd(dataDir *string) *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Manage config.toml"}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the annotated default config if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dp := DataPaths{Root: *dataDir}
			if err := os.MkdirAll(dp.Root, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			written, err := atomicfile.WriteIfMissing(dp.Config(), rootpkg.DefaultConfigTOML, 0o644)
			if err != nil {
				return err
			}
			if !written {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", dp.Config())
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dp.Config())
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Validate config.toml and the credentials in .env",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dp := DataPaths{Root: *dataDir}
			cfg, err := config.Load(dp.Root)
			if err != nil {
				return err
			}
			creds, err := config.LoadCredentials(dp.Env())
			if err != nil {
				return err
			}
			if err := creds.Check(cfg.Store.Backend); err != nil {
				return fmt.Errorf("credentials: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "config ok (version %d, store %s, prefix %q)\n",
				cfg.Version, cfg.Store.Backend, cfg.Commands.Prefix)
			return nil
		},
	})
	return cfgCmd
}

func newLogsCmd(dataDir *string) *cobra.Command {
	var lines int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the end of the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, err := logger.ReadTail(DataPaths{Root: *dataDir}.Log(), lines)
			if errors.Is(err, os.ErrNotExist) {
				return errors.New("no log file yet; start the daemon with `tallybot run`")
			}
			if err != nil {
				return err
			}
			if out != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), resolveVersion())
			return nil
		},
	}
}
