// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the root command, loads the agent settings and builds the
// lifecycle controller shared by the subcommands.

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/toeirei/minarca/buildvars"
	"github.com/toeirei/minarca/internal/config"
	"github.com/toeirei/minarca/internal/core"
	"github.com/toeirei/minarca/internal/engine"
	"github.com/toeirei/minarca/internal/logging"
	"github.com/toeirei/minarca/internal/platform"
	"github.com/toeirei/minarca/internal/remote"
	"github.com/toeirei/minarca/internal/scheduler"
	"golang.org/x/term"
)

var version = "dev"   // this will be set by the linker
var gitCommit = "dev" // set at build time with the short commit SHA
var buildDate = ""    // set at build time (RFC3339)

// Collaborator factories. Tests replace them.
var (
	currentPlatform = platform.Current
	newScheduler    = scheduler.New
	newEngine       = func(p platform.Platform, cfg config.Config) core.BackupEngine {
		return engine.New(p, engine.Options{Command: cfg.Engine.Command, SSHCommand: cfg.Engine.SSHCommand})
	}
	dialRemote = func(ctx context.Context, opts remote.Options) (core.Client, error) {
		c, err := remote.Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	keygen         core.KeyGenerator
	writeClipboard = clipboard.WriteAll
	isTerminal     = term.IsTerminal
	readPassword   = term.ReadPassword
)

// app holds the state shared by the subcommands of one invocation.
type app struct {
	configFile string
	verbose    bool

	cfg      config.Config
	platform platform.Platform
	ctl      *core.Controller
}

// Execute runs the CLI entrypoint and returns the process exit code. Errors
// are reported on stderr.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error: "+ExitMessage(err))
		return ExitCode(err)
	}
	return 0
}

// NewRootCmd creates and configures a new root cobra command. Tests call it
// once per case for isolation.
func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "minarca",
		Short: "Minarca backup agent.",
		Long: `Minarca links this computer to a backup server, keeps the
identity and the backup selection in its configuration directory and runs
rdiff-backup on schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	cmd.Version = compositeVersion()

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "settings file (default is the user minarca.yaml)")
	cmd.PersistentFlags().String("config-dir", "", "backup configuration directory")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-file", "", "write the log to this file")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug output")

	cmd.AddCommand(
		newStatusCmd(a),
		newLinkCmd(a),
		newUnlinkCmd(a),
		newDefaultConfigCmd(a),
		newTestServerCmd(a),
		newBackupCmd(a),
		newIdentityCmd(a),
		newPatternsCmd(a),
		newBundleCmd(a),
		newSettingsCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	path, err := getConfigPathFromCli(cmd)
	if err != nil {
		return err
	}
	a.cfg, err = config.LoadConfig[config.Config](cmd, config.Defaults(), path)
	if err != nil {
		return fmt.Errorf("error loading settings: %w", err)
	}
	level := a.cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	if err := logging.Setup(logging.Options{Level: level, File: a.cfg.Log.File}); err != nil {
		return err
	}
	a.platform = currentPlatform()
	return nil
}

// getConfigPathFromCli returns the --config value when the user set it.
func getConfigPathFromCli(cmd *cobra.Command) (*string, error) {
	if !cmd.Flags().Changed("config") {
		return nil, nil
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("could not read --config flag: %w", err)
	}
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("settings file specified via --config flag not found or is not accessible: %w", err)
	}
	return &path, nil
}

func (a *app) configDir() (string, error) {
	if a.cfg.ConfigDir != "" {
		return a.cfg.ConfigDir, nil
	}
	return a.platform.ConfigDir()
}

// remoteAddress is the host recorded on link; a non default port is kept
// in it.
func (a *app) remoteAddress() string {
	host := a.cfg.Remote.Host
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if a.cfg.Remote.Port != 0 && a.cfg.Remote.Port != remote.DefaultPort {
		return net.JoinHostPort(host, strconv.Itoa(a.cfg.Remote.Port))
	}
	return host
}

// schedulerOptions describes the scheduled run. The configuration
// directory and the settings file given on this invocation are carried
// over so the unattended backup reads the same configuration.
func (a *app) schedulerOptions() (scheduler.Options, error) {
	interval, err := scheduler.ParseInterval(a.cfg.Schedule.Interval)
	if err != nil {
		return scheduler.Options{}, err
	}
	exe, err := os.Executable()
	if err != nil {
		return scheduler.Options{}, fmt.Errorf("could not locate the minarca executable: %w", err)
	}
	opts := scheduler.Options{Executable: exe, Interval: interval}
	if a.cfg.ConfigDir != "" {
		if opts.ConfigDir, err = filepath.Abs(a.cfg.ConfigDir); err != nil {
			return scheduler.Options{}, err
		}
	}
	if a.configFile != "" {
		if opts.SettingsFile, err = filepath.Abs(a.configFile); err != nil {
			return scheduler.Options{}, err
		}
	}
	return opts, nil
}

func (a *app) controller() (*core.Controller, error) {
	if a.ctl != nil {
		return a.ctl, nil
	}
	dir, err := a.configDir()
	if err != nil {
		return nil, err
	}
	opts, err := a.schedulerOptions()
	if err != nil {
		return nil, err
	}
	sched := newScheduler(a.platform, opts)
	ctl, err := core.New(core.Options{
		Dir:        dir,
		Platform:   a.platform,
		Scheduler:  sched,
		Engine:     newEngine(a.platform, a.cfg),
		RemoteHost: a.remoteAddress(),
		Keygen:     keygen,
	})
	if err != nil {
		return nil, err
	}
	logging.Debugf("using configuration directory %s", dir)
	a.ctl = ctl
	return ctl, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	if c != "" && c != "dev" {
		v = v + " (" + c + ")"
	}
	if d != "" {
		v = v + " built: " + d
	}
	return v
}

// resolveBuildVersion computes the best-available version, commit and build
// date for the running binary. If `info` is nil, it reads build info from
// the runtime.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := gitCommit
	resolvedDate := buildDate

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}

	if info != nil {
		if resolvedVersion == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		// Some build paths only carry the module version in the deps.
		if resolvedVersion == "dev" || resolvedVersion == "(devel)" {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/toeirei/minarca" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" && resolvedCommit == "dev" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" && resolvedDate == "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if resolvedVersion == "dev" && gitCommit != "dev" && gitCommit != "" {
		resolvedVersion = gitCommit
	}

	return resolvedVersion, resolvedCommit, resolvedDate
}

// promptPassword reads the remote password without echo when stdin is a
// terminal, or one line from in otherwise.
func promptPassword(out io.Writer, in io.Reader, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if f, ok := in.(*os.File); ok && isTerminal(int(f.Fd())) {
		b, err := readPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("could not read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("could not read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
