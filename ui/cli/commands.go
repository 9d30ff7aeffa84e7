// Copyright (c) 2026 Minarca Team
// Minarca - backup agent identity and configuration
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"github.com/toeirei/minarca/internal/apierr"
	"github.com/toeirei/minarca/internal/bundle"
	"github.com/toeirei/minarca/internal/config"
	"github.com/toeirei/minarca/internal/core"
	"github.com/toeirei/minarca/internal/logging"
	"github.com/toeirei/minarca/internal/patterns"
	"github.com/toeirei/minarca/internal/platform"
	"github.com/toeirei/minarca/internal/remote"
	"github.com/toeirei/minarca/internal/security"
)

func valueOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether this computer is linked and configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			state, err := ctl.Status()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			c := ctl.Config()
			fmt.Fprintf(out, "state: %s\n", state)
			fmt.Fprintf(out, "config dir: %s\n", ctl.Dir())
			fmt.Fprintf(out, "computer name: %s\n", valueOr(c.ComputerName, "-"))
			fmt.Fprintf(out, "username: %s\n", valueOr(c.Username, "-"))
			fmt.Fprintf(out, "remote host: %s\n", valueOr(c.RemoteHost, "-"))
			if fp, err := ctl.Fingerprint(); err == nil {
				fmt.Fprintf(out, "fingerprint: %s\n", fp)
			}
			if state == core.Linked && a.cfg.Remote.BrowseURL != "" {
				fmt.Fprintf(out, "browse: %s\n", ctl.BrowseURL(a.cfg.Remote.BrowseURL))
			}
			switch state {
			case core.Unconfigured, core.Unlinking:
				fmt.Fprintln(out, "hint: run `minarca link <computer-name>`")
			case core.Configuring:
				if err := ctl.CheckConfig(); err != nil {
					fmt.Fprintf(out, "problem: %s\n", ExitMessage(err))
				}
			}
			return nil
		},
	}
}

func newLinkCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "link [computer-name]",
		Short: "Generate an identity and register it with the backup server",
		Long: `Generates a new RSA key pair, adds the public key to the remote account
and records the computer name, username and remote host. The computer name
defaults to the host name of this machine.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := platform.DefaultComputerName()
			if len(args) == 1 {
				name = args[0]
			}
			if !core.ValidComputerName(name) {
				return apierr.New(apierr.InvalidComputerName, "link", fmt.Sprintf("invalid computer name %q", name))
			}
			if username == "" {
				return fmt.Errorf("--username is required")
			}
			secret := security.FromString(password)
			if !cmd.Flags().Changed("password") {
				pw, err := promptPassword(cmd.ErrOrStderr(), cmd.InOrStdin(), fmt.Sprintf("Password for %s@%s: ", username, a.remoteAddress()))
				if err != nil {
					return err
				}
				secret = security.FromString(pw)
			}
			defer secret.Zero()
			if secret.Empty() {
				return fmt.Errorf("a password is required for %s", username)
			}

			ctl, err := a.controller()
			if err != nil {
				return err
			}
			client, err := dialRemote(cmd.Context(), remote.Options{
				Host:         a.cfg.Remote.Host,
				Port:         a.cfg.Remote.Port,
				Username:     username,
				Password:     secret,
				Fingerprints: a.cfg.Remote.Fingerprints,
			})
			if err != nil {
				return err
			}
			if cl, ok := client.(io.Closer); ok {
				defer func() { _ = cl.Close() }()
			}

			if err := ctl.Link(cmd.Context(), name, client); err != nil {
				return err
			}
			logging.Infof("linked %s to %s", name, a.remoteAddress())
			fmt.Fprintf(cmd.OutOrStdout(), "%s linked to %s as %s\n", name, a.remoteAddress(), client.Username())
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "remote account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "remote account password (prompted when omitted)")
	cmd.Flags().String("remote-host", "", "backup server host, overrides remote.host")
	return cmd
}

func newUnlinkCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlink",
		Short: "Forget the link settings and remove the scheduled backup",
		Long: `Clears the computer name, username and remote host and removes the
scheduled backup task. The public key stays registered on the server; remove
it there to revoke this computer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			if err := ctl.Unlink(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "unlinked")
			return nil
		},
	}
}

func newDefaultConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "default-config",
		Short: "Write the default backup selection and schedule the backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			if err := ctl.DefaultConfig(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "default configuration written to %s\n", ctl.Dir())
			return nil
		},
	}
}

func newTestServerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "test-server",
		Short: "Check that rdiff-backup can reach the server with this identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			if err := ctl.TestServer(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "server reachable")
			return nil
		},
	}
}

func newBackupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Run one backup now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			if err := ctl.CheckConfig(); err != nil {
				return err
			}
			logging.Infof("starting backup of %s", valueOr(ctl.Config().ComputerName, ""))
			if err := ctl.Backup(cmd.Context()); err != nil {
				return err
			}
			logging.Infof("backup completed")
			return nil
		},
	}
}

func newIdentityCmd(a *app) *cobra.Command {
	var copyKey bool
	cmd := &cobra.Command{
		Use:   "identity",
		Short: "Print the public key and its fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			pub, err := ctl.PublicKey()
			if err != nil {
				return err
			}
			fp, err := ctl.Fingerprint()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, pub)
			fmt.Fprintf(out, "fingerprint: %s\n", fp)
			if copyKey {
				if err := writeClipboard(pub); err != nil {
					return fmt.Errorf("could not copy to clipboard: %w", err)
				}
				fmt.Fprintln(out, "public key copied to clipboard")
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&copyKey, "copy", "c", false, "copy the public key to the clipboard")
	return cmd
}

func newPatternsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "patterns",
		Short: "List the include and exclude patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			inc, err := ctl.Includes()
			if err != nil {
				return err
			}
			exc, err := ctl.Excludes()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printPatterns(out, "includes", inc)
			printPatterns(out, "excludes", exc)
			return nil
		},
	}
}

func printPatterns(out io.Writer, title string, ps []patterns.Pattern) {
	fmt.Fprintf(out, "%s:\n", title)
	if len(ps) == 0 {
		fmt.Fprintln(out, "  (none)")
		return
	}
	for _, p := range ps {
		fmt.Fprintf(out, "  %s\n", p)
	}
}

func newBundleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bundle <out.tar.zst>",
		Short: "Write a support bundle of the non-secret configuration files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := a.controller()
			if err != nil {
				return err
			}
			state, err := ctl.Status()
			if err != nil {
				return err
			}
			m := bundle.Manifest{
				Version:  compositeVersion(),
				Platform: a.platform.Name(),
				State:    state.String(),
			}
			if fp, err := ctl.Fingerprint(); err == nil {
				m.Fingerprint = fp
			}
			src := bundle.Source{Dir: ctl.Dir(), Manifest: m}
			if settings := a.settingsFile(); settings != "" {
				src.Extra = append(src.Extra, settings)
			}
			added, err := bundle.WriteFile(args[0], src)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d files)\n", args[0], len(added))
			return nil
		},
	}
}

// settingsFile is the settings file in effect, or "" when none exists.
func (a *app) settingsFile() string {
	if a.configFile != "" {
		return a.configFile
	}
	p, err := config.GetConfigPath(false)
	if err != nil {
		return ""
	}
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func newSettingsCmd(a *app) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Print the effective agent settings",
		Long: `Prints the agent settings resolved from defaults, minarca.yaml, MINARCA_*
environment variables and flags. With --save they are written to the user
settings file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := yaml.Marshal(&a.cfg)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(data))
			if !save {
				return nil
			}
			if err := config.WriteConfigFile(&a.cfg, false); err != nil {
				return fmt.Errorf("could not write settings: %w", err)
			}
			p, _ := config.GetConfigPath(false)
			fmt.Fprintf(cmd.OutOrStdout(), "saved to %s\n", p)
			return nil
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the settings to the user settings file")
	return cmd
}
