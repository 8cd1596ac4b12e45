package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/gatewarden/pkg/client"
)

func addAPIFlags(cmd *cobra.Command, flags *StatusFlags) {
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", client.DefaultBaseURL, "status API base URL")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().StringVar(&flags.Token, "api-token", os.Getenv("GATEWARDEN_API_TOKEN"), "bearer token for the kill endpoint")
	cmd.Flags().StringVar(&flags.CACert, "api-ca", "", "CA certificate for an https API (e.g. <dir>/tls_ca.crt)")
	cmd.Flags().BoolVar(&flags.Insecure, "api-insecure", false, "skip TLS certificate verification")
}

func newClient(flags *StatusFlags) *client.Client {
	cfg := client.Config{BaseURL: flags.APIUrl, Token: flags.Token, Timeout: flags.APITimeout, Insecure: flags.Insecure}
	if flags.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{Enabled: true, CACert: flags.CACert}
	}
	return client.New(cfg)
}

// createStatusCommand creates the status subcommand
func createStatusCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running monitor",
		Long: `Query the status API of a running monitor.

Examples:
  gatewarden status
  gatewarden status --api-url=http://gameserver:8089/api --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newClient(flags).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}
			if flags.JSON {
				printJSON(cmd.OutOrStdout(), st)
				return nil
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	cmd.Flags().BoolVar(&flags.JSON, "json", false, "print raw JSON")
	return cmd
}

// createKillCommand creates the kill-zombie subcommand
func createKillCommand(flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kill-zombie",
		Short: "Terminate the server process flagged as unresponsive",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newClient(flags).KillZombie(cmd.Context()); err != nil {
				return fmt.Errorf("kill zombie: %w", err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "zombie process terminated")
			return nil
		},
	}
	addAPIFlags(cmd, flags)
	return cmd
}

// createCheckConfigCommand creates the check-config subcommand
func createCheckConfigCommand(globalFlags *GlobalFlags) *cobra.Command {
	flags := &CheckFlags{}
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.ConfigPath = globalFlags.ConfigPath
			c, err := loadConfig(flags.ConfigPath, flags.LogsDir)
			if err != nil {
				return err
			}
			if flags.Print {
				printJSON(cmd.OutOrStdout(), c)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: watching %s\n", c.LogPath())
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.LogsDir, "logs-dir", "", "override server.logs_directory")
	cmd.Flags().BoolVar(&flags.Print, "print", false, "print the effective configuration as JSON")
	return cmd
}

func printStatus(w io.Writer, st client.Status) {
	lc := st.Lifecycle
	_, _ = fmt.Fprintf(w, "Server:    %s\n", st.Server)
	_, _ = fmt.Fprintf(w, "State:     %s (since %s)\n", lc.State, lc.Since.Local().Format(time.RFC3339))
	if lc.ReadyPending {
		_, _ = fmt.Fprintln(w, "           waiting for startup delay before opening ports")
	}
	_, _ = fmt.Fprintf(w, "Epoch:     %d\n", lc.Epoch)
	if wd := st.Watchdog; wd != nil {
		line := wd.Health
		if wd.PID != 0 {
			line += fmt.Sprintf(" (pid %d)", wd.PID)
		}
		if wd.ZombieDetected {
			line += " ZOMBIE"
		}
		_, _ = fmt.Fprintf(w, "Process:   %s\n", line)
	} else {
		_, _ = fmt.Fprintln(w, "Process:   zombie detection disabled")
	}
	_, _ = fmt.Fprintf(w, "Log:       %s (%d lines)\n", st.Log.Path, st.Log.Lines)
	gate := "disabled"
	if st.Firewall {
		gate = "enabled"
	}
	_, _ = fmt.Fprintf(w, "Ports:     %s [firewall %s]\n", strings.Join(st.Ports, ", "), gate)
}
