package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/gatewarden"
)

const serverShutdownTimeout = 5 * time.Second

// createRunCommand creates the run subcommand
func createRunCommand(globalFlags *GlobalFlags) *cobra.Command {
	runFlags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Monitor the game server until interrupted",
		Long: `Run the monitor in the foreground. It stops on SIGINT or SIGTERM, opens
the game ports again and sends the monitor stop notification.

Examples:
  gatewarden run --config=gatewarden.toml
  gatewarden run --config=gatewarden.toml --daemonize --pidfile=/run/gatewarden.pid`,
		RunE: func(cmd *cobra.Command, args []string) error {
			runFlags.ConfigPath = globalFlags.ConfigPath
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMonitor(ctx, *runFlags)
		},
	}

	cmd.Flags().StringVar(&runFlags.LogsDir, "logs-dir", "", "override server.logs_directory")
	cmd.Flags().BoolVar(&runFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&runFlags.PidFile, "pidfile", "", "write the monitor PID to this file")
	cmd.Flags().StringVar(&runFlags.LogFile, "logfile", "", "redirect daemon output to file")

	return cmd
}

func loadConfig(path, logsDir string) (*gatewarden.Config, error) {
	c, err := gatewarden.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	if logsDir != "" {
		c.Server.LogsDirectory = logsDir
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func runMonitor(ctx context.Context, flags RunFlags) error {
	c, err := loadConfig(flags.ConfigPath, flags.LogsDir)
	if err != nil {
		return err
	}
	if flags.Daemonize {
		return daemonize(flags.PidFile, flags.LogFile)
	}

	logger := c.LoggerConfig().NewSlogger()
	slog.SetDefault(logger)

	if c.Metrics.Enabled {
		if err := gatewarden.RegisterMetricsDefault(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		srv := gatewarden.NewMetricsServer(c.Metrics.Listen)
		serveInBackground(logger, "metrics", srv)
		defer shutdownServer(srv)
	}

	pub, err := gatewarden.NewHistoryPublisher(c, logger)
	if err != nil {
		return err
	}
	mon, err := gatewarden.New(c, gatewarden.Deps{History: pub, Logger: logger})
	if err != nil {
		_ = pub.Close()
		return err
	}

	if c.API.Enabled {
		srv, err := gatewarden.NewAPIServerFromConfig(c, mon)
		if err != nil {
			_ = pub.Close()
			return err
		}
		serveInBackground(logger, "api", srv)
		defer shutdownServer(srv)
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			logger.Warn("failed to write pid file", "path", flags.PidFile, "error", err)
		} else {
			defer func() { _ = removePidFile(flags.PidFile) }()
		}
	}

	logger.Info("starting gatewarden", "server", c.Server.Name, "log", c.LogPath())
	if err := mon.Run(ctx); err != nil {
		_ = pub.Close()
		return err
	}
	return nil
}

func serveInBackground(logger *slog.Logger, name string, srv *http.Server) {
	logger.Info("listening", "server", name, "addr", srv.Addr, "tls", srv.TLSConfig != nil)
	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "server", name, "error", err)
		}
	}()
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
