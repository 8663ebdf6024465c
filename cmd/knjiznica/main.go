// Command knjiznica runs the library circulation server and its admin tools.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/erazemk/knjiznica/internal/config"
	"github.com/erazemk/knjiznica/internal/db"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. If logPath is non-empty, all
// levels are also written to that file. The returned cleanup closes it.
func setupLogger(logPath, format string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	cleanup := func() {}
	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	newHandler := func(w io.Writer) slog.Handler {
		if format == "json" {
			return slog.NewJSONHandler(w, opts)
		}
		return slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(&levelRouter{
		stdout: newHandler(stdoutW),
		stderr: newHandler(stderrW),
	}))
	return cleanup, nil
}

// app carries the configuration and the log cleanup between cobra hooks.
type app struct {
	cfg      config.Config
	closeLog func()
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}
	envErr := a.cfg.ApplyEnv(os.LookupEnv)

	root := &cobra.Command{
		Use:           "knjiznica",
		Short:         "Library circulation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if envErr != nil {
				return envErr
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			closeLog, err := setupLogger(a.cfg.LogPath, a.cfg.LogFormat)
			if err != nil {
				return err
			}
			a.closeLog = closeLog
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.closeLog != nil {
				a.closeLog()
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfg.DBDriver, "driver", a.cfg.DBDriver, "database driver (sqlite or pgx)")
	f.StringVarP(&a.cfg.DSN, "db", "d", a.cfg.DSN, "SQLite database path or Postgres DSN")
	f.StringVarP(&a.cfg.LogPath, "log", "l", a.cfg.LogPath, "log file path (default: stdout/stderr only)")
	f.StringVar(&a.cfg.LogFormat, "log-format", a.cfg.LogFormat, "log format (text or json)")

	root.AddCommand(
		a.serveCmd(),
		a.initCmd(),
		a.userCmd(),
		a.importCmd(),
		a.exportCmd(),
		a.sweepCmd(),
		a.overdueCmd(),
		a.statsCmd(),
	)
	return root
}

// openDB opens the configured database and makes sure the schema exists.
func (a *app) openDB() (*sqlx.DB, error) {
	database, err := db.Open(a.cfg.DBDriver, a.cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return database, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
