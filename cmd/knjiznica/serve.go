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

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/knjiznica/internal/api"
	"github.com/erazemk/knjiznica/internal/auth"
	"github.com/erazemk/knjiznica/internal/circulation"
	"github.com/erazemk/knjiznica/internal/clock"
	"github.com/erazemk/knjiznica/internal/config"
	"github.com/erazemk/knjiznica/internal/covers"
	"github.com/erazemk/knjiznica/internal/metrics"
	"github.com/erazemk/knjiznica/internal/store"
)

const shutdownTimeout = 5 * time.Second

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reservation sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&a.cfg.Addr, "addr", "a", a.cfg.Addr, "listen address")
	f.StringVarP(&a.cfg.AdminUser, "user", "u", a.cfg.AdminUser, "admin username on first run")
	f.DurationVar(&a.cfg.LoanPeriod, "loan-period", a.cfg.LoanPeriod, "default loan period")
	f.DurationVar(&a.cfg.HoldPeriod, "hold-period", a.cfg.HoldPeriod, "how long a reservation stays valid")
	f.DurationVar(&a.cfg.SweepInterval, "sweep-interval", a.cfg.SweepInterval, "how often expired reservations are swept")
	f.IntVar(&a.cfg.MaxLoans, "max-loans", a.cfg.MaxLoans, "open loans allowed per user (0 for no limit)")
	f.StringVar(&a.cfg.CoverStore, "cover-store", a.cfg.CoverStore, "where cover images live (db or s3)")
	f.IntVar(&a.cfg.CoverCache, "cover-cache", a.cfg.CoverCache, "covers kept in memory (0 disables the cache)")
	f.StringVar(&a.cfg.S3Bucket, "s3-bucket", a.cfg.S3Bucket, "S3 bucket for covers")
	f.StringVar(&a.cfg.S3Region, "s3-region", a.cfg.S3Region, "S3 region")
	f.StringVar(&a.cfg.S3Endpoint, "s3-endpoint", a.cfg.S3Endpoint, "S3-compatible endpoint URL")
	f.BoolVar(&a.cfg.S3PathStyle, "s3-path-style", a.cfg.S3PathStyle, "use path-style S3 addressing")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	database, err := a.openDB()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := a.ensureAdmin(ctx, database); err != nil {
		return err
	}
	slog.Info("database ready", "driver", a.cfg.DBDriver)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("loading JWT secret: %w", err)
	}

	coverStore, err := a.coverStore(ctx, database)
	if err != nil {
		return err
	}

	recorder := metrics.NewPrometheus()
	clk := clock.NewSystem()
	manager := a.newManager(database, clk, recorder)

	handler := api.NewRouter(api.Deps{
		DB:      database,
		Auth:    auth.NewProvider(database, jwtSecret),
		Manager: manager,
		Covers:  coverStore,
		Clock:   clk,
		Metrics: recorder.Handler(),
	})

	server := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server started", "addr", a.cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return circulation.NewSweeper(manager, a.cfg.SweepInterval).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(sctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("server stopped, closing database")
	return err
}

func (a *app) newManager(database *sqlx.DB, clk clock.Clock, rec metrics.Recorder) *circulation.Manager {
	return circulation.NewManager(store.NewRepository(database), clk,
		circulation.WithLoanPeriod(a.cfg.LoanPeriod),
		circulation.WithHoldPeriod(a.cfg.HoldPeriod),
		circulation.WithMaxLoans(a.cfg.MaxLoans),
		circulation.WithLogger(slog.Default()),
		circulation.WithMetrics(rec),
	)
}

// coverStore builds the configured cover backend, with an LRU in front when
// a cache size is set.
func (a *app) coverStore(ctx context.Context, database *sqlx.DB) (covers.Store, error) {
	var s covers.Store
	switch a.cfg.CoverStore {
	case config.CoverStoreS3:
		s3Store, err := covers.NewS3Store(ctx, covers.S3Config{
			Bucket:    a.cfg.S3Bucket,
			Region:    a.cfg.S3Region,
			Endpoint:  a.cfg.S3Endpoint,
			PathStyle: a.cfg.S3PathStyle,
		}, database)
		if err != nil {
			return nil, err
		}
		slog.Info("covers stored in s3", "bucket", a.cfg.S3Bucket)
		s = s3Store
	default:
		s = covers.NewDBStore(database)
	}

	if a.cfg.CoverCache == 0 {
		return s, nil
	}
	cached, err := covers.NewCached(s, a.cfg.CoverCache)
	if err != nil {
		return nil, err
	}
	return cached, nil
}

// ensureAdmin creates the admin account when the database has no users yet
// and prints its generated password.
func (a *app) ensureAdmin(ctx context.Context, database *sqlx.DB) error {
	users, err := store.ListUsers(ctx, database)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	password, err := createAdmin(ctx, database, a.cfg.AdminUser)
	if err != nil {
		return err
	}
	printInitResult(os.Stdout, a.cfg.AdminUser, password)
	return nil
}
