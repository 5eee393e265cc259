// Command pgmigrate migrates an app's shared database to a dedicated hosted
// Postgres: maintenance on, processes to zero, provision, copy, rebind —
// and, whenever the run stops short, every effect already taken is undone
// in reverse order.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/heroku/heroku-pgmigrate/internal/heroku"
	"github.com/heroku/heroku-pgmigrate/internal/httpx"
	"github.com/heroku/heroku-pgmigrate/internal/migration"
	"github.com/heroku/heroku-pgmigrate/internal/pgbackups"
	"github.com/heroku/heroku-pgmigrate/internal/pkg/telemetry"
	"github.com/heroku/heroku-pgmigrate/internal/runlog"
	runlogsqlite "github.com/heroku/heroku-pgmigrate/internal/runlog/sqlite"
	"github.com/heroku/heroku-pgmigrate/internal/saga"
)

var (
	arrow    = color.New(color.FgGreen).Sprint("----->")
	copyMark = color.New(color.FgCyan).Sprint("  copy")
)

func main() {
	telemetry.InitLogger()

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "pgmigrate <app>",
		Short: "Migrate an app's shared database to dedicated hosted Postgres",
		Long: `pgmigrate drives the control-plane API through an irreversible sequence of
steps: maintenance mode on, processes scaled to zero, a new database
provisioned, data copied, and config vars rebound to the new database.

If any step fails, the effects already taken are undone in reverse order.
A run that stops because there is nothing to migrate (or because the copy
itself reported an error) exits zero after undoing its effects.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := run(cmd.Context(), v, args[0])
			if err != nil {
				slog.Error("migration failed", "error", err)
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("api-url", heroku.DefaultBaseURL, "control-plane API base URL")
	flags.String("status-addr", "", "serve run status over HTTP on this address while migrating (requires --run-log)")
	flags.String("run-log", "", "SQLite file recording run transitions (empty disables the run log)")
	flags.Duration("poll-interval", 5*time.Second, "how often to poll the data transfer for progress")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("PGMIGRATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("api-key", "HEROKU_API_KEY")

	return cmd
}

func run(ctx context.Context, v *viper.Viper, app string) error {
	apiKey := v.GetString("api-key")
	if apiKey == "" {
		return errors.New("HEROKU_API_KEY is not set")
	}

	shutdown, err := telemetry.SetupTracer(ctx, "pgmigrate")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	var runs runlog.Repository
	var runStore *runlogsqlite.Repository
	if path := v.GetString("run-log"); path != "" {
		runStore, err = runlogsqlite.Open(path)
		if err != nil {
			return err
		}
		defer runStore.Close()
		runs = runStore
	}

	runID := uuid.NewString()
	exec := saga.NewExecutor(runID, app, runs)
	exec.Progress = func(format string, args ...any) {
		fmt.Printf("%s %s\n", arrow, fmt.Sprintf(format, args...))
	}

	if addr := v.GetString("status-addr"); addr != "" {
		if runStore == nil {
			slog.Warn("--status-addr ignored: no run log configured")
		} else {
			srv := &http.Server{Addr: addr, Handler: httpx.NewRouter(httpx.NewHandler(runStore))}
			go func() {
				slog.Info("status endpoint listening", "addr", addr, "run_id", runID)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					slog.Error("status endpoint failed", "error", err)
				}
			}()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(stopCtx)
			}()
		}
	}

	// First interrupt cancels the run and triggers the unwind; once
	// compensation has begun, further interrupts are ignored so it always
	// runs to completion.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		for s := range sig {
			if exec.Unwinding() {
				slog.Warn("compensation in progress; ignoring signal", "signal", s.String())
				continue
			}
			slog.Info("interrupt received; stopping and undoing", "signal", s.String())
			cancel()
		}
	}()

	api := heroku.NewClient(v.GetString("api-url"), apiKey)
	clients := migration.Clients{
		Maintenance: api,
		Formation:   api,
		Addons:      api,
		Config:      api,
		NewTransfer: func(endpoint string) migration.TransferAPI {
			return pgbackups.NewClient(endpoint)
		},
	}

	steps := migration.Plan(clients, app, migration.Options{
		PollInterval: v.GetDuration("poll-interval"),
		Progress: func(line string) {
			fmt.Printf("%s %s\n", copyMark, line)
		},
	})

	fmt.Printf("%s Migrating %s (run %s)\n", arrow, color.CyanString(app), runID)
	if err := exec.Engage(ctx, steps...); err != nil {
		return err
	}
	fmt.Printf("%s Done\n", arrow)
	return nil
}
