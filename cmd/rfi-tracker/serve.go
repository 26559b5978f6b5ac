package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"rfitracker/internal/handlers"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the reminder scheduler",
	Long: `Run the HTTP API. When reminders.enabled is set, a background loop sends
due-today and overdue reminders every reminders.interval.

Examples:
  # Postgres from the environment
  POSTGRES_CONN=postgres://rfi@localhost/rfi?sslmode=disable rfi-tracker serve

  # Local run without a database
  RFI_DATABASE_DRIVER=memory RFI_AUTH_JWT_SECRET=dev rfi-tracker serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	h := handlers.NewHandler(a.engine, a.logger.Named("http"))
	h.ReminderWindow = a.cfg.Reminders.WindowDays
	router := handlers.NewRouter(h, handlers.RouterConfig{
		JWTSecret: a.cfg.Auth.JWTSecret,
		Issuer:    a.cfg.Auth.Issuer,
		Metrics:   a.recorder,
	})
	if a.cfg.Auth.JWTSecret == "" {
		a.logger.Warn("auth.jwt_secret is empty, authenticated routes will reject every request")
	}

	srv := &http.Server{
		Addr:         a.cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	if a.cfg.Reminders.Enabled {
		go reminderLoop(ctx, a)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// reminderLoop рассылает напоминания по расписанию до отмены ctx
func reminderLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(a.cfg.Reminders.Interval)
	defer ticker.Stop()

	log := a.logger.Named("reminders")
	run := func() {
		report, err := a.engine.SendReminders(ctx, time.Now(), a.cfg.Reminders.WindowDays)
		if err != nil {
			log.Error("reminder run failed", zap.Error(err))
			return
		}
		if report.Failed > 0 {
			log.Warn("some reminders failed", zap.Int("failed", report.Failed))
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
