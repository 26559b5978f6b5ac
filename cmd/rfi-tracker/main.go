// Package main: CLI трекера RFI и Submittal: HTTP-сервер, миграции, напоминания, разбор писем.
package main

import (
	"context"
	"fmt"
	"os"

	"rfitracker/db"
	"rfitracker/db/migrations"
	"rfitracker/internal/config"
	"rfitracker/internal/logging"
	"rfitracker/internal/mailer"
	"rfitracker/internal/metrics"
	"rfitracker/internal/workflow"
	"rfitracker/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rfi-tracker",
	Short: "Two-stage review tracker for RFIs and Submittals",
	Long: `rfi-tracker ingests contractor notification emails, routes each RFI or Submittal
through reviewer and QCR review, reconciles contractor updates and sends reminders.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd, remindCmd, ingestCmd, tokenCmd, usersCmd)
}

// userStore: справочник пользователей; есть у обоих хранилищ
type userStore interface {
	workflow.Store
	CreateUser(ctx context.Context, u *models.User) error
	ListUsers(ctx context.Context) ([]models.User, error)
}

// app: собранные зависимости команды
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    userStore
	engine   *workflow.Engine
	registry *prometheus.Registry
	recorder *metrics.Recorder
	closeDB  func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("service", "rfi-tracker"))

	a := &app{cfg: cfg, logger: logger, closeDB: func() error { return nil }}

	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory storage, data is lost on exit")
		a.store = db.NewMemoryStorage()
	default:
		conn, err := sqlx.ConnectContext(ctx, "postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("cannot connect to DB: %w", err)
		}
		if err := migrations.Run(conn.DB); err != nil {
			conn.Close()
			return nil, err
		}
		a.store = db.NewStorage(conn)
		a.closeDB = conn.Close
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.recorder = metrics.New(a.registry)

	cls, err := cfg.Classifier.Build()
	if err != nil {
		a.closeDB()
		return nil, err
	}

	var sender workflow.Sender
	if cfg.SMTP.Enabled() {
		sender = mailer.NewSMTPSender(cfg.SMTP, logger.Named("mailer"))
	} else {
		logger.Warn("smtp is not configured, emails are only logged")
		sender = mailer.NewLogSender(logger.Named("mailer"))
	}

	a.engine, err = workflow.New(a.store, sender,
		workflow.WithLogger(logger.Named("workflow")),
		workflow.WithObserver(a.recorder),
		workflow.WithOffsets(cfg.DueDates.Offsets()),
		workflow.WithNearTermDays(cfg.DueDates.NearTermDays),
		workflow.WithClassifier(cls),
		workflow.WithBaseURL(cfg.App.BaseURL),
	)
	if err != nil {
		a.closeDB()
		return nil, err
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.closeDB(); err != nil {
		a.logger.Error("close db", zap.Error(err))
	}
	_ = a.logger.Sync()
}
