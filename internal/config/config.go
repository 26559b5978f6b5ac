// Package config загружает настройки трекера: значения по умолчанию, YAML-файл,
// затем переменные окружения RFI_*.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"rfitracker/internal/classifier"
	"rfitracker/internal/duedate"
	"rfitracker/internal/logging"
	"rfitracker/internal/mailer"
)

type Config struct {
	App        AppConfig        `koanf:"app"`
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Log        logging.Config   `koanf:"log"`
	Auth       AuthConfig       `koanf:"auth"`
	DueDates   DueDatesConfig   `koanf:"due_dates"`
	Classifier ClassifierConfig `koanf:"classifier"`
	SMTP       mailer.Config    `koanf:"smtp"`
	Reminders  RemindersConfig  `koanf:"reminders"`
}

type AppConfig struct {
	BaseURL string `koanf:"base_url"`
}

type ServerConfig struct {
	Address         string        `koanf:"address"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig: driver "postgres" или "memory" (для локального запуска)
type DatabaseConfig struct {
	Driver string `koanf:"driver"`
	URL    string `koanf:"url"`
}

type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

type DueDatesConfig struct {
	ReviewerOffsetDays int `koanf:"reviewer_offset_days"`
	QcrOffsetDays      int `koanf:"qcr_offset_days"`
	NearTermDays       int `koanf:"near_term_days"`
}

func (d DueDatesConfig) Offsets() duedate.Offsets {
	return duedate.Offsets{ReviewerDays: d.ReviewerOffsetDays, QcrDays: d.QcrOffsetDays}
}

type ClassifierConfig struct {
	ProjectMarker string                  `koanf:"project_marker"`
	Contractors   []classifier.Contractor `koanf:"contractors"`
}

// Build собирает классификатор; пустой список подрядчиков заменяется стандартным
func (c ClassifierConfig) Build() (*classifier.Classifier, error) {
	contractors := c.Contractors
	if len(contractors) == 0 {
		contractors = classifier.DefaultContractors
	}
	return classifier.New(c.ProjectMarker, contractors)
}

type RemindersConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Interval   time.Duration `koanf:"interval"`
	WindowDays int           `koanf:"window_days"`
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres (RFI_DATABASE_URL or POSTGRES_CONN)"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver))
	}

	if c.Server.Address == "" {
		errs = append(errs, errors.New("server.address is required"))
	}
	if c.App.BaseURL != "" {
		if u, err := url.Parse(c.App.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("app.base_url must be an absolute URL, got %q", c.App.BaseURL))
		}
	}
	if c.DueDates.ReviewerOffsetDays < 0 || c.DueDates.QcrOffsetDays < 0 {
		errs = append(errs, errors.New("due_dates offsets must not be negative"))
	}
	if c.DueDates.QcrOffsetDays > c.DueDates.ReviewerOffsetDays {
		errs = append(errs, errors.New("due_dates.qcr_offset_days must not exceed reviewer_offset_days"))
	}
	if c.DueDates.NearTermDays < 0 {
		errs = append(errs, errors.New("due_dates.near_term_days must not be negative"))
	}
	if c.Reminders.Enabled && c.Reminders.Interval <= 0 {
		errs = append(errs, errors.New("reminders.interval must be positive"))
	}
	if c.Reminders.WindowDays < 0 {
		errs = append(errs, errors.New("reminders.window_days must not be negative"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, ct := range c.Classifier.Contractors {
		if ct.Token == "" || !ct.Bucket.Valid() {
			errs = append(errs, fmt.Errorf("classifier contractor %q has invalid bucket %q", ct.Token, ct.Bucket))
		}
	}

	return errors.Join(errs...)
}
