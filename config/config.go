// Package config loads lodger-engine settings from lodger.yaml, a .env file
// and LODGER_* environment variables, in increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/warp/lodger-engine/tenancy"
)

type Configuration struct {
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging" validate:"required"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Reminders RemindersConfig `mapstructure:"reminders"`
	Engine    EngineConfig    `mapstructure:"engine"`

	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "memory" (no persistence, for demos).
	Driver string `mapstructure:"driver" validate:"oneof=sqlite memory"`
	Path   string `mapstructure:"path" validate:"required_if=Driver sqlite"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval" validate:"required"`
}

type RemindersConfig struct {
	LookaheadDays   int `mapstructure:"lookahead_days" validate:"min=1"`
	DedupWindowDays int `mapstructure:"dedup_window_days" validate:"min=1"`
	Workers         int `mapstructure:"workers" validate:"min=1,max=64"`
}

type EngineConfig struct {
	HorizonPeriods  int     `mapstructure:"horizon_periods" validate:"min=1,max=120"`
	RemedyDays      int     `mapstructure:"remedy_days" validate:"min=1"`
	TerminationDays int     `mapstructure:"termination_days" validate:"min=1"`
	RentCapPercent  float64 `mapstructure:"rent_cap_percent" validate:"gt=0,lte=100"`
}

// Load reads configuration. path selects an explicit config file; when
// empty, lodger.yaml is searched for in . and ./config.
func Load(path string) (*Configuration, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lodger")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("LODGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Configuration) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.WithHint(errors.Wrap(err, "invalid configuration"),
			"check lodger.yaml and LODGER_* environment variables")
	}
	return nil
}

// Default returns the built-in defaults, the same values Load starts from.
func Default() *Configuration {
	d := tenancy.DefaultConfig()
	return &Configuration{
		Server:    ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "./data/lodger.db"},
		Logging:   LoggingConfig{Level: "info"},
		Scheduler: SchedulerConfig{Enabled: true, Interval: 24 * time.Hour},
		Reminders: RemindersConfig{
			LookaheadDays:   d.ReminderLookaheadDays,
			DedupWindowDays: d.ReminderDedupDays,
			Workers:         d.SweepWorkers,
		},
		Engine: EngineConfig{
			HorizonPeriods:  d.HorizonPeriods,
			RemedyDays:      d.RemedyDays,
			TerminationDays: d.TerminationDays,
			RentCapPercent:  d.RentCapPercent.InexactFloat64(),
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.interval", d.Scheduler.Interval)
	v.SetDefault("reminders.lookahead_days", d.Reminders.LookaheadDays)
	v.SetDefault("reminders.dedup_window_days", d.Reminders.DedupWindowDays)
	v.SetDefault("reminders.workers", d.Reminders.Workers)
	v.SetDefault("engine.horizon_periods", d.Engine.HorizonPeriods)
	v.SetDefault("engine.remedy_days", d.Engine.RemedyDays)
	v.SetDefault("engine.termination_days", d.Engine.TerminationDays)
	v.SetDefault("engine.rent_cap_percent", d.Engine.RentCapPercent)
}

// Tenancy maps the settings onto the engine's tunables.
func (c Configuration) Tenancy() tenancy.Config {
	return tenancy.Config{
		HorizonPeriods:        c.Engine.HorizonPeriods,
		RemedyDays:            c.Engine.RemedyDays,
		TerminationDays:       c.Engine.TerminationDays,
		RentCapPercent:        decimal.NewFromFloat(c.Engine.RentCapPercent),
		ReminderLookaheadDays: c.Reminders.LookaheadDays,
		ReminderDedupDays:     c.Reminders.DedupWindowDays,
		SweepWorkers:          c.Reminders.Workers,
	}
}
