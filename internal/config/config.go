package config

import (
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
)

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Storage       StorageConfig        `koanf:"storage" validate:"required"`
	Braze         *BrazeConfig         `koanf:"braze"`
	Pacing        *PacingConfig        `koanf:"pacing"`
	Observability *ObservabilityConfig `koanf:"observability"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"required"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"required"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"required"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins" validate:"required"`
}

// StorageConfig points at the S3-compatible bucket that holds event logs,
// segment definitions, runtime config and pacing projections.
type StorageConfig struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket" validate:"required"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	IDFolder  string `koanf:"id_folder"`
}

// BrazeConfig configures the marketing-API collaborator and its queue.
type BrazeConfig struct {
	APIKey       string `koanf:"api_key"`
	Endpoint     string `koanf:"endpoint"`
	RESTEndpoint string `koanf:"rest_endpoint"`
	QueueURL     string `koanf:"queue_url"`
	MonthlyLimit int64  `koanf:"monthly_limit"`
}

// PacingConfig controls the scheduled MAU pacing run.
type PacingConfig struct {
	IntervalMinutes int `koanf:"interval_minutes"`
}

type ObservabilityConfig struct {
	Enabled     bool   `koanf:"enabled"`
	LicenseKey  string `koanf:"license_key"`
	ServiceName string `koanf:"service_name"`
	Environment string `koanf:"environment"`
}

const (
	defaultIDFolder       = "newspassid"
	defaultMonthlyLimit   = 6_000_000
	defaultPacingInterval = 60
	defaultServiceName    = "newspassid"
)

// LoadConfig loads the configuration from environment variables using koanf.
func LoadConfig() (mainConfig *Config, err error) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	k := koanf.New(".")
	err = k.Load(env.Provider("NEWSPASSID_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "NEWSPASSID_"))
	}), nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load initial env variables")
	}

	mainConfig = &Config{}
	err = k.Unmarshal("", mainConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not unmarshal mainconfig")
	}

	validate := validator.New()
	err = validate.Struct(mainConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not validate the struct")
	}

	if mainConfig.Storage.IDFolder == "" {
		mainConfig.Storage.IDFolder = defaultIDFolder
	}
	if mainConfig.Braze == nil {
		mainConfig.Braze = &BrazeConfig{}
	}
	if mainConfig.Braze.MonthlyLimit == 0 {
		mainConfig.Braze.MonthlyLimit = defaultMonthlyLimit
	}
	if mainConfig.Pacing == nil {
		mainConfig.Pacing = &PacingConfig{}
	}
	if mainConfig.Pacing.IntervalMinutes == 0 {
		mainConfig.Pacing.IntervalMinutes = defaultPacingInterval
	}
	if mainConfig.Observability == nil {
		mainConfig.Observability = &ObservabilityConfig{}
	}
	mainConfig.Observability.ServiceName = defaultServiceName
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	return
}
