package main

import (
	"time"

	"github.com/tinytelemetry/sightline/internal/model"
)

const (
	defaultEngineURL        = "http://127.0.0.1:9200"
	defaultBindHost         = "127.0.0.1"
	defaultAPIPort          = 3000
	defaultRequestTimeout   = model.DefaultRequestTimeout
	defaultQueryTimeout     = 30 * time.Second
	defaultLiveInterval     = model.DefaultLiveInterval
	defaultPollInterval     = model.DefaultPollInterval
	defaultPollMaxInterval  = model.DefaultPollMaxInterval
	defaultJobMaxWait       = 5 * time.Minute
	defaultSpanUnit         = model.DefaultSpanUnit
	defaultResponseFormat   = model.DefaultResponseFormat
	defaultHistoryRetention = 30 // days, 0 = disabled
	defaultLogLevel         = "info"
	defaultLogMaxSizeMB     = 50
	defaultLogMaxBackups    = 5
	defaultLogMaxAgeDays    = 14
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	EngineURL        string                  `mapstructure:"engine-url"`
	SessionToken     string                  `mapstructure:"session-token"`
	RequestTimeout   time.Duration           `mapstructure:"request-timeout"`
	AnomalyPath      string                  `mapstructure:"anomaly-path"`
	Anomaly          model.AnomalyParameters `mapstructure:"anomaly"`
	APIEnabled       bool                    `mapstructure:"api-enabled"`
	APIPort          int                     `mapstructure:"api-port"`
	APIAddr          string                  `mapstructure:"api-addr"`
	SocketPath       string                  `mapstructure:"socket-path"`
	HistoryEnabled   bool                    `mapstructure:"history-enabled"`
	DBPath           string                  `mapstructure:"db-path"`
	QueryTimeout     time.Duration           `mapstructure:"query-timeout"`
	HistoryRetention int                     `mapstructure:"history-retention"`
	LiveInterval     time.Duration           `mapstructure:"live-interval"`
	PollInterval     time.Duration           `mapstructure:"poll-interval"`
	PollMaxInterval  time.Duration           `mapstructure:"poll-max-interval"`
	JobMaxWait       time.Duration           `mapstructure:"job-max-wait"`
	Datasources      []string                `mapstructure:"datasources"`
	DefaultSpanUnit  string                  `mapstructure:"default-span-unit"`
	ResponseFormat   string                  `mapstructure:"response-format"`
	LogPath          string                  `mapstructure:"log-path"`
	LogLevel         string                  `mapstructure:"log-level"`
	LogMaxSizeMB     int                     `mapstructure:"log-max-size"`
	LogMaxBackups    int                     `mapstructure:"log-max-backups"`
	LogMaxAgeDays    int                     `mapstructure:"log-max-age"`
	ConfigPath       string                  `mapstructure:"-"` // not from config file
}
