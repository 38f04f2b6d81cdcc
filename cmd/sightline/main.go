package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/sightline/internal/anomaly"
	"github.com/tinytelemetry/sightline/internal/opensearch"
	"github.com/tinytelemetry/sightline/internal/socketrpc"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/sightline/config.yml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Sightline - PPL search and pattern explorer\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultDBPath := filepath.Join(home, ".local", "share", "sightline", "history.duckdb")
	defaultLogPath := filepath.Join(home, ".local", "state", "sightline", "sightline.log")
	anomalyDefaults := anomaly.DefaultParameters()

	v := viper.New()
	v.SetEnvPrefix("SIGHTLINE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("engine-url", defaultEngineURL)
	v.SetDefault("session-token", "")
	v.SetDefault("request-timeout", defaultRequestTimeout)
	v.SetDefault("anomaly-path", opensearch.DefaultAnomalyPath)
	v.SetDefault("anomaly.number-of-trees", anomalyDefaults.NumberOfTrees)
	v.SetDefault("anomaly.shingle-size", anomalyDefaults.ShingleSize)
	v.SetDefault("anomaly.sample-size", anomalyDefaults.SampleSize)
	v.SetDefault("anomaly.output-after", anomalyDefaults.OutputAfter)
	v.SetDefault("anomaly.time-decay", anomalyDefaults.TimeDecay)
	v.SetDefault("anomaly.anomaly-rate", anomalyDefaults.AnomalyRate)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("history-enabled", true)
	v.SetDefault("db-path", defaultDBPath)
	v.SetDefault("query-timeout", defaultQueryTimeout)
	v.SetDefault("history-retention", defaultHistoryRetention)
	v.SetDefault("live-interval", defaultLiveInterval)
	v.SetDefault("poll-interval", defaultPollInterval)
	v.SetDefault("poll-max-interval", defaultPollMaxInterval)
	v.SetDefault("job-max-wait", defaultJobMaxWait)
	v.SetDefault("datasources", []string{})
	v.SetDefault("default-span-unit", defaultSpanUnit)
	v.SetDefault("response-format", defaultResponseFormat)
	v.SetDefault("log-path", defaultLogPath)
	v.SetDefault("log-level", defaultLogLevel)
	v.SetDefault("log-max-size", defaultLogMaxSizeMB)
	v.SetDefault("log-max-backups", defaultLogMaxBackups)
	v.SetDefault("log-max-age", defaultLogMaxAgeDays)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "sightline", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, statErr := os.Stat(cfg.ConfigPath); statErr != nil {
		cfg.ConfigPath = ""
	}

	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	u, err := url.Parse(cfg.EngineURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return cfg, fmt.Errorf("invalid engine-url: %q", cfg.EngineURL)
	}
	switch cfg.DefaultSpanUnit {
	case "ms", "s", "m", "h", "d", "w", "M", "q", "y":
	default:
		return cfg, fmt.Errorf("invalid default-span-unit: %q", cfg.DefaultSpanUnit)
	}

	// Expand ~ in paths
	cfg.DBPath = expandHome(home, cfg.DBPath)
	cfg.LogPath = expandHome(home, cfg.LogPath)

	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(defaultBindHost, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
