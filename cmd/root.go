package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/config"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "datadiscovery",
	Short: "PII findings ingestion and aggregation server",
	Long: `DataDiscoveryServer - PII Findings Ingestion & Aggregation

Collects PII detection findings from scanner agents, aggregates them into a
category/host dashboard, and serves CSV/XLSX reports behind role-based
access control.

USAGE:
  datadiscovery serve                 # Start the HTTP API server
  datadiscovery user create admin     # Bootstrap the first admin account
  datadiscovery user list             # List accounts and roles

Configuration is read from .piidd.yaml (working directory or $HOME) and
PIIDD_* environment variables; flags override both.`,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .piidd.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db-driver", "postgres", "database driver (postgres, sqlite3)")
	rootCmd.PersistentFlags().String("db-dsn", "", "database connection string")

	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".piidd")
	}

	viper.SetEnvPrefix("PIIDD")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// setDefaults registers every config key so viper.Unmarshal fills the gaps a
// partial config file or environment leaves.
func setDefaults() {
	defaults := config.DefaultConfig()

	viper.SetDefault("logger.level", defaults.Logger.Level)
	viper.SetDefault("logger.format", defaults.Logger.Format)

	viper.SetDefault("database.driver", defaults.Database.Driver)
	viper.SetDefault("database.dsn", defaults.Database.DSN)
	viper.SetDefault("database.min_connections", defaults.Database.MinConnections)
	viper.SetDefault("database.max_connections", defaults.Database.MaxConnections)
	viper.SetDefault("database.conn_max_lifetime", defaults.Database.ConnMaxLifetime)
	viper.SetDefault("database.acquire_timeout", defaults.Database.AcquireTimeout)
	viper.SetDefault("database.init_retries", defaults.Database.InitRetries)

	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)
	viper.SetDefault("server.enable_cors", defaults.Server.EnableCORS)

	viper.SetDefault("security.ingest_api_key", defaults.Security.IngestAPIKey)
	viper.SetDefault("security.rate_limit.requests_per_second", defaults.Security.RateLimit.RequestsPerSecond)
	viper.SetDefault("security.rate_limit.burst_size", defaults.Security.RateLimit.BurstSize)

	viper.SetDefault("telemetry.enabled", defaults.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", defaults.Telemetry.ServiceName)
	viper.SetDefault("telemetry.endpoint", defaults.Telemetry.Endpoint)
	viper.SetDefault("telemetry.sample_rate", defaults.Telemetry.SampleRate)
}

// loadConfig unmarshals the viper state into the typed config.
func loadConfig() (*config.Config, error) {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	return log, nil
}
