package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/api"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/auth"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/dashboard"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/database"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/telemetry"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/shutdown"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the DataDiscoveryServer HTTP API.

This server provides:
- Findings ingestion for scanner agents (POST /api/v1/findings, X-API-Key)
- Session-gated dashboard and CSV/XLSX report downloads
- Admin user management
- Health checks (GET /health)

Example:
  datadiscovery serve --port 8080
  datadiscovery serve --config prod.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Bool("cors", true, "Enable CORS for local dashboard frontends")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("server.enable_cors", serveCmd.Flags().Lookup("cors"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	log = log.WithComponent("serve")

	if cfg.Security.IngestAPIKey == "" {
		if key := os.Getenv("PIIDD_INGEST_API_KEY"); key != "" {
			cfg.Security.IngestAPIKey = key
		} else {
			return fmt.Errorf("ingest API key not configured: set PIIDD_INGEST_API_KEY or security.ingest_api_key")
		}
	}

	ctx := context.Background()

	telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	pool, err := database.NewPool(ctx, cfg.Database, log)
	if err != nil {
		// Storage never came up within the retry budget. Keep serving
		// anyway: health and login stay reachable, storage-backed routes
		// answer 503 until the process is restarted with storage back.
		log.LogError(ctx, err, "serve.StorageInit")
		log.Warnw("Starting in degraded mode, storage unavailable",
			"driver", cfg.Database.Driver,
		)
		pool = database.NewDegradedPool(cfg.Database, log)
	}

	if cfg.Database.Driver == "sqlite3" {
		log.Warnw("Using SQLite database",
			"warning", "SQLite has concurrency limitations",
			"recommendation", "Use PostgreSQL for production deployments",
		)
	}

	findings := database.NewFindingStore(pool, log)
	users := database.NewUserStore(pool, log)
	gate := auth.NewGate(users, cfg.Security.IngestAPIKey, log)
	engine := dashboard.NewEngine(findings, log)
	server := api.NewServer(cfg, pool, findings, engine, gate, log)

	handler := shutdown.NewHandler()
	handler.RegisterShutdownFunc(func() error {
		return telemetryShutdown(context.Background())
	})
	handler.RegisterShutdownFunc(pool.Shutdown)
	handler.RegisterShutdownFunc(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	go handler.WaitForShutdown(ctx)

	log.Infow("Starting DataDiscoveryServer",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"driver", cfg.Database.Driver,
		"cors_enabled", cfg.Server.EnableCORS,
		"config_file", viper.ConfigFileUsed(),
	)

	if err := server.Start(cfg.Security.RateLimit); err != nil {
		// The listener died on its own; still flush telemetry and close
		// the pool, bounded so a stuck hook cannot wedge the exit.
		if serr := handler.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); serr != nil {
			log.Errorw("Cleanup after listener failure timed out", "error", serr)
		}
		return err
	}

	// Start returned because a signal triggered the shutdown handler; wait
	// for the remaining shutdown funcs (pool, telemetry) to finish.
	<-handler.Done()
	return nil
}
