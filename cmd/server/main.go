/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Build the logger
  3. Load region rule sets (file or embedded defaults)
  4. Initialize SQLite store
  5. Wire service, export gateway, accounting sync and handler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (PAYROLL_PORT, default 8080)
  -db      SQLite database path (PAYROLL_DB_PATH, default payroll.db)
           Use ":memory:" for in-memory database
  -rules   Rule set file, .yaml or .json (PAYROLL_RULES_FILE)

ENVIRONMENT:
  PAYROLL_LOG_LEVEL, PAYROLL_LOG_FORMAT, PAYROLL_CORS_ORIGINS,
  PAYROLL_VACATION_ADVISORY_PERCENT, PAYROLL_SYNC_INTERVAL,
  PAYROLL_SYNC_WEBHOOK_URL. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the accounting sync worker
  4. Close database connection

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/export"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/logging"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	rulesFile := flag.String("rules", cfg.RulesFile, "Rule set file (.yaml or .json)")
	flag.Parse()
	cfg.Port, cfg.DBPath, cfg.RulesFile = *port, *dbPath, *rulesFile
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, ServiceName: "payroll-engine"})

	// Rule sets
	rf := factory.NewRuleSetFactory()
	var rules *payroll.RuleBook
	if cfg.RulesFile != "" {
		rules, err = rf.LoadFile(cfg.RulesFile)
	} else {
		rules, err = rf.Defaults()
	}
	if err != nil {
		log.Fatalf("Failed to load rule sets: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Service
	svc := payroll.NewRecordService(store, rules, log)
	svc.Exporter = export.NewGateway()
	svc.VacationAdvisoryPercent = cfg.VacationAdvisoryPercent

	// Accounting sync
	var journal api.JournalClient = api.LocalJournal{}
	if cfg.SyncWebhookURL != "" {
		journal = api.NewWebhookJournal(cfg.SyncWebhookURL)
	}
	syncer := api.NewAccountingSync(svc, journal, cfg.SyncInterval, log)
	syncer.Start()

	// Handler and router
	handler := api.NewHandler(svc, log)
	handler.Factory = rf
	handler.Sync = syncer
	handler.DB = store
	router := api.NewRouter(handler, cfg.CORSAllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": server.Addr, "db": cfg.DBPath}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}
	syncer.Stop()

	log.Info("server stopped")
}
