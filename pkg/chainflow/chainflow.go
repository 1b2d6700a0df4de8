package chainflow

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chainflow-io/chainflow/internal/bus"
	"github.com/chainflow-io/chainflow/internal/config"
	"github.com/chainflow-io/chainflow/internal/controllers"
	"github.com/chainflow-io/chainflow/internal/engine"
	"github.com/chainflow-io/chainflow/internal/migrations"
	"github.com/chainflow-io/chainflow/internal/repository"
	"github.com/chainflow-io/chainflow/internal/worker"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lmittmann/tint"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Start boots the orchestration node: database, broker, one worker per
// registered topic family, and the HTTP API. The registry must be fully
// populated before invocation. This call blocks until shutdown.
func Start(registry *engine.Registry, mux *http.ServeMux) error {
	if err := registry.Validate(); err != nil {
		return err
	}

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType == "" || (databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLLITE) {
		panic("CFLOW_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLLITE {
		db = setupSqlLiteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	workflowRepo := repository.NewWorkflowRepository(db)
	stepRepo := repository.NewWorkflowStepRepository(db)
	workerProcessRepo := repository.NewWorkerProcessRepository(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	natsURL := config.GetSystemSettingString(config.NATS_URL)
	slog.Info("Connecting to broker", "url", natsURL)
	messageBus, err := bus.Connect(natsURL)
	if err != nil {
		return err
	}
	defer messageBus.Close()
	for _, family := range registry.Families() {
		if err := messageBus.EnsureStream(ctx, family); err != nil {
			return err
		}
	}

	chainID := config.GetSystemSettingString(config.CHAIN_ID)
	router := engine.NewRouter(registry, stepRepo, workflowRepo, messageBus, chainID)
	creator := engine.NewCreator(registry, workflowRepo, stepRepo, messageBus, chainID)

	lifetime, _ := time.ParseDuration(config.GetSystemSettingString(config.WORKER_RESTART_INTERVAL))
	ackWait, _ := time.ParseDuration(config.GetSystemSettingString(config.WORKER_ACK_WAIT))
	stuckScan, _ := time.ParseDuration(config.GetSystemSettingString(config.STUCK_STEPS_INTERVAL))
	stuckAfter := time.Duration(config.GetSystemSettingInteger(config.STUCK_STEPS_AFTER_MINUTES)) * time.Minute

	workerErrs := make(chan error, len(registry.Families()))
	for _, family := range registry.Families() {
		w := worker.New(worker.Config{
			Kind:            family,
			Family:          family,
			ChainID:         chainID,
			Group:           config.GetSystemSettingString(config.WORKER_GROUP),
			SequenceNumber:  config.GetSystemSettingInteger(config.WORKER_SEQUENCE_NUMBER),
			Prefetch:        config.GetSystemSettingInteger(config.WORKER_PREFETCH),
			AckWait:         ackWait,
			Lifetime:        lifetime,
			StuckAfter:      stuckAfter,
			StuckScanPeriod: stuckScan,
		}, busSubscriber{messageBus}, router, workerProcessRepo, stepRepo)
		go func() {
			workerErrs <- w.Run(ctx)
		}()
	}

	if mux == nil {
		mux = http.NewServeMux()
	}
	workflowsController := controllers.NewWorkflowsController(workflowRepo, stepRepo, creator)
	workflowsController.RegisterRoutes(mux)
	workersController := controllers.NewWorkersController(workerProcessRepo)
	workersController.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("Starting HTTP server", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	// workers drain in-flight messages before the process exits
	for range registry.Families() {
		if err := <-workerErrs; err != nil {
			slog.Error("Worker exited with error", "error", err)
		}
	}
	return nil
}

// busSubscriber adapts *bus.Bus to the worker's Subscriber interface.
type busSubscriber struct {
	bus *bus.Bus
}

func (s busSubscriber) Subscribe(ctx context.Context, family string, scope string, durable string, prefetch int, ackWait time.Duration, handler bus.Handler) (worker.Subscription, error) {
	return s.bus.Subscribe(ctx, family, scope, durable, prefetch, ackWait, handler)
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("CFLOW_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqlLiteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLLITE_FILE_NAME)
	if fileName == "" {
		panic("CFLOW_DATABASE_SQLLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqllite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlLite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlLite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlLite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("CFLOW_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("CFLOW_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("CFLOW_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	_ = slog.New(tint.NewHandler(w, nil))
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
