// Command czar-http is the process entry point: it parses the CLI
// options spec.md §6 names, wires the Czar-facing modules (meta,
// query-async tracking, ingest orchestration) onto one serverhttp.Server,
// and also mounts the worker-side ingest/export modules so the binary is
// self-contained for local operation — there is no separate worker
// process in this build, only the one "Czar front-end binary" spec.md
// describes.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/qserv-ingest/czarctl/internal/export"
	"github.com/qserv-ingest/czarctl/internal/ingest"
	"github.com/qserv-ingest/czarctl/internal/metainfo"
	"github.com/qserv-ingest/czarctl/internal/modreq"
	"github.com/qserv-ingest/czarctl/internal/queryctl"
	"github.com/qserv-ingest/czarctl/internal/serverhttp"
	"github.com/qserv-ingest/czarctl/internal/workeringest"
	"github.com/qserv-ingest/czarctl/middleware"
)

// currentAPIVersion is the build's own API version, checked against
// every request's declared "version" field (spec.md §4.5).
const currentAPIVersion = 33

func main() {
	port := flag.Int("port", 8080, "HTTP port to listen on")
	threads := flag.Int("threads", 0, "number of OS threads available to the server (0 = all cores)")
	workerIngestThreads := flag.Int("worker-ingest-threads", 4, "size of the worker fan-out pool (C6)")
	sslCertFile := flag.String("ssl-cert-file", "", "TLS certificate file; empty disables TLS")
	sslPrivateKeyFile := flag.String("ssl-private-key-file", "", "TLS private key file; empty disables TLS")
	tmpDir := flag.String("tmp-dir", os.TempDir(), "directory for staged ingest/export files")
	connPoolSize := flag.Int("conn-pool-size", 10, "database connection pool size")
	czarName := flag.String("czar-name", "czar", "this Czar instance's identity, reported by /meta/version")
	configFile := flag.String("config", "", "path to a .env-style configuration file (optional)")
	flag.Parse()

	if *configFile != "" {
		if err := godotenv.Load(*configFile); err != nil {
			log.Printf("warning: could not load config file %s: %v", *configFile, err)
		}
	} else if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables and flag defaults")
	}

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := setupDatabase(*connPoolSize)
	if err != nil {
		logger.Fatal("failed to set up database", zap.Error(err))
	}

	auth := modreq.Context{
		AuthKey:      os.Getenv("CZAR_AUTH_KEY"),
		AdminAuthKey: os.Getenv("CZAR_ADMIN_AUTH_KEY"),
	}
	modreqCfg := modreq.Config{Auth: auth}

	protocol := ingest.ProtocolFields{
		Version:      currentAPIVersion,
		InstanceID:   os.Getenv("CZAR_INSTANCE_ID"),
		AuthKey:      auth.AuthKey,
		AdminAuthKey: auth.AdminAuthKey,
	}

	orch := ingest.New(ingest.Config{
		ControllerBaseURL: os.Getenv("REPLICATION_CONTROLLER_URL"),
		RegistryBaseURL:   os.Getenv("REPLICATION_REGISTRY_URL"),
		Protocol:          protocol,
		RequestTimeoutSec: 300,
		FanOutPoolThreads: *workerIngestThreads,
	}, logger)
	defer orch.Close()

	meta, err := workeringest.NewGormMetadataStore(db)
	if err != nil {
		logger.Fatal("failed to set up ingest metadata store", zap.Error(err))
	}
	store, err := workeringest.NewStore(db)
	if err != nil {
		logger.Fatal("failed to set up contribution ledger", zap.Error(err))
	}
	loader := workeringest.NewLoader(db, *tmpDir)

	queryDeps := queryctl.Deps{Tracker: queryctl.NewMemTracker(1)}

	srv := serverhttp.New(serverhttp.Config{
		Port:                   *port,
		Threads:                *threads,
		RequestTimeout:         300 * time.Second,
		MaxResponseBufferBytes: 1024 * 1024,
		SSLCertFile:            *sslCertFile,
		SSLPrivateKeyFile:      *sslPrivateKeyFile,
	}, logger)

	registerRoutes(srv, modreqCfg, *czarName, orch, db, meta, store, loader, queryDeps, *tmpDir, logger)

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}
	logger.Info("czar-http listening", zap.Int("port", *port))

	waitForShutdown(srv, logger)
}

// registerRoutes mounts every HTTP module this build exposes. The
// client-facing paths match spec.md §6's EXTERNAL INTERFACES table
// exactly; the worker-side C9/C10/C11 modules, which in a full
// deployment run inside a separate worker process, are mounted under
// /worker/ so this single binary can still exercise and demonstrate
// them end to end.
func registerRoutes(
	srv *serverhttp.Server,
	cfg modreq.Config,
	czarName string,
	orch *ingest.Orchestrator,
	db *gorm.DB,
	meta workeringest.MetadataStore,
	store *workeringest.Store,
	loader *workeringest.Loader,
	queryDeps queryctl.Deps,
	tmpDir string,
	logger *zap.Logger,
) {
	r := srv.Engine

	// query-async's streaming result path (queryctl.ResultHandler,
	// ?stream=1) writes through the "send"/"sendStream" helpers these
	// set on the context, the same pipeline the teacher's ticket
	// streaming endpoints use.
	r.Use(middleware.RequestInit())
	r.Use(middleware.ResponseInit())

	r.GET("/meta/version", metainfo.Handler(metainfo.Info{
		Kind:       "czar",
		ID:         czarName,
		InstanceID: czarName,
	}, currentAPIVersion))

	r.POST("/query-async", queryctl.SubmitHandler(cfg, queryDeps))
	r.DELETE("/query-async/:qid", queryctl.CancelHandler(cfg, queryDeps))
	r.GET("/query-async/status/:qid", queryctl.StatusHandler(cfg, queryDeps))
	r.GET("/query-async/result/:qid", queryctl.ResultHandler(cfg, queryDeps))
	r.DELETE("/query-async/result/:qid", queryctl.ResultDeleteHandler(cfg, queryDeps))

	r.POST("/ingest/data", ingest.JSONDataHandler(cfg, orch))
	r.POST("/ingest/csv", ingest.CSVHandler(cfg, orch))
	r.DELETE("/ingest/database/:database", ingest.DropDatabaseHandler(cfg, orch))
	r.DELETE("/ingest/table/:database/:table", ingest.DropTableHandler(cfg, orch))

	csvDeps := workeringest.CSVIngestDeps{
		Meta:                  meta,
		Store:                 store,
		Loader:                loader,
		DefaultCharsetName:    "latin1",
		DefaultMaxNumWarnings: 64,
	}
	jsonDeps := workeringest.JSONRowsIngestDeps{
		Meta:                  meta,
		Store:                 store,
		Loader:                loader,
		DefaultCharsetName:    "latin1",
		DefaultMaxNumWarnings: 64,
	}
	r.POST("/worker/ingest/csv", workeringest.CSVIngestHandler(cfg, czarName, csvDeps))
	r.POST("/worker/ingest/data", workeringest.JSONRowsIngestHandler(cfg, czarName, jsonDeps))

	exportDeps := export.Deps{Meta: meta, DB: db, TmpDir: tmpDir, Logger: logger}
	r.GET("/worker/export/table/:database/:table", export.Handler(cfg, exportDeps, false))
	r.GET("/worker/export/table/:database/:table/:chunk", export.Handler(cfg, exportDeps, true))
}

func newLogger() (*zap.Logger, error) {
	if os.Getenv("CZAR_LOG_MODE") == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func setupDatabase(connPoolSize int) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bookkeeping database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(connPoolSize)
	sqlDB.SetMaxIdleConns(connPoolSize)
	return db, nil
}

func waitForShutdown(srv *serverhttp.Server, logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
		os.Exit(1)
	}
}
