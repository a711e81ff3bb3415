package main

// @title           docintel API
// @version         1.0
// @description     Document intelligence pipeline. Turns uploaded invoices, receipts and contracts
// @description     into resolved counterparties, prioritized commitments and an audit trail.

// @host      localhost:8080
// @BasePath  /
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token. Format: "Bearer {token}"

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/docintel/internal/adapters/driven/auth"
	"github.com/custodia-labs/docintel/internal/adapters/driven/blob"
	"github.com/custodia-labs/docintel/internal/adapters/driven/memory"
	"github.com/custodia-labs/docintel/internal/adapters/driven/postgres"
	postgresqueue "github.com/custodia-labs/docintel/internal/adapters/driven/queue/postgres"
	redisqueue "github.com/custodia-labs/docintel/internal/adapters/driven/queue/redis"
	"github.com/custodia-labs/docintel/internal/adapters/driven/recognition"
	redisadapter "github.com/custodia-labs/docintel/internal/adapters/driven/redis"
	"github.com/custodia-labs/docintel/internal/adapters/driving/http"
	"github.com/custodia-labs/docintel/internal/core/domain"
	"github.com/custodia-labs/docintel/internal/core/ports/driven"
	"github.com/custodia-labs/docintel/internal/core/ports/driving"
	"github.com/custodia-labs/docintel/internal/core/services"
	"github.com/custodia-labs/docintel/internal/worker"
)

var version = "dev"

// pingFunc adapts a health check function to http.Pinger
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// infrastructure holds the driven adapters selected from the environment
type infrastructure struct {
	backend   driven.Backend
	queue     driven.TaskQueue
	lock      driven.DistributedLock
	schedules driven.SchedulerStore
	checks    map[string]http.Pinger
	closers   []func() error
}

func (i *infrastructure) close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		if err := i.closers[n](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

func main() {
	// Get run mode from environment (RUN_MODE) or command line arg
	mode := getEnv("RUN_MODE", "all")
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}
	switch mode {
	case "api", "worker", "all":
	case "token":
		if err := issueToken(context.Background(), os.Stdout); err != nil {
			log.Fatalf("Failed to issue token: %v", err)
		}
		return
	default:
		log.Fatalf("Unknown mode: %s (use: api, worker, all, or token)", mode)
	}

	logger := newLogger(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "text"))
	slog.SetDefault(logger)

	log.Printf("docintel %s starting in %s mode", version, mode)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	infra, err := connect(ctx, mode)
	if err != nil {
		log.Fatalf("Failed to initialize infrastructure: %v", err)
	}
	defer infra.close()

	// ===== Driven adapters =====
	blobs, err := blob.NewFileSystem(getEnv("BLOB_DIR", "./data/blobs"))
	if err != nil {
		log.Fatalf("Failed to open blob storage: %v", err)
	}

	recognizer, err := recognition.NewClient(recognition.Config{
		BaseURL: getEnv("RECOGNITION_URL", ""),
		APIKey:  getEnv("RECOGNITION_API_KEY", ""),
		Model:   getEnv("RECOGNITION_MODEL", ""),
		Timeout: getEnvDuration("RECOGNITION_TIMEOUT", 60*time.Second),
	})
	if err != nil {
		log.Fatalf("Failed to configure recognition client: %v", err)
	}
	defer recognizer.Close()
	infra.checks["recognition"] = pingFunc(recognizer.HealthCheck)

	// ===== Domain configuration =====
	contentCfg := domain.DefaultContentConfig()
	contentCfg.MaxBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(contentCfg.MaxBytes)))

	resolverCfg := domain.DefaultResolverConfig()
	resolverCfg.FuzzyNameThreshold = getEnvFloat("FUZZY_NAME_THRESHOLD", resolverCfg.FuzzyNameThreshold)
	resolverCfg.NameAddressThreshold = getEnvFloat("NAME_ADDRESS_THRESHOLD", resolverCfg.NameAddressThreshold)

	// ===== Services =====
	pipeline := services.NewPipeline(services.PipelineConfig{
		Backend:            infra.backend,
		Blobs:              blobs,
		Recognizer:         recognizer,
		TaskQueue:          infra.queue,
		Lock:               infra.lock,
		Content:            contentCfg,
		Resolver:           resolverCfg,
		Priority:           domain.DefaultPriorityConfig(),
		RecognitionTimeout: getEnvDuration("RECOGNITION_TIMEOUT", 60*time.Second),
		Logger:             logger,
	})
	commitments := services.NewCommitmentService(services.CommitmentServiceConfig{
		Backend: infra.backend,
		Engine:  pipeline.Engine(),
		Logger:  logger,
	})

	var authService driving.AuthService
	if secret := getEnv("JWT_SECRET", ""); secret != "" {
		authAdapter, err := auth.NewAdapter(secret)
		if err != nil {
			log.Fatalf("Failed to configure auth: %v", err)
		}
		authService = services.NewAuthService(authAdapter)
	}
	authRequired := getEnvBool("AUTH_REQUIRED", false)
	if authRequired && authService == nil {
		log.Fatal("AUTH_REQUIRED=true needs JWT_SECRET")
	}

	// The API serves schedule administration; only workers run the loop.
	scheduler := services.NewScheduler(services.SchedulerConfig{
		Store:     infra.schedules,
		TaskQueue: infra.queue,
		Lock:      infra.lock,
		Logger:    logger,
	})
	defaults := domain.DefaultScheduledTasks(
		getEnvDuration("REAP_INTERVAL", 5*time.Minute),
		getEnvDuration("RESCORE_INTERVAL", time.Hour),
	)
	if err := scheduler.EnsureSchedule(ctx, defaults); err != nil {
		log.Fatalf("Failed to register schedules: %v", err)
	}

	var workerScheduler *services.Scheduler
	if getEnvBool("SCHEDULER_ENABLED", true) && mode != "api" {
		workerScheduler = scheduler
		log.Println("Scheduler enabled")
	}

	switch mode {
	case "api":
		runAPI(ctx, logger, infra, authService, authRequired, pipeline, commitments, scheduler)

	case "worker":
		runWorkerMode(ctx, logger, infra.queue, pipeline, commitments, workerScheduler)

	case "all":
		// Worker in background, API in foreground
		go runWorkerMode(ctx, logger, infra.queue, pipeline, commitments, workerScheduler)
		runAPI(ctx, logger, infra, authService, authRequired, pipeline, commitments, scheduler)
	}
}

// connect selects the store, queue, lock and schedule backends.
// DATABASE_URL empty selects the in-memory adapters; REDIS_URL switches
// the queue and lock to Redis.
func connect(ctx context.Context, mode string) (*infrastructure, error) {
	infra := &infrastructure{checks: make(map[string]http.Pinger)}

	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		if mode != "all" {
			log.Printf("Warning: in-memory store is process-local; %s mode will not share state", mode)
		}
		log.Println("Using in-memory store, queue, lock and schedules")
		infra.backend = memory.NewStore()
		infra.queue = memory.NewTaskQueue()
		infra.lock = memory.NewLock()
		infra.schedules = memory.NewSchedulerStore()
	} else {
		log.Println("Connecting to PostgreSQL...")
		dbConfig := postgres.Config{
			URL:             databaseURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: time.Duration(getEnvInt("DB_CONN_MAX_LIFETIME_SEC", 300)) * time.Second,
			ConnMaxIdleTime: time.Duration(getEnvInt("DB_CONN_MAX_IDLE_SEC", 60)) * time.Second,
		}
		db, err := postgres.Connect(ctx, dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		infra.closers = append(infra.closers, db.Close)

		// Initialize schema (idempotent)
		if err := db.InitSchema(ctx); err != nil {
			infra.close()
			return nil, err
		}
		log.Println("PostgreSQL connected and schema initialized")

		infra.backend = postgres.NewBackend(db)
		infra.queue = postgresqueue.NewQueue(db.DB)
		infra.lock = postgres.NewAdvisoryLock(db)
		infra.schedules = postgres.NewSchedulerStore(db)
	}
	infra.checks["store"] = infra.backend

	if redisURL := getEnv("REDIS_URL", ""); redisURL != "" {
		log.Println("Connecting to Redis...")
		client, err := redisadapter.Connect(ctx, redisURL)
		if err != nil {
			infra.close()
			return nil, err
		}
		infra.closers = append(infra.closers, client.Close)

		if err := useRedis(ctx, infra, client); err != nil {
			infra.close()
			return nil, err
		}
		infra.checks["redis"] = pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		log.Println("Using Redis task queue and distributed lock")
	}

	infra.checks["queue"] = infra.queue
	infra.closers = append(infra.closers, infra.queue.Close)
	return infra, nil
}

func useRedis(ctx context.Context, infra *infrastructure, client *redis.Client) error {
	hostname, _ := os.Hostname()
	queue, err := redisqueue.NewQueue(ctx, client, redisqueue.Config{
		Namespace:    getEnv("REDIS_NAMESPACE", redisqueue.DefaultNamespace),
		ConsumerName: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	})
	if err != nil {
		return fmt.Errorf("failed to create task queue: %w", err)
	}
	infra.queue = queue
	infra.lock = redisadapter.NewLock(client)
	return nil
}

func runAPI(
	ctx context.Context,
	logger *slog.Logger,
	infra *infrastructure,
	authService driving.AuthService,
	authRequired bool,
	pipeline *services.Pipeline,
	commitments driving.CommitmentService,
	scheduler driving.SchedulerService,
) {
	cfg := http.Config{
		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           getEnvInt("PORT", 8080),
		Version:        version,
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", int(domain.DefaultContentConfig().MaxBytes))),
		AuthRequired:   authRequired,
		AllowedOrigins: splitList(getEnv("CORS_ORIGINS", "")),
		Logger:         logger,
	}

	server := http.NewServer(cfg, http.Services{
		Auth:        authService,
		Pipeline:    pipeline,
		Documents:   services.NewDocumentService(infra.backend, pipeline.Content()),
		Parties:     services.NewPartyService(infra.backend, pipeline.Resolver(), logger),
		Commitments: commitments,
		Audit:       services.NewAuditService(infra.backend.Interactions()),
		Scheduler:   scheduler,
	}, infra.queue, infra.checks)

	log.Printf("API server starting on :%d (auth_required=%t)", cfg.Port, authRequired)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// runWorkerMode starts the worker and scheduler and blocks until ctx ends.
func runWorkerMode(
	ctx context.Context,
	logger *slog.Logger,
	taskQueue driven.TaskQueue,
	pipeline *services.Pipeline,
	commitments driving.CommitmentService,
	scheduler *services.Scheduler,
) {
	log.Println("Starting worker mode...")

	w := worker.NewWorker(worker.WorkerConfig{
		TaskQueue:        taskQueue,
		Pipeline:         pipeline,
		Intake:           pipeline.Intake(),
		Commitments:      commitments,
		Scheduler:        scheduler,
		Logger:           logger,
		Concurrency:      getEnvInt("WORKER_CONCURRENCY", 2),
		DequeueTimeout:   getEnvInt("WORKER_DEQUEUE_TIMEOUT", 5),
		SignalStaleAfter: getEnvDuration("SIGNAL_STALE_AFTER", 15*time.Minute),
	})

	if err := w.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	log.Println("Worker started, processing tasks...")
	log.Println("Worker handles:")
	log.Println("  - process_upload: Run the pipeline for a stored document")
	log.Println("  - reap_signals: Archive signals stuck in processing")
	log.Println("  - rescore_commitments: Refresh time pressure of pending commitments")

	<-ctx.Done()

	log.Println("Stopping worker...")
	w.Stop()
	log.Println("Worker stopped")
}

// Helper functions

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(value, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
