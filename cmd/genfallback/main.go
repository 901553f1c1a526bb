package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iamade/litinkapp-sub002/internal/api"
	"github.com/iamade/litinkapp-sub002/internal/circuitbreaker"
	"github.com/iamade/litinkapp-sub002/internal/config"
	"github.com/iamade/litinkapp-sub002/internal/fallback"
	"github.com/iamade/litinkapp-sub002/internal/httputil"
	"github.com/iamade/litinkapp-sub002/internal/metrics"
	"github.com/iamade/litinkapp-sub002/internal/notifications"
	"github.com/iamade/litinkapp-sub002/internal/provider"
	"github.com/iamade/litinkapp-sub002/internal/provider/bedrock"
	"github.com/iamade/litinkapp-sub002/internal/provider/httpgen"
	"github.com/iamade/litinkapp-sub002/internal/queue"
	"github.com/iamade/litinkapp-sub002/internal/repository"
	"github.com/iamade/litinkapp-sub002/internal/secrets"
	"github.com/iamade/litinkapp-sub002/internal/statuscache"
	"github.com/iamade/litinkapp-sub002/internal/task"
	"github.com/iamade/litinkapp-sub002/internal/telemetry"
	"github.com/iamade/litinkapp-sub002/internal/tierconfig"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting generation fallback service", "addr", cfg.Addr, "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, "genfallback", cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer shutdown(context.Background())
		slog.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
	}

	chains, err := tierconfig.Default()
	if err != nil {
		slog.Error("invalid provider chain configuration", "error", err)
		os.Exit(1)
	}

	var secretStore secrets.Store
	if cfg.UseAWSSecrets {
		secretStore, err = secrets.NewAWSStore(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Error("failed to connect to secrets manager", "error", err)
			os.Exit(1)
		}
		slog.Info("using aws secrets manager for provider keys")
	} else {
		secretStore = secrets.NewEnvStore()
	}

	registry, err := buildRegistry(ctx, cfg, chains, secretStore)
	if err != nil {
		slog.Error("provider registry incomplete", "error", err)
		os.Exit(1)
	}

	var notifier notifications.Notifier
	if cfg.SNSTopicARN != "" {
		notifier, err = notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Error("failed to connect to sns", "error", err)
			os.Exit(1)
		}
		slog.Info("using sns notifier", "topic", cfg.SNSTopicARN)
	} else {
		notifier = notifications.LogNotifier{}
		slog.Info("using log notifier")
	}

	breakerCfg := circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Window:           cfg.BreakerWindow,
	}

	breakerOpts := []circuitbreaker.ManagerOption{
		circuitbreaker.WithStateChangeHook(func(providerID string, state circuitbreaker.State) {
			metrics.SetCircuitBreakerState(providerID, int(state))

			notification := notifications.Notification{
				Type:     notifications.NotificationProviderUp,
				Provider: providerID,
				Message:  "circuit breaker closed, provider recovered",
			}
			if state == circuitbreaker.StateOpen {
				notification.Type = notifications.NotificationProviderDown
				notification.Message = "circuit breaker open, provider unavailable"
			}
			if err := notifier.Send(context.Background(), notification); err != nil {
				slog.Warn("failed to send provider state notification",
					"provider", providerID, "error", err)
			}
		}),
	}
	if cfg.UseDistributedBreaker && cfg.RedisURL != "" {
		breakerOpts = append(breakerOpts, circuitbreaker.WithRedis(cfg.RedisURL))
		slog.Info("using distributed circuit breakers", "url", cfg.RedisURL)
	}
	breakers := circuitbreaker.NewManager(breakerCfg, breakerOpts...)

	engine := fallback.New(chains, breakers, fallback.DefaultConfig())

	var store repository.TaskRepository
	var checkers []api.HealthChecker
	if cfg.DatabaseURL != "" {
		db, err := repository.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = repository.NewPostgresTaskRepository(db)
		checkers = append(checkers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres task repository")
	} else {
		store = repository.NewInMemoryTaskRepository()
		slog.Info("using in-memory task repository")
	}

	var taskQueue queue.Queue
	if cfg.TaskQueueURL != "" {
		sqsQueue, err := queue.NewSQSQueue(ctx, cfg.AWSRegion, cfg.TaskQueueURL)
		if err != nil {
			slog.Error("failed to connect to sqs", "error", err)
			os.Exit(1)
		}
		taskQueue = sqsQueue
		checkers = append(checkers, api.NewQueueHealthChecker(sqsQueue.Ping))
		slog.Info("using sqs task queue", "url", cfg.TaskQueueURL)
	} else {
		taskQueue = queue.NewInMemoryQueue()
		slog.Info("using in-memory task queue")
	}

	var statusCache statuscache.Cache
	if cfg.RedisURL != "" {
		redisCache, err := statuscache.NewRedisCache(cfg.RedisURL)
		if err != nil {
			slog.Warn("failed to connect to redis for status cache, using in-memory", "error", err)
			statusCache = statuscache.NewInMemoryCache()
		} else {
			statusCache = redisCache
			slog.Info("using redis status cache")
		}
		if checker, err := api.NewRedisHealthChecker(cfg.RedisURL); err == nil {
			checkers = append(checkers, checker)
		}
	} else {
		statusCache = statuscache.NewInMemoryCache()
		slog.Info("using in-memory status cache")
	}

	runnerCfg := task.DefaultRunnerConfig()
	runnerCfg.WorkerCount = cfg.WorkerCount
	runnerCfg.MaxRetries = cfg.MaxRetries
	runnerCfg.RetryBaseDelay = cfg.RetryBaseDelay
	runnerCfg.RetryCapDelay = cfg.RetryCapDelay

	runner := task.NewRunner(store, taskQueue, engine, registry, runnerCfg,
		task.WithNotifier(notifier))

	pool := task.NewWorkerPool(runner, store, taskQueue, runnerCfg)
	if err := pool.Start(); err != nil {
		slog.Error("failed to start worker pool", "error", err)
		os.Exit(1)
	}

	service := task.NewService(store, taskQueue, cfg.MaxRetries)

	handler := api.NewHandler(api.HandlerConfig{
		Tasks:       service,
		Breakers:    breakers,
		StatusCache: statusCache,
		Chains:      chains,
		Checkers:    checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Let in-flight tasks finish before the workers go away; unfinished
	// deliveries come back via queue redelivery.
	pool.Stop()

	slog.Info("stopped")
}

// mediaVendors render video or audio synchronously and need the
// long-timeout HTTP client.
var mediaVendors = map[string]bool{
	"kling":      true,
	"luma":       true,
	"pika":       true,
	"runway":     true,
	"elevenlabs": true,
	"playht":     true,
}

// buildRegistry registers an invoker for every vendor referenced by the
// chain table. Startup fails if any chain names a vendor without one.
func buildRegistry(ctx context.Context, cfg *config.Config, chains *tierconfig.Table, secretStore secrets.Store) (*provider.Registry, error) {
	registry := provider.NewRegistry()

	seen := make(map[string]bool)
	for _, candidateID := range chains.Providers() {
		vendor := provider.Vendor(candidateID)
		if seen[vendor] {
			continue
		}
		seen[vendor] = true

		if vendor == "bedrock" {
			if !cfg.BedrockEnabled {
				slog.Warn("bedrock referenced by chains but disabled", "vendor", vendor)
				continue
			}
			adapter, err := bedrock.New(ctx, cfg.AWSRegion)
			if err != nil {
				return nil, err
			}
			registry.Register(vendor, adapter)
			slog.Info("registered provider", "vendor", vendor, "adapter", "bedrock")
			continue
		}

		baseURL, apiKey := vendorEndpoint(cfg, vendor)
		if cfg.UseAWSSecrets {
			if key, err := secrets.ProviderKey(ctx, secretStore, vendor); err == nil && key != "" {
				apiKey = key
			} else if err != nil {
				slog.Warn("no secret for vendor, falling back to env key",
					"vendor", vendor, "error", err)
			}
		}
		if baseURL == "" {
			slog.Warn("vendor has no endpoint configured", "vendor", vendor)
			continue
		}

		client := httputil.DefaultClient()
		if mediaVendors[vendor] {
			client = httputil.MediaClient()
		}
		registry.Register(vendor, httpgen.NewWithClient(vendor, baseURL, apiKey, client))
		slog.Info("registered provider", "vendor", vendor, "url", baseURL)
	}

	if err := registry.Covers(chains.Providers()); err != nil {
		return nil, err
	}
	return registry, nil
}

func vendorEndpoint(cfg *config.Config, vendor string) (baseURL, apiKey string) {
	switch vendor {
	case "openai":
		return cfg.OpenAIBaseURL, cfg.OpenAIAPIKey
	case "anthropic":
		return cfg.AnthropicBaseURL, cfg.AnthropicAPIKey
	case "stability":
		return cfg.StabilityBaseURL, cfg.StabilityAPIKey
	case "elevenlabs":
		return cfg.ElevenLabsBaseURL, cfg.ElevenLabsAPIKey
	default:
		return cfg.DefaultGenBaseURL, cfg.DefaultGenAPIKey
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
