package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"basegraph.app/warden/common/id"
	"basegraph.app/warden/common/logger"
	"basegraph.app/warden/common/otel"
	"basegraph.app/warden/core/config"
	"basegraph.app/warden/core/db"
	"basegraph.app/warden/internal/audit"
	"basegraph.app/warden/internal/http/handler/webhook"
	"basegraph.app/warden/internal/http/middleware"
	httprouter "basegraph.app/warden/internal/http/router"
	"basegraph.app/warden/internal/metrics"
	"basegraph.app/warden/internal/queue"
	"basegraph.app/warden/internal/service"
	"basegraph.app/warden/internal/worker"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "warden starting", "env", cfg.Env, "dry_run", cfg.Policy.DryRun)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	auditLog, closeAudit, err := openAudit(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open audit log", "error", err)
		os.Exit(1)
	}
	defer closeAudit()

	var (
		redisClient *redis.Client
		events      queue.Publisher = queue.NoopPublisher{}
	)
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}

		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.Stream)

		events = queue.NewRedisPublisher(redisClient, cfg.Redis.Stream, cfg.Redis.MaxLen, slog.Default())
	} else {
		slog.InfoContext(ctx, "redis disabled: rate limits and cost counters are per process")
	}
	// Closing a Redis publisher also closes its client.
	defer events.Close()

	m := metrics.New()

	services, err := service.NewServices(service.ServicesConfig{
		Config:  cfg,
		Audit:   auditLog,
		Metrics: m,
		Redis:   redisClient,
		Events:  events,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create services", "error", err)
		os.Exit(1)
	}
	defer services.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	approvalWorker := worker.NewApprovalWorker(services.Queue(), services.Approvals(), m, worker.Config{
		Interval: cfg.Worker.Interval,
		WarnAge:  cfg.Worker.WarnAge,
		TTL:      cfg.Worker.TTL,
	})

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := approvalWorker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.InfoContext(ctx, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.ErrorContext(ctx, "server exited with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// openAudit builds the audit logger from the JSON-lines file and, when
// configured, the Postgres table. The returned func closes every sink.
func openAudit(ctx context.Context, cfg config.Config) (*audit.Logger, func(), error) {
	file, err := audit.OpenFile(cfg.Audit.Path)
	if err != nil {
		return nil, nil, err
	}
	sinks := []audit.Sink{file}

	var database *db.DB
	if cfg.Audit.DB.Enabled() {
		database, err = db.New(ctx, cfg.Audit.DB)
		if err != nil {
			_ = file.Close()
			return nil, nil, fmt.Errorf("connecting audit database: %w", err)
		}
		if err := database.EnsureAuditSchema(ctx); err != nil {
			database.Close()
			_ = file.Close()
			return nil, nil, err
		}
		sinks = append(sinks, audit.NewPostgresSink(database.Pool()))
		slog.InfoContext(ctx, "audit database connected")
	}

	auditLog := audit.NewLogger(sinks...)
	return auditLog, func() {
		if err := auditLog.Close(); err != nil {
			slog.Error("audit log close error", "error", err)
		}
		if database != nil {
			database.Close()
		}
	}, nil
}

func setupRouter(cfg config.Config, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestContext(cfg.RateLimit.APIKeys))
	router.Use(middleware.Logger(services.Metrics()))

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		Secrets: webhook.Secrets{
			GitHub:   cfg.GitHub.WebhookSecret,
			GitLab:   cfg.GitLab.WebhookToken,
			CircleCI: cfg.CircleCI.WebhookSecret,
			Jira:     cfg.Jira.WebhookSecret,
		},
		ResolveTimeout: cfg.Policy.AdapterTimeout * 2,
	})

	return router
}

const banner = `
██╗    ██╗ █████╗ ██████╗ ██████╗ ███████╗███╗   ██╗
██║    ██║██╔══██╗██╔══██╗██╔══██╗██╔════╝████╗  ██║
██║ █╗ ██║███████║██████╔╝██║  ██║█████╗  ██╔██╗ ██║
██║███╗██║██╔══██║██╔══██╗██║  ██║██╔══╝  ██║╚██╗██║
╚███╔███╔╝██║  ██║██║  ██║██████╔╝███████╗██║ ╚████║
 ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝ ╚══════╝╚═╝  ╚═══╝
`
