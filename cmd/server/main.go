package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"imgconvert/internal/admission/cost"
	admissionmetrics "imgconvert/internal/admission/metrics"
	admissionmw "imgconvert/internal/admission/middleware"
	"imgconvert/internal/admission/models"
	admissionsvc "imgconvert/internal/admission/service"
	"imgconvert/internal/admission/store/counter"
	"imgconvert/internal/cleanup"
	cleanuphandler "imgconvert/internal/cleanup/handler"
	converthandler "imgconvert/internal/convert/handler"
	convertmetrics "imgconvert/internal/convert/metrics"
	convertsvc "imgconvert/internal/convert/service"
	"imgconvert/internal/platform/config"
	"imgconvert/internal/platform/httpserver"
	"imgconvert/internal/platform/logger"
	"imgconvert/internal/platform/metrics"
	"imgconvert/internal/platform/redis"
	"imgconvert/internal/platform/tracing"
	"imgconvert/internal/provider"
	"imgconvert/internal/provider/cloudinary"
	"imgconvert/internal/provider/memory"
	httptransport "imgconvert/internal/transport/http"
	"imgconvert/internal/upload"
	"imgconvert/pkg/platform/audit"
	"imgconvert/pkg/platform/audit/publisher"
	"imgconvert/pkg/platform/audit/store/kafka"
	auditmemory "imgconvert/pkg/platform/audit/store/memory"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// backend is what the conversion service and the cleanup worker need from a
// transcoding provider.
type backend interface {
	convertsvc.Provider
	cleanup.Provider
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Error("tracing shutdown failed", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	auditStore, closeAudit, err := newAuditStore(ctx, cfg.Audit, log)
	if err != nil {
		return err
	}
	defer closeAudit()
	auditPublisher := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithLogger(log),
	)
	defer auditPublisher.Close()

	admissionMetrics := admissionmetrics.New(reg)
	admitter, err := admissionsvc.New(counter.New(redisClient.Client), models.Limits{
		Capacity:        int64(cfg.Admission.Capacity),
		RefillPerMs:     cfg.Admission.RefillPerMs(),
		DailyBytesLimit: cfg.Admission.DailyBytesLimit,
		TTLSeconds:      cfg.Admission.QuotaTTLSeconds(),
	},
		admissionsvc.WithLogger(log),
		admissionsvc.WithAuditPublisher(auditPublisher),
		admissionsvc.WithMetrics(admissionMetrics),
	)
	if err != nil {
		return fmt.Errorf("create admission service: %w", err)
	}
	estimator := cost.New(cfg.Admission.ProbeTimeout,
		cost.WithMetrics(admissionMetrics),
		cost.WithLogger(log),
	)

	remote, err := newProvider(cfg.Provider, provider.NewMetrics(reg), log)
	if err != nil {
		return err
	}

	converter, err := convertsvc.New(remote,
		convertsvc.WithMaxFileBytes(cfg.Provider.MaxFileBytes),
		convertsvc.WithMaxItems(cfg.Upload.MaxFiles),
		convertsvc.WithConcurrency(cfg.Provider.Concurrency),
		convertsvc.WithMetrics(convertmetrics.New(reg)),
		convertsvc.WithLogger(log),
	)
	if err != nil {
		return fmt.Errorf("create conversion service: %w", err)
	}

	worker := cleanup.New(remote, cleanup.Config{
		Interval:         cfg.Cleanup.Interval,
		TTL:              cfg.Cleanup.TTL,
		Prefix:           cfg.Cleanup.Prefix,
		DryRun:           cfg.Cleanup.DryRun,
		BatchSize:        cfg.Cleanup.BatchSize,
		BatchesPerSecond: cfg.Cleanup.BatchesPerSecond,
	},
		cleanup.WithLogger(log),
		cleanup.WithMetrics(cleanup.NewMetrics(reg)),
		cleanup.WithAuditPublisher(auditPublisher),
	)

	deps := httptransport.Dependencies{
		Upload:    upload.New(cfg.Upload.MaxFileBytes, cfg.Upload.MaxFiles, log),
		Admission: admissionmw.New(admitter, estimator, log, admissionmw.WithMaxURLs(cfg.Upload.MaxFiles)),
		Convert:   converthandler.New(converter, log),
		Health:    httptransport.NewHealthHandler(redisClient, log),
		Metrics:   metrics.New(reg),
		Gatherer:  reg,
		Logger:    log,
	}
	if cfg.Server.AdminToken != "" {
		deps.Cleanup = cleanuphandler.New(worker, log)
	}
	router := httptransport.NewRouter(httptransport.RouterConfig{
		CORSOrigin:        cfg.Server.CORSOrigin,
		AdminToken:        cfg.Server.AdminToken,
		TrustProxyHeaders: cfg.Admission.TrustProxyHeaders,
	}, deps)
	srv := httpserver.New(cfg.Server, router)

	log.Info("starting imgconvert",
		"version", version,
		"addr", cfg.Server.Addr,
		"provider", cfg.Provider.Kind,
		"cleanup_enabled", cfg.Cleanup.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout, log)
	})
	if cfg.Cleanup.Enabled {
		g.Go(func() error {
			if err := worker.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("cleanup worker: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func newProvider(cfg config.ProviderConfig, m *provider.Metrics, log *slog.Logger) (backend, error) {
	switch cfg.Kind {
	case config.ProviderMemory:
		log.Warn("using in-memory provider; converted files are not persisted")
		return memory.New(cfg.Folder, memory.WithMaxFileBytes(cfg.MaxFileBytes)), nil
	case config.ProviderCloudinary:
		client, err := cloudinary.New(cloudinary.Config{
			CloudName: cfg.CloudName,
			APIKey:    cfg.APIKey,
			APISecret: cfg.APISecret,
			Folder:    cfg.Folder,
			BaseURL:   cfg.BaseURL,
			Timeout:   cfg.Timeout,
		}, cloudinary.WithMetrics(m), cloudinary.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("create cloudinary client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Kind)
	}
}

// newAuditStore returns the Kafka sink when brokers are configured and the
// in-memory store otherwise.
func newAuditStore(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (audit.Store, func(), error) {
	if len(cfg.Brokers) == 0 {
		log.Info("audit events kept in memory; set KAFKA_BROKERS to publish them")
		return auditmemory.NewInMemoryStore(), func() {}, nil
	}
	sink, err := kafka.New(cfg.Brokers, cfg.Topic)
	if err != nil {
		return nil, nil, fmt.Errorf("create audit sink: %w", err)
	}
	if err := sink.EnsureTopic(ctx, 3, 1); err != nil {
		log.Warn("audit topic not ensured", "topic", cfg.Topic, "error", err)
	}
	return sink, sink.Close, nil
}
