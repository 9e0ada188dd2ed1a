package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"entityfiler/internal/blob"
	"entityfiler/internal/config"
	"entityfiler/internal/filer"
	"entityfiler/internal/filer/effects"
	"entityfiler/internal/filer/transitions"
	"entityfiler/internal/infra/account"
	"entityfiler/internal/infra/identifier"
	"entityfiler/internal/infra/namerequest"
	memstore "entityfiler/internal/infra/persistence/memory"
	"entityfiler/internal/infra/persistence/postgres"
	"entityfiler/internal/infra/persistence/sqlite"
	"entityfiler/internal/infra/queue"
	"entityfiler/internal/infra/queue/kafka"
	memqueue "entityfiler/internal/infra/queue/memory"
	"entityfiler/internal/observability"
	"entityfiler/internal/ops"
	"entityfiler/internal/worker"
	"entityfiler/pkg/domain"
)

const metricsNamespace = "entityfiler"

// app is the wired filer process.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *prometheus.Registry
	store     domain.PersistentStore
	filings   domain.FilingWriter
	documents blob.Store
	broker    *memqueue.Broker
	processor *filer.Processor
	worker    *worker.Worker
	ops       http.Handler
	closers   []func(context.Context) error
}

// build wires every collaborator named by cfg. On error the partially built
// collaborators are closed.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
			a = nil
		}
	}()
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checks := map[string]ops.Check{}

	prom, err := observability.NewPrometheusRecorder(a.metrics, metricsNamespace)
	if err != nil {
		return nil, err
	}
	recorder := fanoutRecorder{prom, filer.NewExpvarMetricsRecorder("")}
	reporter, err := observability.NewReporter(logger, a.metrics, metricsNamespace)
	if err != nil {
		return nil, err
	}
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceID, cfg.Tracing.Endpoint)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)
	var tracer filer.Tracer = observability.NewOtelTracer(otel.GetTracerProvider())
	if cfg.Tracing.Endpoint == "" && cfg.Tracing.JSONLines {
		tracer = filer.NewJSONTracer(os.Stderr)
	}

	if err := a.openStore(ctx, checks); err != nil {
		return nil, err
	}

	a.documents, err = blob.Open(ctx, cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open documents: %w", err)
	}

	identifiers, err := a.openIdentifiers(ctx, checks)
	if err != nil {
		return nil, err
	}
	if seeder, ok := identifiers.(identifier.Seeder); ok {
		if err := a.seedIdentifiers(ctx, seeder); err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{Timeout: cfg.Services.Timeout}
	deps := transitions.Deps{Identifiers: identifiers, Documents: a.documents}
	effectCfg := effects.Config{
		EmailTopic: cfg.Queue.EmailTopic,
		EventTopic: cfg.Queue.EventTopic,
		APIBase:    cfg.Services.APIBase,
		Documents:  a.documents,
	}
	if cfg.Services.AccountURL != "" {
		effectCfg.Accounts = account.NewClient(cfg.Services.AccountURL, cfg.Services.Token, httpClient)
	}
	if cfg.Services.NameRequestURL != "" {
		names := namerequest.NewClient(cfg.Services.NameRequestURL, cfg.Services.Token, httpClient)
		deps.Names = names
		effectCfg.Names = names
	}

	source, publisher, err := a.openQueue()
	if err != nil {
		return nil, err
	}
	effectCfg.Publisher = publisher

	registry, err := transitions.NewRegistry(deps)
	if err != nil {
		return nil, fmt.Errorf("register transitions: %w", err)
	}
	filerOpts := []filer.Option{
		filer.WithLogger(logger),
		filer.WithMetricsRecorder(recorder),
		filer.WithTracer(tracer),
		filer.WithErrorReporter(reporter),
	}
	cascade := filer.NewCascade(effects.Standard(effectCfg), cfg.Cascade.EffectTimeout, filerOpts...)
	a.processor = filer.NewProcessor(a.store, registry, cascade, filerOpts...)

	workerOpts := []worker.Option{
		worker.WithMaxAttempts(cfg.Retry.MaxAttempts),
		worker.WithBackoff(cfg.Retry.Backoff),
		worker.WithLogger(logger),
		worker.WithMetricsRecorder(recorder),
		worker.WithErrorReporter(reporter),
	}
	if cfg.Queue.DeadLetterTopic != "" {
		workerOpts = append(workerOpts, worker.WithDeadLetter(publisher, cfg.Queue.DeadLetterTopic))
	}
	a.worker = worker.New(source, a.processor, workerOpts...)
	a.ops = ops.NewRouter(ops.Config{Checks: checks, Gatherer: a.metrics})

	logger.Info("filer wired",
		"store", cfg.Store.Driver,
		"queue", cfg.Queue.Driver,
		"documents", a.documents.Driver(),
		"identifiers", cfg.Identifier.Driver,
		"transitions", len(registry.Registered()),
		"effects", cascade.Effects(),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context, checks map[string]ops.Check) error {
	engine := filer.NewDefaultRulesEngine()
	switch a.cfg.Store.Driver {
	case "sqlite":
		s, err := sqlite.NewStore(a.cfg.Store.DSN, engine)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.store, a.filings = s, s
		checks["store"] = func(ctx context.Context) error { return s.DB().PingContext(ctx) }
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	case "postgres":
		s, err := postgres.NewStore(ctx, a.cfg.Store.DSN, engine, postgres.Options{MaxOpenConns: a.cfg.Store.MaxOpenConns})
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		a.store, a.filings = s, s
		checks["store"] = s.Ping
		a.closers = append(a.closers, func(context.Context) error { return s.Close() })
	default:
		s := memstore.NewStore(engine)
		a.store, a.filings = s, s
	}
	return nil
}

func (a *app) openIdentifiers(ctx context.Context, checks map[string]ops.Check) (transitions.IdentifierAllocator, error) {
	if a.cfg.Identifier.Driver != "redis" {
		return identifier.NewMemoryAllocator(), nil
	}
	client, err := identifier.Connect(ctx, a.cfg.Identifier.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })
	allocator := identifier.NewRedisAllocator(client, a.cfg.Identifier.KeyPrefix)
	checks["identifiers"] = allocator.Ping
	return allocator, nil
}

// seedIdentifiers moves the identifier sequences past every identifier the
// store already holds.
func (a *app) seedIdentifiers(ctx context.Context, seeder identifier.Seeder) error {
	var businesses []domain.Business
	if err := a.store.View(ctx, func(v domain.TransactionView) error {
		businesses = v.ListBusinesses()
		return nil
	}); err != nil {
		return fmt.Errorf("read issued identifiers: %w", err)
	}
	highest, err := identifier.SeedFrom(ctx, seeder, businesses)
	if err != nil {
		return fmt.Errorf("seed identifiers: %w", err)
	}
	if len(highest) > 0 {
		a.logger.Info("identifier sequences seeded", "highest", highest)
	}
	return nil
}

func (a *app) openQueue() (queue.Source, effects.Publisher, error) {
	if a.cfg.Queue.Driver != "kafka" {
		a.broker = memqueue.NewBroker()
		consumer := a.broker.Consumer(a.cfg.Queue.FilingTopic)
		a.closers = append(a.closers, func(context.Context) error { a.broker.Close(); return nil })
		return consumer, a.broker, nil
	}
	consumer, err := kafka.NewConsumer(a.cfg.Queue.Brokers, a.cfg.Queue.Group, []string{a.cfg.Queue.FilingTopic})
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return consumer.Close() })
	publisher, err := kafka.NewPublisher(a.cfg.Queue.Brokers)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return publisher.Close() })
	return consumer, publisher, nil
}

// fanoutRecorder feeds every observation to each recorder.
type fanoutRecorder []filer.MetricsRecorder

func (f fanoutRecorder) Observe(ctx context.Context, operation string, success bool, d time.Duration) {
	for _, r := range f {
		r.Observe(ctx, operation, success, d)
	}
}

// close releases collaborators in reverse order of construction.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
