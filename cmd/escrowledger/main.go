package main

import (
	"EscrowLedger/internal/claim"
	"EscrowLedger/internal/ingestion"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/observability"
	"EscrowLedger/internal/oracle"
	"EscrowLedger/internal/persistence"
	"EscrowLedger/internal/server"
	"EscrowLedger/internal/settlement"
	"EscrowLedger/migrations"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	logger := observability.NewLogger("main")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("EscrowLedger exited")
	}
}

func run(logger zerolog.Logger) error {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger.Info().Msg("EscrowLedger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)

	deps := []string{"ledger"}
	if cfg.PostgresDSN != "" {
		deps = append(deps, "postgres")
	}
	if cfg.NATSURL != "" {
		deps = append(deps, "nats")
	}
	health := observability.NewHealthChecker(deps...)

	// --- Storage ---

	var (
		store     ledger.Store = ledger.NewMemoryStore()
		processed claim.ProcessedStore
		claimDB   *persistence.ClaimStore
		custodian ledger.Custodian = ledger.NewMemoryCustodian()
		nextSeq   int64            = 1
		tip                        = ledger.GenesisHash()
	)

	if cfg.PostgresDSN != "" {
		db, err := openPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		logger.Info().Msg("Postgres connected")

		applied, err := persistence.NewMigrator(db, migrationSource(cfg.MigrationsDir), observability.NewLogger("migrator")).Up(ctx)
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info().Int("applied", applied).Msg("migrations applied")

		pgStore := persistence.NewPostgresStore(db)
		store = pgStore
		custodian = persistence.NewPostgresCustodian(db)

		nextSeq, tip, err = persistence.NewEventLog(db).LoadTip(ctx)
		if err != nil {
			return err
		}
		logger.Info().Int64("next_sequence", nextSeq).Hex("tip", tip[:]).Msg("journal recovered")

		active, err := pgStore.ActiveLocks(ctx)
		if err != nil {
			return fmt.Errorf("count active locks: %w", err)
		}
		metrics.ActiveLocks.Set(float64(active))

		claimDB = persistence.NewClaimStore(db)
		processed = claimDB
		health.SetReady("postgres", true)
	} else {
		logger.Warn().Msg("ESCROW_POSTGRES_DSN not set, ledger state and custody are in memory only")
	}

	// --- NATS ---

	var (
		nc        *nats.Conn
		js        jetstream.JetStream
		publisher *ingestion.EventPublisher
	)
	if cfg.NATSURL != "" {
		var err error
		nc, js, err = ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
		if err != nil {
			return fmt.Errorf("nats connect: %w", err)
		}
		defer nc.Close()
		if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
			return fmt.Errorf("ensure NATS streams: %w", err)
		}
		publisher = ingestion.NewEventPublisher(js, cfg.PublishBuffer, metrics, observability.NewLogger("publisher"))
	}

	// --- Core ---

	var sink ledger.EventSink
	if publisher != nil {
		sink = publisher
	}
	journal := ledger.NewJournal(nextSeq, tip, sink)
	escrow := ledger.NewLedger(store, custodian, journal, metrics, observability.NewLogger("ledger"))

	quotes := oracle.NewMemorySource()
	calc := oracle.NewCalculator(quotes, metrics)
	calc.SetTTL(cfg.QuoteTTL)

	guard := claim.NewReplayGuard(cfg.ReplayLRUCapacity, processed, metrics)
	if claimDB != nil {
		recent, err := claimDB.RecentHashes(ctx, cfg.ReplayLRUCapacity)
		if err != nil {
			return fmt.Errorf("load processed claims: %w", err)
		}
		guard.Warm(recent)
		logger.Info().Int("claims", len(recent)).Msg("replay guard warmed")
	}
	arbiter := claim.NewArbiter(escrow, claim.ECDSAVerifier{}, guard, metrics, observability.NewLogger("arbiter"))
	hooks := settlement.NewHooks(calc, arbiter, observability.NewLogger("settlement"))

	var subscriber *ingestion.QuoteSubscriber
	if js != nil {
		subscriber = ingestion.NewQuoteSubscriber(js, quotes, metrics, observability.NewLogger("quotes"))
		if err := subscriber.Subscribe(ctx); err != nil {
			return fmt.Errorf("quote subscribe: %w", err)
		}
		health.SetReady("nats", true)
	}

	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Ledger:        escrow,
		Settlement:    hooks,
		Quotes:        ingestion.NewQuoteInjector(quotes),
		HealthChecker: health,
		Metrics:       metrics,
		Logger:        observability.NewLogger("server"),
	})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// --- Background goroutines ---

	errChan := make(chan error, 8)
	var workers sync.WaitGroup

	if publisher != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := publisher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- fmt.Errorf("event publisher: %w", err)
			}
		}()
	}

	go func() {
		if err := srv.StartGRPC(ctx); err != nil {
			errChan <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	go func() {
		if err := srv.StartHTTP(ctx); err != nil {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := serveMetrics(ctx, cfg.MetricsAddr, reg, logger); err != nil {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	health.SetReady("ledger", true)
	srv.SetServing(true)
	logger.Info().
		Int64("next_sequence", nextSeq).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("EscrowLedger ready")

	// --- Wait for shutdown signal ---

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("goroutine failed, shutting down")
	}

	srv.SetServing(false)
	health.SetReady("ledger", false)
	if subscriber != nil {
		subscriber.Stop()
	}
	cancel()

	// The publisher drains its buffer on cancellation.
	done := make(chan struct{})
	go func() {
		workers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn().Msg("background workers did not stop in time")
	}

	if nc != nil {
		if err := nc.Drain(); err != nil {
			logger.Warn().Err(err).Msg("nats drain")
		}
	}

	seq, hash := journal.Tip()
	logger.Info().Int64("next_sequence", seq).Hex("tip", hash[:]).Msg("EscrowLedger shutdown complete")
	return runErr
}

func openPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}

// migrationSource prefers an on-disk directory when one is configured.
func migrationSource(dir string) fs.FS {
	if dir != "" {
		return os.DirFS(dir)
	}
	return migrations.FS
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		metricsServer.Shutdown(shutCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
