package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"LedgerCore/internal/custody"
	"LedgerCore/internal/funding"
	"LedgerCore/internal/ingestion"
	"LedgerCore/internal/observability"
	"LedgerCore/internal/persistence"
	"LedgerCore/internal/quorum"
	"LedgerCore/internal/risk"
	"LedgerCore/internal/settlement"
	"LedgerCore/internal/state"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	// Postgres. Empty disables persistence (dev mode).
	PostgresURL string

	// NATS. Empty disables ingestion and uses in-memory custody (dev mode).
	NATSURL string

	// Ledger identity
	ProgramID      string
	AdminID        string
	Relayers       string // comma-separated UUIDs
	RequiredSigs   int
	CustodyService string
	ReserveService string

	// Persistence worker
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	// HTTP
	MetricsAddr string

	// Migrations
	MigrationsDir string

	// Outbound events
	PublishChanSize int
}

func DefaultConfig() Config {
	return Config{
		PostgresURL:         os.Getenv("LEDGER_POSTGRES_DSN"),
		NATSURL:             os.Getenv("LEDGER_NATS_URL"),
		ProgramID:           envOrDefault("LEDGER_PROGRAM_ID", "ledgercore"),
		AdminID:             os.Getenv("LEDGER_ADMIN_ID"),
		Relayers:            os.Getenv("LEDGER_RELAYERS"),
		RequiredSigs:        envIntOrDefault("LEDGER_REQUIRED_SIGNATURES", 1),
		CustodyService:      envOrDefault("LEDGER_CUSTODY_SERVICE", "custody"),
		ReserveService:      envOrDefault("LEDGER_RESERVE_SERVICE", "reserve"),
		PersistBatchSize:    envIntOrDefault("LEDGER_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: 10 * time.Millisecond,
		MetricsAddr:         envOrDefault("LEDGER_METRICS_ADDR", ":9091"),
		MigrationsDir:       envOrDefault("LEDGER_MIGRATIONS_DIR", "migrations"),
		PublishChanSize:     envIntOrDefault("LEDGER_PUBLISH_CHAN_SIZE", 4096),
	}
}

// teeRecorder forwards settled records to the persistence worker and the
// outbound publisher. The worker send blocks under backpressure; the
// publish send drops so a slow downstream never stalls settlement.
type teeRecorder struct {
	worker  *persistence.Worker
	publish chan<- state.TradeRecord
}

func (t *teeRecorder) Record(rec state.TradeRecord) {
	if t.worker != nil {
		t.worker.Record(rec)
	}
	if t.publish != nil {
		select {
		case t.publish <- rec:
		default:
		}
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("LedgerCore starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Ledger state ---
	admin, err := parseAdmin(cfg.AdminID)
	if err != nil {
		log.Fatal().Err(err).Msg("parse LEDGER_ADMIN_ID")
	}
	relayers, err := parseRelayers(cfg.Relayers)
	if err != nil {
		log.Fatal().Err(err).Msg("parse LEDGER_RELAYERS")
	}
	if len(relayers) == 0 {
		log.Fatal().Msg("LEDGER_RELAYERS is required (comma-separated relayer UUIDs)")
	}

	now := time.Now().Unix()
	ledgerConfig := state.NewLedgerConfig(admin, cfg.CustodyService, cfg.ReserveService, now)
	relayerSet, err := state.NewRelayerSet(admin, relayers, uint8(cfg.RequiredSigs), now)
	if err != nil {
		log.Fatal().Err(err).Msg("build relayer set")
	}
	store := state.NewStore(ledgerConfig, relayerSet)
	log.Info().
		Str("admin", admin.String()).
		Int("relayers", len(relayers)).
		Int("required_signatures", cfg.RequiredSigs).
		Msg("ledger state initialized")

	errChan := make(chan error, 8)

	// --- Postgres (optional) ---
	var worker *persistence.Worker
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate"))
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}

		worker = persistence.NewWorker(
			persistence.NewWriter(db),
			cfg.PersistBatchSize,
			cfg.PersistFlushTimeout,
			observability.NewLogger("persistence"),
			metrics,
		)
		go func() {
			errChan <- worker.Run(ctx)
		}()
	} else {
		log.Warn().Msg("LEDGER_POSTGRES_DSN not set, trade records will not be persisted")
	}

	// --- NATS (optional) ---
	var (
		custodyClient custody.Custody
		reserveClient custody.Reserve
		publishChan   chan state.TradeRecord
		subscriber    *ingestion.Subscriber
	)
	if cfg.NATSURL != "" {
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		log.Info().Str("url", cfg.NATSURL).Msg("nats connected")

		cred := custody.DeriveCredential(cfg.ProgramID)
		custodyClient = custody.NewNATSCustody(nc, cred)
		reserveClient = custody.NewNATSReserve(nc, cred)

		if err := ingestion.EnsureStreams(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure nats streams")
		}
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			log.Fatal().Err(err).Msg("ensure outbound stream")
		}

		publishChan = make(chan state.TradeRecord, cfg.PublishChanSize)
		publisher := ingestion.NewOutboundPublisher(js, publishChan, observability.NewLogger("publisher"))
		go func() {
			errChan <- publisher.Run(ctx)
		}()

		rec := &teeRecorder{worker: worker, publish: publishChan}
		settle, riskEngine, fundingEngine, manager := buildEngines(store, custodyClient, reserveClient, rec, cfg.ProgramID, metrics)

		dispatcher := ingestion.NewDispatcher(
			manager, settle, riskEngine, fundingEngine, store, worker,
			observability.NewLogger("dispatcher"),
		)
		subscriber = ingestion.NewSubscriber(js, dispatcher, observability.NewLogger("subscriber"), metrics)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			log.Fatal().Err(err).Msg("nats subscribe")
		}
	} else {
		// Dev mode: settlement against in-memory collaborators, no ingestion.
		log.Warn().Msg("LEDGER_NATS_URL not set, running with in-memory custody and no ingestion")
		custodyClient = custody.NewMemoryCustody()
		reserveClient = custody.NewMemoryReserve(0, 0)
		rec := &teeRecorder{worker: worker}
		buildEngines(store, custodyClient, reserveClient, rec, cfg.ProgramID, metrics)
	}

	// --- Metrics + health server ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", healthChecker.LivenessHandler())
		mux.HandleFunc("/readyz", healthChecker.ReadinessHandler())
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			<-ctx.Done()
			shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
			defer c()
			srv.Shutdown(shutCtx)
		}()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	healthChecker.SetReady(true)
	log.Info().Str("program_id", cfg.ProgramID).Msg("LedgerCore ready")

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("component failed, shutting down")
	}

	healthChecker.SetReady(false)
	if subscriber != nil {
		subscriber.Drain()
	}
	cancel()

	// The persistence worker performs a final flush on ctx cancellation.
	time.Sleep(time.Second)
	log.Info().Msg("LedgerCore shutdown complete")
}

func buildEngines(
	store *state.Store,
	custodyClient custody.Custody,
	reserveClient custody.Reserve,
	rec settlement.Recorder,
	programID string,
	metrics *observability.Metrics,
) (*settlement.Engine, *risk.Engine, *funding.Engine, *quorum.Manager) {
	settle := settlement.NewEngine(store, custodyClient, reserveClient, rec, observability.NewLogger("settlement"), metrics)
	riskEngine := risk.NewEngine(store, custodyClient, reserveClient, rec, observability.NewLogger("risk"), metrics)
	fundingEngine := funding.NewEngine(store, rec, observability.NewLogger("funding"), metrics)
	manager := quorum.NewManager(store, settle, programID, observability.NewLogger("quorum"), metrics)
	return settle, riskEngine, fundingEngine, manager
}

func parseAdmin(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.UUID{}, fmt.Errorf("LEDGER_ADMIN_ID is required")
	}
	return uuid.Parse(raw)
}

func parseRelayers(raw string) ([]uuid.UUID, error) {
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("relayer %q: %w", p, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}
