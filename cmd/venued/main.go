// Command venued runs the perpetual venue: it restores state from the
// latest snapshot, wires the domain components onto the deterministic
// engine, and serves ingestion, persistence, projections, and the query
// API until signalled to stop.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"perpvenue/internal/amm"
	"perpvenue/internal/broker"
	"perpvenue/internal/config"
	"perpvenue/internal/core"
	"perpvenue/internal/funding"
	"perpvenue/internal/guard"
	"perpvenue/internal/ingestion"
	"perpvenue/internal/observability"
	"perpvenue/internal/perpetual"
	"perpvenue/internal/persistence"
	"perpvenue/internal/projection"
	"perpvenue/internal/query"
	"perpvenue/internal/server"
	"perpvenue/internal/vault"
)

// Internal component identities. These are whitelisted in the guard so
// the vault and the pool can make privileged ledger calls.
const (
	vaultID       = "sys:vault"
	ammID         = "sys:amm"
	poolAccountID = "sys:amm:position"
)

func main() {
	log := observability.NewLogger("venued")
	log.Info().Msg("venued starting")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
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

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}

	snapStore := persistence.NewSnapshotStore(db)
	dbChecker := persistence.NewPostgresIdempotencyChecker(db)

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Channels ---
	// The persist channel blocks the engine when full; the projection
	// channel drops, and a fan-out splits it to the projection worker and
	// the outbound publisher.
	persistChan := make(chan core.Output, cfg.PersistChanDepth)
	projectionChan := make(chan core.Output, cfg.ProjectionChanDepth)
	projWorkChan := make(chan core.Output, cfg.ProjectionChanDepth)
	publishChan := make(chan core.Output, cfg.ProjectionChanDepth)

	// --- Domain assembly ---
	clock := core.NewTickClock()
	gov := config.DefaultGovernance()
	g := guard.New(cfg.OwnerAccount, observability.NewLogger("guard"))
	ledger := perpetual.NewLedger(gov, g, observability.NewLogger("ledger"))
	pool := amm.NewPool(ammID, poolAccountID, cfg.DevAccount, gov, ledger, clock, observability.NewLogger("amm"))
	oracle := funding.NewFeedOracle()
	fundingEng := funding.NewEngine(gov, oracle, pool, observability.NewLogger("funding"))

	ledger.SetFundingSource(fundingEng)
	pool.SetIndexSource(fundingEng)

	scaler, err := vault.NewScaler(cfg.CollateralDecimals)
	if err != nil {
		log.Fatal().Err(err).Msg("collateral scaler")
	}
	// An empty token address selects the native unit; anything else gets
	// the allowance-enforcing token adapter.
	var asset vault.CollateralAsset
	if cfg.CollateralToken == "" {
		asset = vault.NewNativeAsset(vaultID)
		log.Info().Msg("native collateral configured")
	} else {
		asset = vault.NewTokenAsset(vaultID, cfg.CollateralToken)
		log.Info().Str("token", cfg.CollateralToken).Msg("collateral token configured")
	}
	v := vault.New(vaultID, gov.WithdrawalDelay, ledger, g, asset, scaler, pool, clock, observability.NewLogger("vault"))

	if err := g.AddWhitelisted(cfg.OwnerAccount, vaultID); err != nil {
		log.Fatal().Err(err).Msg("whitelist vault")
	}
	if err := g.AddWhitelisted(cfg.OwnerAccount, ammID); err != nil {
		log.Fatal().Err(err).Msg("whitelist amm")
	}

	brokers := broker.NewRegistry(clock, observability.NewLogger("broker"))

	engine := core.NewEngine(core.Deps{
		Log:              observability.NewLogger("engine"),
		Gov:              gov,
		Guard:            g,
		Ledger:           ledger,
		Vault:            v,
		Pool:             pool,
		Funding:          fundingEng,
		Oracle:           oracle,
		Brokers:          brokers,
		Clock:            clock,
		Metrics:          metrics,
		BrokerDelayTicks: cfg.BrokerDelayTicks,
		PersistChan:      persistChan,
		ProjectionChan:   projectionChan,
		DBChecker:        dbChecker,
	})

	// --- Recovery ---
	// Restore the latest snapshot, then warm the dedup LRU from the event
	// log tail. There is no event replay: operations past the snapshot
	// are redelivered by the durable consumers and absorbed by the
	// engine's idempotency and sequence checks.
	snap, err := snapStore.LoadLatest(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load snapshot")
	}
	if snap != nil {
		engine.RestoreFromSnapshot(snap)
		log.Info().
			Int64("sequence", snap.Sequence).
			Int64("tick", snap.Tick).
			Msg("restored from snapshot")
	} else {
		log.Info().Msg("no snapshot found, cold start")
	}

	keys, err := dbChecker.RecentKeys(ctx, cfg.LRUWarmLimit)
	if err != nil {
		log.Warn().Err(err).Msg("lru warm load failed")
	} else if len(keys) > 0 {
		engine.WarmLRU(keys)
		log.Info().Int("keys", len(keys)).Msg("dedup lru warmed")
	}

	// --- NATS ---
	nc, js, err := ingestion.Connect(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("nats connected")

	if err := ingestion.EnsureStreams(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure streams")
	}
	if err := ingestion.EnsureEventsStream(ctx, js, log); err != nil {
		log.Fatal().Err(err).Msg("ensure events stream")
	}

	rawOps := make(chan ingestion.RawOp, cfg.PersistChanDepth)
	subscriber := ingestion.NewSubscriber(js, rawOps, observability.NewLogger("subscriber"))

	// The injector continues the ops stream's source numbering so admin
	// operations pass the engine's strict sequence validation.
	nextSeq := int64(1)
	if stream, err := js.Stream(ctx, "VENUE_OPS"); err == nil {
		if info, err := stream.Info(ctx); err == nil {
			nextSeq = int64(info.State.LastSeq) + 1
		}
	}
	injector := ingestion.NewInjector(js, nextSeq)

	queryService := query.NewService(db)
	srv := server.New(cfg.GRPCAddr, cfg.HTTPAddr, &server.Deps{
		Log:      observability.NewLogger("server"),
		DB:       db,
		Query:    queryService,
		Injector: injector,
		Health:   healthChecker,
	})

	// --- Goroutines ---
	errChan := make(chan error, 8)

	persistWorker := persistence.NewWorker(
		db, persistChan,
		cfg.PersistBatchSize,
		time.Duration(cfg.PersistFlushMillis)*time.Millisecond,
		metrics,
		observability.NewLogger("persistence"),
	)
	go func() { errChan <- persistWorker.Run(ctx) }()

	projWorker := projection.NewWorker(db, projWorkChan, observability.NewLogger("projection"))
	go func() { errChan <- projWorker.Run(ctx) }()

	publisher := ingestion.NewPublisher(js, publishChan, observability.NewLogger("publisher"))
	go func() { errChan <- publisher.Run(ctx) }()

	go fanOutProjection(ctx, projectionChan, projWorkChan, publishChan, metrics)

	// The runner is the only caller of engine.Process for operations; the
	// engine stays effectively single-threaded.
	runner := ingestion.NewRunner(rawOps, engine, observability.NewLogger("runner"))
	go func() { errChan <- runner.Run(ctx) }()

	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("subscribe")
	}

	go func() { errChan <- srv.StartGRPC(ctx) }()
	go func() { errChan <- srv.StartHTTP(ctx) }()

	go runPeriodicSnapshots(ctx, engine, snapStore, cfg.SnapshotInterval, metrics, log)

	healthChecker.SetReady(true)
	log.Info().
		Int64("sequence", engine.Sequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Msg("venued ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		log.Error().Err(err).Msg("worker failed, shutting down")
	}

	healthChecker.SetReady(false)
	subscriber.Stop()
	cancel()

	// Give the workers a moment to flush their final batches.
	time.Sleep(500 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, engine, snapStore, metrics); err != nil {
		log.Error().Err(err).Msg("final snapshot failed")
	} else {
		log.Info().Int64("sequence", engine.Sequence()).Msg("final snapshot saved")
	}

	log.Info().Msg("venued shutdown complete")
}

// fanOutProjection splits the engine's projection feed between the
// projection worker and the outbound publisher. Both sends drop on a
// full channel; projections rebuild from the event log and outbound
// consumers that need completeness read the log too.
func fanOutProjection(
	ctx context.Context,
	in <-chan core.Output,
	projOut, publishOut chan<- core.Output,
	metrics *observability.Metrics,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case out, ok := <-in:
			if !ok {
				return
			}
			select {
			case projOut <- out:
			default:
				metrics.ProjectionDrops.Inc()
			}
			select {
			case publishOut <- out:
			default:
				metrics.PublishDrops.Inc()
			}
		}
	}
}

// runPeriodicSnapshots takes a snapshot every interval events, checking
// progress on a coarse timer.
func runPeriodicSnapshots(
	ctx context.Context,
	engine *core.Engine,
	store *persistence.SnapshotStore,
	interval int64,
	metrics *observability.Metrics,
	log zerolog.Logger,
) {
	if interval <= 0 {
		interval = 100_000
	}

	lastSeq := engine.Sequence()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			currentSeq := engine.Sequence()
			if currentSeq-lastSeq < interval {
				continue
			}
			if err := takeSnapshot(ctx, engine, store, metrics); err != nil {
				log.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			lastSeq = currentSeq
			log.Info().Int64("sequence", currentSeq).Msg("periodic snapshot")

			if err := store.Prune(ctx, 5); err != nil {
				log.Warn().Err(err).Msg("snapshot prune failed")
			}
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	engine *core.Engine,
	store *persistence.SnapshotStore,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	snap := engine.CreateSnapshotState()
	if err := store.Save(ctx, snap); err != nil {
		return err
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotLastSeq.Set(float64(snap.Sequence))
	return nil
}
