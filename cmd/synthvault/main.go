package main

import (
	"context"
	"database/sql"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"synthvault/internal/commands"
	"synthvault/internal/config"
	"synthvault/internal/custody"
	"synthvault/internal/engine"
	"synthvault/internal/events"
	"synthvault/internal/ledger"
	"synthvault/internal/observability"
	"synthvault/internal/oracle"
	"synthvault/internal/persistence"
	"synthvault/internal/query"
	"synthvault/internal/server"
	"synthvault/internal/valuation"
)

func main() {
	logger := observability.NewLogger("synthvault")
	logger.Info().Msg("synthvault starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, logger)
	if err := migrator.Up(ctx); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Ledger ---
	registry, err := ledger.NewRegistry(cfg.AssetNames(), cfg.FeedNames())
	if err != nil {
		logger.Fatal().Err(err).Msg("build asset registry")
	}
	posLedger := ledger.NewPositionLedger(registry)

	// --- Recovery: restore latest ledger snapshot ---
	snapMgr := persistence.NewSnapshotManager(db)
	snap, err := snapMgr.LoadLatest(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("load snapshot")
	}
	if snap != nil {
		if err := restoreLedger(posLedger, snap); err != nil {
			logger.Fatal().Err(err).Msg("restore ledger from snapshot")
		}
		logger.Info().
			Int("entries", len(snap.Entries)).
			Time("taken_at", snap.CreatedAt).
			Msg("ledger restored from snapshot")
	} else {
		logger.Info().Msg("no snapshot found, cold start")
	}

	// --- NATS ---
	nc, js, err := oracle.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	logger.Info().Msg("NATS connected")

	if err := oracle.EnsureStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure price stream")
	}
	if err := events.EnsureStream(ctx, js); err != nil {
		logger.Fatal().Err(err).Msg("ensure events stream")
	}

	// --- Oracle feed ---
	feed := oracle.NewFeed()
	priceSubscriber := oracle.NewSubscriber(js, feed, logger, metrics)
	if err := priceSubscriber.Subscribe(ctx); err != nil {
		logger.Fatal().Err(err).Msg("subscribe to price feed")
	}

	// --- Valuation ---
	val := valuation.New(posLedger, feed)
	health := valuation.NewHealthCalculator(posLedger, val)

	// --- Engine ---
	coreEngine := engine.NewCollateralEngine(
		posLedger,
		val,
		health,
		custody.NewAssetClient(nc),
		custody.NewTokenClient(nc),
		logger,
		metrics,
	)

	// Operation records flow to the persistence worker with blocking
	// sends; liquidation events go to the publisher with drop-on-full.
	recordChan := make(chan engine.OperationRecord, cfg.RecordChanSize)
	coreEngine.SetRecordSink(recordChan)

	publisher := events.NewPublisher(js, cfg.PublishChanSize, logger, metrics)
	coreEngine.SetLiquidationPublisher(publisher)

	// Write-side ingress: operation requests arrive over NATS request/reply
	// and are applied through a single loop.
	responder := commands.NewResponder(nc, coreEngine, cfg.RecordChanSize, logger)
	if err := responder.Subscribe(); err != nil {
		logger.Fatal().Err(err).Msg("subscribe operation responder")
	}

	// --- Services ---
	persistChan := make(chan persistence.OperationRow, cfg.RecordChanSize)
	persistWorker := persistence.NewWorker(db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, logger, metrics)

	queryService := query.NewQueryService(posLedger, val, health, persistWorker.Writer())
	httpServer := server.NewHTTPServer(cfg.HTTPAddr, queryService, healthChecker, logger, metrics)
	grpcServer := server.NewGRPCServer(cfg.GRPCAddr, logger)

	// --- Start goroutines ---
	errChan := make(chan error, 8)

	go func() {
		errChan <- persistWorker.Run(ctx)
	}()
	go func() {
		errChan <- responder.Run(ctx)
	}()
	go func() {
		errChan <- publisher.Run(ctx)
	}()
	go func() {
		bridgeRecords(ctx, recordChan, persistChan)
	}()
	go func() {
		errChan <- httpServer.Start(ctx)
	}()
	go func() {
		errChan <- grpcServer.Start(ctx)
	}()
	go func() {
		runPeriodicSnapshots(ctx, posLedger, snapMgr, cfg, logger, metrics)
	}()

	healthChecker.SetReady(true)
	grpcServer.SetServing(true)

	logger.Info().
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Strs("assets", cfg.AssetNames()).
		Msg("synthvault ready")

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	grpcServer.SetServing(false)
	responder.Stop()
	cancel()

	priceSubscriber.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := takeSnapshot(shutdownCtx, posLedger, snapMgr, metrics); err != nil {
		logger.Error().Err(err).Msg("final snapshot failed")
	} else {
		logger.Info().Msg("final snapshot saved")
	}

	logger.Info().Msg("synthvault shutdown complete")
}

// bridgeRecords converts engine records into persistence rows. Sends block
// so the operation log never drops entries.
func bridgeRecords(ctx context.Context, in <-chan engine.OperationRecord, out chan<- persistence.OperationRow) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-in:
			if !ok {
				return
			}
			row := persistence.OperationRow{
				ID:           rec.ID,
				Kind:         rec.Kind,
				User:         rec.User,
				Counterparty: rec.Counterparty,
				Asset:        rec.Asset,
				Amount:       rec.Amount,
				HealthFactor: rec.HealthFactor,
				AppliedAt:    rec.AppliedAt,
			}
			select {
			case out <- row:
			case <-ctx.Done():
				return
			}
		}
	}
}

func restoreLedger(l *ledger.PositionLedger, snap *persistence.SnapshotData) error {
	for _, e := range snap.Entries {
		amount, ok := new(big.Int).SetString(e.Amount, 10)
		if !ok {
			continue
		}
		if err := l.RestoreEntry(ledger.PositionEntry{
			User:   e.User,
			Asset:  e.Asset,
			Amount: amount,
			Debt:   e.Debt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func runPeriodicSnapshots(
	ctx context.Context,
	l *ledger.PositionLedger,
	snapMgr *persistence.SnapshotManager,
	cfg *config.Config,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := takeSnapshot(ctx, l, snapMgr, metrics); err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			if err := snapMgr.Prune(ctx, cfg.SnapshotRetention); err != nil {
				logger.Warn().Err(err).Msg("snapshot prune failed")
			}
		}
	}
}

func takeSnapshot(
	ctx context.Context,
	l *ledger.PositionLedger,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()

	entries := l.Snapshot()
	snap := &persistence.SnapshotData{
		Entries:   make([]persistence.BalanceEntry, 0, len(entries)),
		CreatedAt: time.Now().UTC(),
	}
	for _, e := range entries {
		snap.Entries = append(snap.Entries, persistence.BalanceEntry{
			User:   e.User,
			Asset:  e.Asset,
			Amount: e.Amount.String(),
			Debt:   e.Debt,
		})
	}

	if err := snapMgr.Save(ctx, snap); err != nil {
		return err
	}

	metrics.SnapshotsTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	return nil
}
