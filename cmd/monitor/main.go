package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/lucidperp/posmon/params"
	"github.com/lucidperp/posmon/pkg/api"
	"github.com/lucidperp/posmon/pkg/crypto"
	"github.com/lucidperp/posmon/pkg/liquidation"
	"github.com/lucidperp/posmon/pkg/monitor"
	"github.com/lucidperp/posmon/pkg/mutator"
	"github.com/lucidperp/posmon/pkg/onchain"
	"github.com/lucidperp/posmon/pkg/oracle"
	"github.com/lucidperp/posmon/pkg/position"
	"github.com/lucidperp/posmon/pkg/storage"
	"github.com/lucidperp/posmon/pkg/util"
)

// defaultAssets is the monitored symbol set absent an env override. A
// real deployment would load this from the same config source as
// everything else; until this system grows a proper market registry,
// this is the simplest thing that lets the monitor boot against Hermes
// out of the box.
var defaultAssets = []oracle.AssetConfig{
	{Symbol: "BTC-USD", PythPriceID: "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"},
	{Symbol: "ETH-USD", PythPriceID: "ff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"},
}

func main() {
	cfg := params.LoadFromEnv("")

	logFile := os.Getenv("LOG_FILE")
	var logger *zap.Logger
	var err error
	if logFile != "" {
		logger, err = util.NewLoggerWithFile(logFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	oracleClient := oracle.NewClient(cfg.Monitor.OracleBaseURL, defaultAssets, 3, logger)

	backend, err := buildBackend(cfg.Monitor.OrderedSetStoreURL)
	if err != nil {
		sugar.Fatalw("liquidation_backend_init_failed", "err", err)
	}
	if closer, ok := backend.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	liqIndex := liquidation.New(backend, cfg.Monitor.AlertThresholdPct, logger)
	store := position.New(liqIndex)

	scanner := newChainScanner(cfg, logger)

	rt := monitor.NewRuntime(monitor.Config{
		PricePollInterval:     cfg.Monitor.PricePollInterval,
		RefreshInterval:       cfg.Monitor.RefreshInterval,
		PnLUpdateInterval:     cfg.Monitor.PnLUpdateInterval,
		MaintenanceMarginRate: cfg.Monitor.MaintenanceMarginRate,
		AlertThresholdPct:     cfg.Monitor.AlertThresholdPct,
	}, store, liqIndex, oracleClient, scanner, logger)

	if err := rt.Start(ctx); err != nil {
		sugar.Fatalw("monitor_runtime_start_failed", "err", err)
	}
	sugar.Infow("monitor_runtime_started",
		"price_poll_interval", cfg.Monitor.PricePollInterval,
		"refresh_interval", cfg.Monitor.RefreshInterval,
		"pnl_update_interval", cfg.Monitor.PnLUpdateInterval,
	)

	// Mutator wiring has no HTTP/CLI surface of its own yet; it is
	// constructed here so a future entry point or an in-process admin
	// route can reach it without re-deriving the signer/account store
	// wiring.
	_ = buildMutator(cfg, store, signerFromEnv(sugar), logger)

	apiServer := api.NewServer(store, oracleClient, rt, logger)
	go func() {
		<-ctx.Done()
		rt.Stop()
	}()
	relayCtx, cancelRelay := context.WithCancel(ctx)
	defer cancelRelay()
	go apiServer.RelayBroadcasts(relayCtx)

	apiAddr := os.Getenv("API_ADDR")
	if apiAddr == "" {
		apiAddr = ":8080"
	}
	go func() {
		sugar.Infow("api_server_starting", "addr", apiAddr)
		if err := apiServer.Serve(apiAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sugar.Info("shutdown_signal_received")
			rt.Stop()
			return
		case <-ticker.C:
			sugar.Infow("monitor_heartbeat", "subscribers_prices", rt.Prices.SubscriberCount())
		}
	}
}

func buildBackend(storeURL string) (liquidation.Backend, error) {
	if storeURL == "" {
		return liquidation.NewInMemoryBackend(), nil
	}
	return storage.NewPebbleBackend(storeURL)
}

func newChainScanner(cfg params.Config, logger *zap.Logger) monitor.ChainScanner {
	return &scannerAdapter{inner: onchain.NewRPCScanner(cfg.Monitor.RPCURL, cfg.Monitor.ProgramID, 3, logger)}
}

// scannerAdapter bridges onchain.RPCScanner's record type to
// monitor.ChainScanner's without either package importing the other.
type scannerAdapter struct {
	inner *onchain.RPCScanner
}

func (a *scannerAdapter) ScanPositionAccounts(ctx context.Context) ([]monitor.AccountRecord, error) {
	records, err := a.inner.ScanPositionAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]monitor.AccountRecord, len(records))
	for i, r := range records {
		out[i] = monitor.AccountRecord{ID: r.ID, Owner: r.Owner, Data: r.Data}
	}
	return out, nil
}

func signerFromEnv(sugar *zap.SugaredLogger) *crypto.Signer {
	if hexKey := os.Getenv("MUTATOR_PRIVATE_KEY"); hexKey != "" {
		signer, err := crypto.FromPrivateKeyHex(hexKey)
		if err != nil {
			sugar.Fatalw("mutator_signer_init_failed", "err", err)
		}
		return signer
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		sugar.Fatalw("mutator_signer_generate_failed", "err", err)
	}
	sugar.Warn("MUTATOR_PRIVATE_KEY not set, generated an ephemeral signer")
	return signer
}

// noopSubmitter satisfies mutator.Submitter until a real transaction
// transport is wired in; submission itself stays out of scope beyond
// the signed-instruction contract.
type noopSubmitter struct{}

func (noopSubmitter) Submit(_ context.Context, _, _ []byte) (string, error) {
	return "unsubmitted", nil
}

func buildMutator(cfg params.Config, store *position.Store, signer *crypto.Signer, logger *zap.Logger) *mutator.Mutator {
	accounts := mutator.NewAccountStore()
	return mutator.New(mutator.Config{
		ProgramID:              cfg.Monitor.ProgramID,
		MaintenanceMarginRatio: cfg.Monitor.MaintenanceMarginRate,
	}, store, accounts, signer, noopSubmitter{}, logger)
}
