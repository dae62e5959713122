// Command collat runs the lending-protocol client: it tracks position
// health, orchestrates deposit/borrow/repay transactions and watches
// borrowers for liquidation opportunities.
//
// Usage:
//
//	collat --config config.yaml
//	collat --setup (interactive configuration wizard)
//	collat (uses CLI arguments)
//
// Required environment variables:
//
//	COLLAT_SIGNER_KEY: hex-encoded private key for the delegated signer
package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/collatfi/collat/config"
	"github.com/collatfi/collat/internal/clients"
	"github.com/collatfi/collat/internal/services/health"
	"github.com/collatfi/collat/internal/services/monitor"
	"github.com/collatfi/collat/internal/services/orchestrator"
	"github.com/collatfi/collat/internal/services/snapshot"
	"github.com/collatfi/collat/internal/setup"
	"github.com/collatfi/collat/internal/web"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := getConfig()
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	if cfg.SignerKey == "" {
		logger.Fatal(config.SignerKeyEnv + " env is not set")
	}

	node, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		logger.Fatal("failed to connect to rpc endpoint", zap.Error(err), zap.String("url", cfg.RPCURL))
	}
	defer node.Close()

	ledger, err := clients.NewLedgerClient(node, cfg.PoolAddress, cfg.OracleAddress, cfg.Tokens)
	if err != nil {
		logger.Fatal("failed to create ledger client", zap.Error(err))
	}

	engine := health.NewEngine(cfg.DefaultLiqThresholdBps)
	builder := snapshot.NewBuilder(ledger, engine, cfg.Tokens, logger)

	provider, err := clients.NewDelegatedProvider(node, cfg.SignerKey, logger)
	if err != nil {
		logger.Fatal("failed to create delegated provider", zap.Error(err))
	}

	orch := orchestrator.New(provider, big.NewInt(cfg.ChainID), logger)
	if cfg.SettleDelay > 0 {
		orch.SetSettleDelay(cfg.SettleDelay)
	}

	mon := monitor.New(builder, engine, orch, ledger, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	seedWatchSet(ctx, mon, ledger, cfg, logger)

	server := web.NewServer(cfg.WebAddr, mon, builder)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(ctx, cfg.PollInterval)
	})
	g.Go(func() error {
		return server.Start(ctx)
	})

	logger.Info("started",
		zap.Int64("chain_id", cfg.ChainID),
		zap.String("pool", cfg.PoolAddress.Hex()),
		zap.String("web_addr", cfg.WebAddr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(err.Error())
	}
}

func getConfig() (*config.Config, error) {
	for _, arg := range os.Args[1:] {
		if arg == "--setup" || arg == "-setup" {
			if err := setup.RunTUI(); err != nil {
				return nil, err
			}
			return config.Load("config.gen.yaml")
		}
	}
	return config.Get()
}

// seedWatchSet fills the monitor with configured addresses and the pool's
// active borrowers. Ledger entries are added last so they upgrade any overlap
// to unremovable provenance.
func seedWatchSet(ctx context.Context, mon *monitor.Monitor, ledger *clients.LedgerClient, cfg *config.Config, logger *zap.Logger) {
	for _, addr := range cfg.WatchAddresses {
		if err := mon.Add(addr, monitor.SourceUser); err != nil {
			logger.Warn("skipping configured watch address", zap.String("address", addr.Hex()), zap.Error(err))
		}
	}

	borrowers, err := ledger.ReadActiveBorrowers(ctx)
	if err != nil {
		logger.Warn("failed to read active borrowers, watching configured addresses only", zap.Error(err))
		return
	}
	for _, addr := range borrowers {
		if err := mon.Add(addr, monitor.SourceLedger); err != nil {
			logger.Warn("skipping ledger borrower", zap.String("address", addr.Hex()), zap.Error(err))
		}
	}
	logger.Info("watch set seeded",
		zap.Int("configured", len(cfg.WatchAddresses)),
		zap.Int("ledger_borrowers", len(borrowers)))
}
