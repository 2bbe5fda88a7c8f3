package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"OpenRoute-Chain/internal/allowance"
	"OpenRoute-Chain/internal/api"
	"OpenRoute-Chain/internal/backend"
	"OpenRoute-Chain/internal/balance"
	"OpenRoute-Chain/internal/config"
	"OpenRoute-Chain/internal/execution"
	"OpenRoute-Chain/internal/observability/metrics"
	"OpenRoute-Chain/internal/receiving"
	"OpenRoute-Chain/internal/runner"
	"OpenRoute-Chain/internal/status"
	"OpenRoute-Chain/internal/web3/provider"
	"OpenRoute-Chain/internal/web3/safe"
	"OpenRoute-Chain/internal/web3/wallet"
	"OpenRoute-Chain/pkg/logger"
)

// main 是 openrouted 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("openrouted 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("OPENROUTE_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "openroute.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logger.Sync()

	chains, err := provider.NewRegistry(ctx, provider.Options{
		ChainConfig:  cfg.Chains.File,
		PollInterval: cfg.Chains.PollInterval,
	})
	if err != nil {
		return err
	}
	defer chains.Close()

	keyring := wallet.NewKeyring(chains)
	for _, key := range cfg.Wallet.PrivateKeys {
		address, err := keyring.Import(key)
		if err != nil {
			return err
		}
		logger.L().Info("已加载签名账户", slog.String("address", address))
	}

	safes, err := safe.NewRegistry(chains.Chains(), nil)
	if err != nil {
		return err
	}
	for _, sc := range cfg.Wallet.Safes {
		address, err := keyring.AddSafe(sc.Address, sc.Owner, safes)
		if err != nil {
			return fmt.Errorf("加载 Safe 账户 %s 失败: %w", sc.Address, err)
		}
		logger.L().Info("已加载 Safe 多签账户", slog.String("address", address), slog.String("owner", sc.Owner))
	}

	backendClient, err := backend.NewClient(backend.Config{
		BaseURL:    cfg.Backend.BaseURL,
		APIKey:     cfg.Backend.APIKey,
		Integrator: cfg.Backend.Integrator,
		Timeout:    cfg.Backend.Timeout,
	}, nil)
	if err != nil {
		return err
	}

	var balanceOpts []balance.Option
	if cfg.Execution.BalanceChunkSize > 0 {
		balanceOpts = append(balanceOpts, balance.WithChunkSize(cfg.Execution.BalanceChunkSize))
	}
	balances := balance.NewFetcher(chains, balanceOpts...)
	executor, err := execution.NewExecutor(execution.Dependencies{
		Chains:     chains,
		Balances:   balances,
		Allowances: allowance.NewService(chains),
		Backend:    backendClient,
		Receipts:   receiving.NewAwaiter(backendClient, cfg.Execution.ReceivingInterval),
		Multisig:   safes,
		Metrics:    metrics.Execution{},
	})
	if err != nil {
		return err
	}

	infra, err := openInfrastructure(ctx, cfg)
	if err != nil {
		return err
	}
	defer infra.Close()

	sessions := runner.NewSessions()
	service := runner.NewService(infra.store, infra.queue, sessions)
	processor := runner.NewProcessor(executor, infra.store, keyring, infra.queue,
		runner.WithWorkerCount(cfg.Execution.Workers),
		runner.WithLocker(infra.locker),
		runner.WithSlotTTL(cfg.Execution.SlotTTL),
		runner.WithSessions(sessions),
		runner.WithObservers(broadcasterObserver(infra)...),
		runner.WithSettings(execution.Settings{InfiniteApproval: cfg.Execution.InfiniteApproval}),
		runner.WithAlertDispatcher(buildAlerting(cfg.Alerting)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("路由处理器异常退出", slog.Any("error", err))
		}
	}()

	logger.L().Info("openrouted 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.Int("chains", len(chains.Chains())),
		slog.Int("accounts", len(keyring.Addresses())),
		slog.Int("event_sinks", infra.events.Len()),
	)

	server := api.NewServer(cfg.Server.Address, service).
		WithShutdownTimeout(cfg.Server.ShutdownTimeout).
		WithBalances(balances)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func broadcasterObserver(infra *infrastructure) []status.Observer {
	if infra.events.Len() == 0 {
		return nil
	}
	return []status.Observer{infra.events}
}
