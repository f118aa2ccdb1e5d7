package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"htx-mm/internal/config"
	"htx-mm/internal/exchange"
	"htx-mm/internal/execution"
	"htx-mm/internal/feed"
	"htx-mm/internal/monitor"
	"htx-mm/internal/position"
	"htx-mm/internal/risk"
	"htx-mm/internal/store"
	"htx-mm/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。store 为空时不记录监控事件。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装各组件并运行至 ctx 取消或出现致命错误。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("做市系统初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.String("symbol", a.cfg.Exchange.Symbol),
		zap.String("stream", a.cfg.Exchange.Stream),
		zap.String("policy", a.cfg.Execution.Policy),
	)

	client, err := exchange.NewClient(a.cfg.Exchange, a.cfg.Strategy.OrderBookDepth, a.logger.Named("exchange"))
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}

	strat, err := strategy.New(strategy.ParametersFromConfig(a.cfg.Strategy, a.cfg.Risk), a.logger.Named("strategy"))
	if err != nil {
		return fmt.Errorf("初始化报价策略失败: %w", err)
	}

	var monitorSvc *monitor.Service
	components := Components{
		Venue:     client,
		Feed:      feed.New(a.marketSource(client), a.cfg.Feed, a.logger.Named("feed")),
		Positions: position.NewManager(client.Raw(), a.cfg.Exchange.Symbol, a.logger.Named("position")),
		Strategy:  strat,
		Gate:      risk.NewGate(a.cfg.Risk, a.logger.Named("risk")),
		Reconciler: execution.NewReconciler(client, execution.Options{
			MaxRetries:     a.cfg.Execution.MaxRetries,
			RetryDelay:     a.cfg.Execution.RetryDelay,
			PricePrecision: int32(a.cfg.Strategy.PricePrecision),
			SizePrecision:  int32(a.cfg.Strategy.SizePrecision),
		}, a.logger.Named("execution")),
	}
	if a.store != nil {
		monitorSvc, err = monitor.NewService(a.store, a.logger.Named("monitor"))
		if err != nil {
			return fmt.Errorf("初始化监控服务失败: %w", err)
		}
		components.Journal = monitorSvc
	}

	supervisor, err := NewSupervisor(*a.cfg, components, a.logger.Named("supervisor"))
	if err != nil {
		return fmt.Errorf("初始化主循环失败: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// 主循环结束后一并关闭监控接口。
		defer cancel()
		return supervisor.Run(gctx)
	})

	if a.cfg.Monitor.Enabled {
		var events eventLister
		if monitorSvc != nil {
			events = monitorSvc
		}
		handler := newMonitorHandler(events, supervisor.Status, a.logger.Named("monitor"))
		g.Go(func() error {
			return serveMonitor(gctx, handler, a.cfg.Monitor.Port, a.logger.Named("monitor"))
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("做市系统已停止")
	return nil
}

func (a *App) marketSource(client *exchange.Client) feed.Source {
	if strings.EqualFold(a.cfg.Exchange.Stream, "rest") {
		return exchange.NewMarketDataService(client, a.cfg.Exchange.PollInterval, a.logger.Named("poller"))
	}
	return exchange.NewStreamer(a.cfg.Exchange.WSURL, a.cfg.Exchange.Symbol, a.logger.Named("ws"))
}
