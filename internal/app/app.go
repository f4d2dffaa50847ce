package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"omnix-trader/internal/ai"
	"omnix-trader/internal/bot"
	"omnix-trader/internal/config"
	"omnix-trader/internal/exchange"
	"omnix-trader/internal/journal"
	"omnix-trader/internal/ledger"
	"omnix-trader/internal/market"
	"omnix-trader/internal/store"
	"omnix-trader/internal/trader"
)

// App 聚合核心依赖并驱动系统生命周期：
// 一个后台自动交易循环与一个 Telegram 前端并发运行，
// 共享交易所客户端与日度限额账本。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 组装依赖并阻塞运行，直到 ctx 取消或任一子系统失败。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("OMNIX 交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Bool("auto_trading", a.cfg.Trading.Enabled),
		zap.Duration("interval", a.cfg.Trading.Interval),
	)

	venue, err := exchange.NewClient(a.cfg.Kraken, a.logger)
	if err != nil {
		return fmt.Errorf("初始化交易所客户端失败: %w", err)
	}
	if !venue.Configured() {
		a.logger.Warn("未配置交易所凭证，余额与下单将短路返回")
	}

	dailyLedger, err := ledger.NewLedger(a.store.DB(), a.cfg.Limits, a.logger)
	if err != nil {
		return fmt.Errorf("初始化日度账本失败: %w", err)
	}

	journalSvc, err := journal.NewService(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("初始化日志服务失败: %w", err)
	}

	feed := market.NewFeed(a.cfg.Market, a.logger)
	assistant := ai.NewClient(a.cfg.OpenAI, a.logger)

	scheduler, err := trader.NewScheduler(a.cfg.Trading, venue, dailyLedger, journalSvc, feed, a.logger)
	if err != nil {
		return fmt.Errorf("初始化调度器失败: %w", err)
	}

	front, err := bot.NewBot(a.cfg.Telegram, venue, feed, scheduler, dailyLedger, assistant, journalSvc, a.logger)
	if err != nil {
		return fmt.Errorf("初始化 Telegram 前端失败: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return front.Run(groupCtx)
	})

	if a.cfg.Trading.Enabled {
		group.Go(func() error {
			return scheduler.Run(groupCtx)
		})
	} else {
		a.logger.Info("自动交易已禁用，仅运行聊天前端")
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统运行异常: %w", err)
	}

	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
