package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"omnix-trader/internal/config"
	"omnix-trader/internal/exchange"
	"omnix-trader/internal/journal"
	"omnix-trader/internal/ledger"
	"omnix-trader/internal/policy"
)

// Venue 为调度器依赖的交易所能力。
type Venue interface {
	Balance(ctx context.Context) (exchange.Snapshot, error)
	AddOrder(ctx context.Context, spec exchange.OrderSpec) (exchange.OrderResult, error)
}

// Limiter 为日度限额账本能力。
type Limiter interface {
	CanTradeToday(ctx context.Context, now time.Time) (ledger.Gate, error)
	RecordTrade(ctx context.Context, date string) error
}

// Recorder 持久化交易流水，尽力而为。
type Recorder interface {
	RecordTrade(ctx context.Context, record journal.TradeRecord)
}

// Quoter 提供成交金额估算用的最新价格，可为 nil。
type Quoter interface {
	LastPrice(ctx context.Context, pair string) (float64, error)
}

// CycleReport 描述一次决策周期的可观测结果。
type CycleReport struct {
	At      time.Time
	Gate    ledger.Gate
	Intent  policy.Intent
	Result  *exchange.OrderResult
	Skipped string
}

// Scheduler 以固定间隔驱动决策周期。周期内的任何失败都被限制在
// 该周期内：记录日志后以缩短的退避间隔进入下一个周期，循环本身
// 只随宿主进程的 context 取消而停止。
//
// 定时周期与手动触发共用一把互斥锁，进程内对账本保持单写者。
type Scheduler struct {
	venue   Venue
	ledger  Limiter
	journal Recorder
	quoter  Quoter
	params  policy.Params
	logger  *zap.Logger

	interval time.Duration
	backoff  time.Duration

	cycleMu sync.Mutex

	reportMu   sync.Mutex
	lastReport *CycleReport
}

// NewScheduler 创建自动交易调度器。
func NewScheduler(cfg config.TradingConfig, venue Venue, limiter Limiter, journal Recorder, quoter Quoter, logger *zap.Logger) (*Scheduler, error) {
	if venue == nil {
		return nil, errors.New("trader: venue 不能为空")
	}
	if limiter == nil {
		return nil, errors.New("trader: ledger 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = time.Minute
	}

	return &Scheduler{
		venue:   venue,
		ledger:  limiter,
		journal: journal,
		quoter:  quoter,
		params: policy.Params{
			CashAsset:     cfg.CashAsset,
			CashThreshold: cfg.CashThreshold,
			BuyPair:       cfg.BuyPair,
			BuyAsset:      cfg.BuyAsset,
			BuyVolume:     cfg.BuyVolume,
			SellFraction:  cfg.SellFraction,
		},
		logger:   logger,
		interval: interval,
		backoff:  backoff,
	}, nil
}

// Interval 返回稳态周期间隔。
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// LastReport 返回最近一次周期的结果副本。
func (s *Scheduler) LastReport() (CycleReport, bool) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	if s.lastReport == nil {
		return CycleReport{}, false
	}
	return *s.lastReport, true
}

// Run 启动调度循环，直到 ctx 取消。失败周期使用退避间隔重试。
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("自动交易循环启动",
		zap.Duration("interval", s.interval),
		zap.Duration("backoff", s.backoff),
	)

	wait := s.runAndPlan(ctx)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("自动交易循环停止")
			return nil
		case <-timer.C:
			timer.Reset(s.runAndPlan(ctx))
		}
	}
}

func (s *Scheduler) runAndPlan(ctx context.Context) time.Duration {
	if _, err := s.TriggerNow(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return s.interval
		}
		s.logger.Error("决策周期失败，将以退避间隔重试", zap.Error(err), zap.Duration("backoff", s.backoff))
		return s.backoff
	}
	return s.interval
}

// TriggerNow 同步执行一次完整决策周期，供定时循环与聊天前端复用。
func (s *Scheduler) TriggerNow(ctx context.Context) (CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	report := CycleReport{At: time.Now().UTC()}

	gate, err := s.ledger.CanTradeToday(ctx, report.At)
	report.Gate = gate
	if err != nil {
		// fail closed：账本不可用时闸门视为关闭
		s.store(report)
		return report, fmt.Errorf("trader: 查询日度限额失败: %w", err)
	}

	if !gate.Allowed {
		report.Skipped = "日度限额已用尽"
		s.logger.Info("当日交易闸门关闭，跳过周期",
			zap.Int("trades", gate.TradesSoFar),
			zap.Int("max_trades", gate.MaxTrades),
			zap.Float64("loss_usd", gate.LossSoFar),
		)
		s.store(report)
		return report, nil
	}

	balances, err := s.venue.Balance(ctx)
	if err != nil {
		s.store(report)
		if errors.Is(err, exchange.ErrNotConfigured) {
			report.Skipped = "交易所凭证未配置"
			s.logger.Warn("交易所凭证未配置，跳过周期")
			return report, nil
		}
		return report, fmt.Errorf("trader: 获取余额失败: %w", err)
	}

	report.Intent = policy.Decide(balances, gate, s.params)
	if report.Intent.Action == policy.ActionNone {
		s.logger.Info("本周期无交易动作", zap.String("reason", report.Intent.Reason))
		s.store(report)
		return report, nil
	}

	result, err := s.execute(ctx, gate, report.Intent, "scheduler")
	report.Result = result
	s.store(report)
	return report, err
}

// ManualOrder 执行一次手动买入/卖出，与定时周期共用限额与互斥。
func (s *Scheduler) ManualOrder(ctx context.Context, side exchange.OrderSide) (CycleReport, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	report := CycleReport{At: time.Now().UTC()}

	gate, err := s.ledger.CanTradeToday(ctx, report.At)
	report.Gate = gate
	if err != nil {
		return report, fmt.Errorf("trader: 查询日度限额失败: %w", err)
	}
	if !gate.Allowed {
		report.Skipped = "日度限额已用尽"
		return report, nil
	}

	switch side {
	case exchange.OrderSideBuy:
		report.Intent = policy.BuyIntent(s.params)
	case exchange.OrderSideSell:
		balances, err := s.venue.Balance(ctx)
		if err != nil {
			return report, fmt.Errorf("trader: 获取余额失败: %w", err)
		}
		intent, ok := policy.SellIntent(balances, s.params)
		if !ok {
			report.Skipped = "无可卖持仓"
			return report, nil
		}
		report.Intent = intent
	default:
		return report, fmt.Errorf("trader: 未知方向 %q", side)
	}

	result, err := s.execute(ctx, gate, report.Intent, "manual")
	report.Result = result
	return report, err
}

// execute 下单并在接单后恰好记账一次；拒单不记账、不视为周期失败。
func (s *Scheduler) execute(ctx context.Context, gate ledger.Gate, intent policy.Intent, origin string) (*exchange.OrderResult, error) {
	spec := exchange.OrderSpec{
		Pair:   intent.Pair,
		Side:   exchange.OrderSide(intent.Action),
		Volume: intent.Volume,
	}

	result, err := s.venue.AddOrder(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("trader: 下单失败: %w", err)
	}

	if !result.Accepted {
		s.logger.Warn("交易所拒单，不计入日度限额",
			zap.String("pair", spec.Pair),
			zap.String("reason", result.Reason),
		)
		s.record(ctx, spec, result, origin, "rejected")
		return &result, nil
	}

	if err := s.ledger.RecordTrade(ctx, gate.TradingDate); err != nil {
		// 订单已执行但计数失败：按失败周期处理，进入退避
		s.logger.Error("记账失败：订单已执行但未计入限额",
			zap.String("order_id", result.OrderID),
			zap.Error(err),
		)
		s.record(ctx, spec, result, origin, "accepted_unrecorded")
		return &result, fmt.Errorf("trader: 更新日度限额失败: %w", err)
	}

	s.logger.Info("交易执行完成",
		zap.String("pair", spec.Pair),
		zap.String("side", string(spec.Side)),
		zap.Float64("volume", spec.Volume),
		zap.String("order_id", result.OrderID),
		zap.Int("trades_today", gate.TradesSoFar+1),
	)

	s.record(ctx, spec, result, origin, "accepted")
	return &result, nil
}

func (s *Scheduler) record(ctx context.Context, spec exchange.OrderSpec, result exchange.OrderResult, origin, status string) {
	if s.journal == nil {
		return
	}

	record := journal.TradeRecord{
		Pair:    spec.Pair,
		Side:    string(spec.Side),
		Volume:  spec.Volume,
		OrderID: result.OrderID,
		Status:  status,
		Origin:  origin,
	}

	if s.quoter != nil {
		if price, err := s.quoter.LastPrice(ctx, spec.Pair); err == nil && price > 0 {
			record.Price = price
			record.USDValue = price * spec.Volume
		}
	}

	s.journal.RecordTrade(ctx, record)
}

func (s *Scheduler) store(report CycleReport) {
	s.reportMu.Lock()
	s.lastReport = &report
	s.reportMu.Unlock()
}
