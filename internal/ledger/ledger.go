package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"omnix-trader/internal/config"
)

// Gate 为当日交易闸门：次数与亏损任一达到上限即关闭。
type Gate struct {
	TradingDate string
	Allowed     bool
	TradesSoFar int
	MaxTrades   int
	LossSoFar   float64
	MaxLoss     float64
}

// Ledger 维护按日历日期分片的交易上限记录。
// 记录在当日首次访问时惰性创建，之后只增不删；
// 不存在回滚路径：已计入的交易对当日永久有效。
type Ledger struct {
	db     *sql.DB
	cfg    config.LimitsConfig
	logger *zap.Logger
}

// NewLedger 创建日度账本并初始化表结构。
func NewLedger(db *sql.DB, cfg config.LimitsConfig, logger *zap.Logger) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger: 数据库实例不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTrades <= 0 {
		cfg.MaxTrades = 15
	}
	if cfg.MaxLossUSD <= 0 {
		cfg.MaxLossUSD = 50.0
	}

	l := &Ledger{
		db:     db,
		cfg:    cfg,
		logger: logger,
	}

	if err := l.initSchema(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Ledger) initSchema() error {
	schema := `CREATE TABLE IF NOT EXISTS daily_limits (
		trading_date TEXT PRIMARY KEY,
		trades_count INTEGER NOT NULL DEFAULT 0,
		profit_usd REAL NOT NULL DEFAULT 0,
		loss_usd REAL NOT NULL DEFAULT 0,
		max_trades INTEGER NOT NULL,
		max_loss REAL NOT NULL,
		updated_at TEXT NOT NULL
	);`

	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("ledger: 初始化表结构失败: %w", err)
	}

	return nil
}

// CanTradeToday 返回当日闸门状态，当日记录不存在时先以零值创建。
// 出错时调用方必须按闸门关闭处理（fail closed）。
func (l *Ledger) CanTradeToday(ctx context.Context, now time.Time) (Gate, error) {
	date := dateKey(now)

	record, err := l.ensureRecord(ctx, date)
	if err != nil {
		return Gate{TradingDate: date}, err
	}

	return Gate{
		TradingDate: date,
		Allowed:     record.tradesCount < record.maxTrades && record.lossUSD < record.maxLoss,
		TradesSoFar: record.tradesCount,
		MaxTrades:   record.maxTrades,
		LossSoFar:   record.lossUSD,
		MaxLoss:     record.maxLoss,
	}, nil
}

// RecordTrade 将指定日期的成交计数加一。
// 必须在交易所确认接单之后、且每笔接受的订单恰好调用一次。
func (l *Ledger) RecordTrade(ctx context.Context, date string) error {
	if date == "" {
		return errors.New("ledger: trading_date 不能为空")
	}

	if _, err := l.ensureRecord(ctx, date); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result, err := l.db.ExecContext(ctx,
		`UPDATE daily_limits SET trades_count = trades_count + 1, updated_at = ? WHERE trading_date = ?`,
		now, date,
	)
	if err != nil {
		return fmt.Errorf("ledger: 更新成交计数失败: %w", err)
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows == 0 {
		return fmt.Errorf("ledger: 日期 %s 的记录不存在", date)
	}

	return nil
}

// RecordOutcome 记录已实现盈亏：正值累加 profit_usd，负值累加 loss_usd。
// 自动循环本身不调用此方法（策略无记忆、不做盈亏归因），
// 供能够归因盈亏的协作方使用。
func (l *Ledger) RecordOutcome(ctx context.Context, date string, pnlUSD float64) error {
	if date == "" {
		return errors.New("ledger: trading_date 不能为空")
	}

	if _, err := l.ensureRecord(ctx, date); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)

	var err error
	if pnlUSD >= 0 {
		_, err = l.db.ExecContext(ctx,
			`UPDATE daily_limits SET profit_usd = profit_usd + ?, updated_at = ? WHERE trading_date = ?`,
			pnlUSD, now, date,
		)
	} else {
		_, err = l.db.ExecContext(ctx,
			`UPDATE daily_limits SET loss_usd = loss_usd + ?, updated_at = ? WHERE trading_date = ?`,
			-pnlUSD, now, date,
		)
	}
	if err != nil {
		return fmt.Errorf("ledger: 更新盈亏记录失败: %w", err)
	}

	return nil
}

type dailyRecord struct {
	tradesCount int
	profitUSD   float64
	lossUSD     float64
	maxTrades   int
	maxLoss     float64
}

func (l *Ledger) ensureRecord(ctx context.Context, date string) (dailyRecord, error) {
	var record dailyRecord

	row := l.db.QueryRowContext(ctx,
		`SELECT trades_count, profit_usd, loss_usd, max_trades, max_loss FROM daily_limits WHERE trading_date = ?`,
		date,
	)
	switch err := row.Scan(&record.tradesCount, &record.profitUSD, &record.lossUSD, &record.maxTrades, &record.maxLoss); {
	case err == nil:
		return record, nil
	case errors.Is(err, sql.ErrNoRows):
	default:
		return record, fmt.Errorf("ledger: 查询日度记录失败: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := l.db.ExecContext(ctx,
		`INSERT INTO daily_limits (trading_date, trades_count, profit_usd, loss_usd, max_trades, max_loss, updated_at)
		 VALUES (?, 0, 0, 0, ?, ?, ?)
		 ON CONFLICT(trading_date) DO NOTHING`,
		date, l.cfg.MaxTrades, l.cfg.MaxLossUSD, now,
	); err != nil {
		return record, fmt.Errorf("ledger: 初始化日度记录失败: %w", err)
	}

	l.logger.Info("已创建日度限额记录",
		zap.String("trading_date", date),
		zap.Int("max_trades", l.cfg.MaxTrades),
		zap.Float64("max_loss_usd", l.cfg.MaxLossUSD),
	)

	return dailyRecord{
		maxTrades: l.cfg.MaxTrades,
		maxLoss:   l.cfg.MaxLossUSD,
	}, nil
}

func dateKey(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}
