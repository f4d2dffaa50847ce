package market

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/markcheno/go-talib"
	"go.uber.org/zap"

	"omnix-trader/internal/config"
)

// Quote 为单个交易对的展示行情。
type Quote struct {
	Pair        string
	Last        float64
	Change24Pct float64
	SMA         float64
	At          time.Time
}

// Feed 通过 ccxt 公共接口拉取 Kraken 行情，只读、无凭证。
type Feed struct {
	cfg      config.MarketConfig
	logger   *zap.Logger
	exchange *ccxt.Kraken

	// loadMarkets 执行市场元数据加载，测试中可替换
	loadMarkets   func() error
	marketsMu     sync.Mutex
	marketsLoaded atomic.Bool
}

// NewFeed 构造公共行情客户端。
func NewFeed(cfg config.MarketConfig, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SMAPeriod <= 1 {
		cfg.SMAPeriod = 24
	}
	if cfg.CandleLimit < int64(cfg.SMAPeriod) {
		cfg.CandleLimit = int64(cfg.SMAPeriod) * 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 500 * time.Millisecond
	}

	ex := ccxt.NewKraken(map[string]interface{}{
		"enableRateLimit": true,
	})

	f := &Feed{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}
	f.loadMarkets = func() error {
		if _, err := ex.LoadMarkets(); err != nil {
			return fmt.Errorf("market: 加载市场元数据失败: %w", err)
		}
		return nil
	}

	return f
}

// Quotes 返回配置内全部展示交易对的行情。
func (f *Feed) Quotes(ctx context.Context) ([]Quote, error) {
	quotes := make([]Quote, 0, len(f.cfg.Pairs))
	for _, pair := range f.cfg.Pairs {
		quote, err := f.Quote(ctx, pair)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// Quote 拉取单个交易对的最新价、24小时涨跌与均线。
func (f *Feed) Quote(ctx context.Context, pair string) (Quote, error) {
	symbol := UnifiedSymbol(pair)

	closes, err := f.fetchCloses(ctx, symbol, "1h", f.cfg.CandleLimit)
	if err != nil {
		return Quote{}, err
	}

	quote, err := quoteFromCloses(symbol, closes, f.cfg.SMAPeriod)
	if err != nil {
		return Quote{}, err
	}

	return quote, nil
}

// LastPrice 返回交易对最新成交价，供成交金额估算使用。
func (f *Feed) LastPrice(ctx context.Context, pair string) (float64, error) {
	closes, err := f.fetchCloses(ctx, UnifiedSymbol(pair), "1m", 1)
	if err != nil {
		return 0, err
	}
	if len(closes) == 0 {
		return 0, fmt.Errorf("market: %s 无可用K线", pair)
	}
	return closes[len(closes)-1], nil
}

func (f *Feed) fetchCloses(ctx context.Context, symbol, timeframe string, limit int64) ([]float64, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV

	err := f.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s_%s", symbol, timeframe), func() error {
		if err := f.ensureMarketsLoaded(ctx); err != nil {
			return err
		}

		result, err := f.exchange.FetchOHLCV(
			symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}

		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	closes := make([]float64, 0, len(raw))
	for _, candle := range raw {
		closes = append(closes, candle.Close)
	}

	return closes, nil
}

// ensureMarketsLoaded 保证市场元数据恰好成功加载一次。
// 快路径走原子标志，慢路径加锁串行；失败不置位，下次调用重试。
func (f *Feed) ensureMarketsLoaded(ctx context.Context) error {
	if f.marketsLoaded.Load() {
		return nil
	}

	f.marketsMu.Lock()
	defer f.marketsMu.Unlock()

	if f.marketsLoaded.Load() {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	if err := f.loadMarkets(); err != nil {
		return err
	}

	f.marketsLoaded.Store(true)
	f.logger.Info("已完成市场元数据加载")
	return nil
}

func (f *Feed) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	wait := f.cfg.RetryWait

	var err error
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			if attempt > 1 {
				f.logger.Info("行情调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
				)
			}
			return nil
		}

		if !retryable(err) || attempt == f.cfg.MaxAttempts {
			break
		}

		f.logger.Warn("行情调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}

	return fmt.Errorf("market: %s 调用失败: %w", operation, err)
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// quoteFromCloses 由收盘价序列组装展示行情。
func quoteFromCloses(symbol string, closes []float64, smaPeriod int) (Quote, error) {
	if len(closes) == 0 {
		return Quote{}, fmt.Errorf("market: %s 无可用K线", symbol)
	}

	last := closes[len(closes)-1]

	quote := Quote{
		Pair: symbol,
		Last: last,
		At:   time.Now().UTC(),
	}

	// 1小时K线，24根前即24小时前
	if len(closes) > 24 {
		prev := closes[len(closes)-1-24]
		if prev > 0 {
			quote.Change24Pct = (last - prev) / prev * 100
		}
	}

	if len(closes) >= smaPeriod {
		sma := talib.Sma(closes, smaPeriod)
		quote.SMA = sma[len(sma)-1]
	}

	return quote, nil
}

// 基础资产代码到 ccxt 统一符号的映射，覆盖 Kraken 的历史别名。
var krakenAssetAliases = map[string]string{
	"XXBT": "BTC",
	"XBT":  "BTC",
	"XETH": "ETH",
	"XXDG": "DOGE",
	"XXRP": "XRP",
	"XLTC": "LTC",
	"XXLM": "XLM",
	"ZUSD": "USD",
	"ZEUR": "EUR",
}

// UnifiedSymbol 将 Kraken 交易对代码（如 XXBTZUSD、SOLZUSD）翻译为
// ccxt 统一符号（BTC/USD、SOL/USD）。已是统一符号的输入原样返回。
func UnifiedSymbol(pair string) string {
	if strings.Contains(pair, "/") {
		return pair
	}

	quote := ""
	base := pair
	for _, suffix := range []string{"ZUSD", "ZEUR", "USD", "EUR", "USDT", "USDC"} {
		if strings.HasSuffix(pair, suffix) && len(pair) > len(suffix) {
			base = pair[:len(pair)-len(suffix)]
			quote = suffix
			break
		}
	}
	if quote == "" {
		return pair
	}

	if alias, ok := krakenAssetAliases[base]; ok {
		base = alias
	}
	if alias, ok := krakenAssetAliases[quote]; ok {
		quote = alias
	}

	return base + "/" + quote
}
