package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kraken   KrakenConfig   `mapstructure:"kraken"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Market   MarketConfig   `mapstructure:"market"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// TelegramConfig 描述 Telegram Bot 接入参数。
type TelegramConfig struct {
	Token       string `mapstructure:"token"`
	PollTimeout int    `mapstructure:"poll_timeout"`
}

// KrakenConfig 描述交易所私有接口的签名与连接参数。
// APIKey/APISecret 为空时客户端进入未配置模式，不发起任何网络请求。
type KrakenConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	APISecret string        `mapstructure:"api_secret"`
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OpenAIConfig 描述对话与语音模型调用参数。
type OpenAIConfig struct {
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	SpeechModel  string        `mapstructure:"speech_model"`
	SpeechVoice  string        `mapstructure:"speech_voice"`
	Timeout      time.Duration `mapstructure:"timeout"`
	HistoryTurns int           `mapstructure:"history_turns"`
}

// MarketConfig 控制公开行情拉取。
type MarketConfig struct {
	Pairs       []string      `mapstructure:"pairs"`
	SMAPeriod   int           `mapstructure:"sma_period"`
	CandleLimit int64         `mapstructure:"candle_limit"`
	RetryWait   time.Duration `mapstructure:"retry_wait"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

// TradingConfig 控制自动交易循环与固定策略参数。
type TradingConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	Backoff       time.Duration `mapstructure:"backoff"`
	CashAsset     string        `mapstructure:"cash_asset"`
	CashThreshold float64       `mapstructure:"cash_threshold"`
	BuyPair       string        `mapstructure:"buy_pair"`
	BuyAsset      string        `mapstructure:"buy_asset"`
	BuyVolume     float64       `mapstructure:"buy_volume"`
	SellFraction  float64       `mapstructure:"sell_fraction"`
}

// LimitsConfig 控制日度交易上限。
type LimitsConfig struct {
	MaxTrades  int     `mapstructure:"max_trades"`
	MaxLossUSD float64 `mapstructure:"max_loss_usd"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Telegram.Token == "" {
		err = multierr.Append(err, errors.New("telegram.token 不能为空"))
	}
	if c.Telegram.PollTimeout <= 0 {
		err = multierr.Append(err, errors.New("telegram.poll_timeout 必须大于0"))
	}
	if c.Kraken.BaseURL == "" {
		err = multierr.Append(err, errors.New("kraken.base_url 不能为空"))
	}
	if c.Kraken.Timeout <= 0 {
		err = multierr.Append(err, errors.New("kraken.timeout 必须大于0"))
	}
	if (c.Kraken.APIKey == "") != (c.Kraken.APISecret == "") {
		err = multierr.Append(err, errors.New("kraken.api_key 与 api_secret 必须同时配置或同时留空"))
	}
	if c.OpenAI.APIKey != "" {
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
		if c.OpenAI.HistoryTurns < 0 {
			err = multierr.Append(err, errors.New("openai.history_turns 不能为负"))
		}
	}
	if len(c.Market.Pairs) == 0 {
		err = multierr.Append(err, errors.New("market.pairs 至少包含一个交易对"))
	}
	if c.Market.SMAPeriod <= 1 {
		err = multierr.Append(err, errors.New("market.sma_period 必须大于1"))
	}
	if c.Market.CandleLimit < int64(c.Market.SMAPeriod) {
		err = multierr.Append(err, errors.New("market.candle_limit 不能小于 sma_period"))
	}
	if c.Market.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("market.max_attempts 必须大于0"))
	}
	if c.Market.RetryWait <= 0 {
		err = multierr.Append(err, errors.New("market.retry_wait 必须大于0"))
	}
	if c.Trading.Interval <= 0 {
		err = multierr.Append(err, errors.New("trading.interval 必须大于0"))
	}
	if c.Trading.Backoff <= 0 {
		err = multierr.Append(err, errors.New("trading.backoff 必须大于0"))
	}
	if c.Trading.Backoff > c.Trading.Interval {
		err = multierr.Append(err, errors.New("trading.backoff 不应大于 interval"))
	}
	if c.Trading.CashAsset == "" {
		err = multierr.Append(err, errors.New("trading.cash_asset 不能为空"))
	}
	if c.Trading.CashThreshold <= 0 {
		err = multierr.Append(err, errors.New("trading.cash_threshold 必须大于0"))
	}
	if c.Trading.BuyPair == "" || c.Trading.BuyAsset == "" {
		err = multierr.Append(err, errors.New("trading.buy_pair 与 buy_asset 不能为空"))
	}
	if c.Trading.BuyVolume <= 0 {
		err = multierr.Append(err, errors.New("trading.buy_volume 必须大于0"))
	}
	if c.Trading.SellFraction <= 0 || c.Trading.SellFraction >= 1 {
		err = multierr.Append(err, errors.New("trading.sell_fraction 必须位于(0,1)"))
	}
	if c.Limits.MaxTrades <= 0 {
		err = multierr.Append(err, errors.New("limits.max_trades 必须大于0"))
	}
	if c.Limits.MaxLossUSD <= 0 {
		err = multierr.Append(err, errors.New("limits.max_loss_usd 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
