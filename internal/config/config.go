package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "omnix"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.poll_timeout", 30)

	v.SetDefault("kraken.api_key", "")
	v.SetDefault("kraken.api_secret", "")
	v.SetDefault("kraken.base_url", "https://api.kraken.com")
	v.SetDefault("kraken.timeout", "10s")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1-mini")
	v.SetDefault("openai.speech_model", "tts-1")
	v.SetDefault("openai.speech_voice", "alloy")
	v.SetDefault("openai.timeout", "15s")
	v.SetDefault("openai.history_turns", 10)

	v.SetDefault("market.pairs", []string{"BTC/USD", "ETH/USD", "SOL/USD"})
	v.SetDefault("market.sma_period", 24)
	v.SetDefault("market.candle_limit", 48)
	v.SetDefault("market.retry_wait", "500ms")
	v.SetDefault("market.max_attempts", 3)

	v.SetDefault("trading.enabled", true)
	v.SetDefault("trading.interval", "10m")
	v.SetDefault("trading.backoff", "1m")
	v.SetDefault("trading.cash_asset", "ZUSD")
	v.SetDefault("trading.cash_threshold", 50.0)
	v.SetDefault("trading.buy_pair", "XXBTZUSD")
	v.SetDefault("trading.buy_asset", "XXBT")
	v.SetDefault("trading.buy_volume", 0.001)
	v.SetDefault("trading.sell_fraction", 0.30)

	v.SetDefault("limits.max_trades", 15)
	v.SetDefault("limits.max_loss_usd", 50.0)

	v.SetDefault("database.path", "data/omnix.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
