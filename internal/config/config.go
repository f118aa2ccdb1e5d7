package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = "config.env"
	envPrefix         = "htxmm"
)

// Load 读取配置文件并结合环境变量返回 Config。
// config.env 中的凭证会先注入进程环境，已存在的环境变量优先。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 %s 失败: %w", defaultEnvFile, err)
	}

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
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
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

	v.SetDefault("exchange.name", "htx")
	v.SetDefault("exchange.symbol", "BTC/USDT:USDT")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.stream", "websocket")
	v.SetDefault("exchange.ws_url", "wss://api.hbdm.vn/linear-swap-ws")
	v.SetDefault("exchange.poll_interval", "500ms")
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("strategy.order_update_interval", "1s")
	v.SetDefault("strategy.order_size", 0.01)
	v.SetDefault("strategy.inventory_target", 0.0)
	v.SetDefault("strategy.inventory_limit", 0.0)
	v.SetDefault("strategy.inventory_range", 0.1)
	v.SetDefault("strategy.rebalance_threshold", 0.1)
	v.SetDefault("strategy.kappa", 0.1)
	v.SetDefault("strategy.alpha", 0.1)
	v.SetDefault("strategy.gamma", 0.1)
	v.SetDefault("strategy.sigma", 0.1)
	v.SetDefault("strategy.delta", 0.1)
	v.SetDefault("strategy.max_spread_ratio", 0.01)
	v.SetDefault("strategy.min_profit_ratio", 0.0005)
	v.SetDefault("strategy.order_book_depth", 20)
	v.SetDefault("strategy.price_precision", 2)
	v.SetDefault("strategy.size_precision", 4)

	v.SetDefault("risk.max_position", 0.1)
	v.SetDefault("risk.min_spread", 0.0005)
	v.SetDefault("risk.max_spread", 0.002)
	v.SetDefault("risk.max_orders", 10)
	v.SetDefault("risk.max_order_size", 1.0)
	v.SetDefault("risk.risk_limit", 0.0)

	v.SetDefault("execution.policy", "minimal_diff")
	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.retry_delay", "1s")
	v.SetDefault("execution.shutdown_timeout", "10s")

	v.SetDefault("feed.max_data_age", "10s")
	v.SetDefault("feed.reconnect_delay", "1s")
	v.SetDefault("feed.max_reconnect_delay", "30s")
	v.SetDefault("feed.monitor_interval", "1s")
	v.SetDefault("feed.trade_capacity", 100)

	v.SetDefault("supervisor.max_connect_retries", 3)
	v.SetDefault("supervisor.retry_delay", "5s")
	v.SetDefault("supervisor.idle_delay", "1s")

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 8090)

	v.SetDefault("database.path", "data/htx_mm.db")
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
		dc.ErrorUnused = true
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
