package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name         string        `mapstructure:"name"`
	Symbol       string        `mapstructure:"symbol"`
	APIKey       string        `mapstructure:"api_key"`
	APISecret    string        `mapstructure:"api_secret"`
	UseSandbox   bool          `mapstructure:"use_sandbox"`
	Stream       string        `mapstructure:"stream"`
	WSURL        string        `mapstructure:"ws_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Retry        RetryConfig   `mapstructure:"retry"`
}

// RetryConfig 统一控制查询类调用的重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// StrategyConfig 为做市模型参数。
type StrategyConfig struct {
	OrderUpdateInterval time.Duration `mapstructure:"order_update_interval"`
	OrderSize           float64       `mapstructure:"order_size"`
	InventoryTarget     float64       `mapstructure:"inventory_target"`
	InventoryLimit      float64       `mapstructure:"inventory_limit"`
	InventoryRange      float64       `mapstructure:"inventory_range"`
	RebalanceThreshold  float64       `mapstructure:"rebalance_threshold"`
	Kappa               float64       `mapstructure:"kappa"`
	Alpha               float64       `mapstructure:"alpha"`
	Gamma               float64       `mapstructure:"gamma"`
	Sigma               float64       `mapstructure:"sigma"`
	Delta               float64       `mapstructure:"delta"`
	MaxSpreadRatio      float64       `mapstructure:"max_spread_ratio"`
	MinProfitRatio      float64       `mapstructure:"min_profit_ratio"`
	OrderBookDepth      int           `mapstructure:"order_book_depth"`
	PricePrecision      int           `mapstructure:"price_precision"`
	SizePrecision       int           `mapstructure:"size_precision"`
}

// EffectiveInventoryLimit 返回库存上限，未配置时回退到 inventory_range。
func (s StrategyConfig) EffectiveInventoryLimit() float64 {
	if s.InventoryLimit > 0 {
		return s.InventoryLimit
	}
	return s.InventoryRange
}

// RiskConfig 管理风控参数。
type RiskConfig struct {
	MaxPosition  float64 `mapstructure:"max_position"`
	MinSpread    float64 `mapstructure:"min_spread"`
	MaxSpread    float64 `mapstructure:"max_spread"`
	MaxOrders    int     `mapstructure:"max_orders"`
	MaxOrderSize float64 `mapstructure:"max_order_size"`
	RiskLimit    float64 `mapstructure:"risk_limit"`
}

// ExecutionConfig 控制下单行为。
type ExecutionConfig struct {
	Policy          string        `mapstructure:"policy"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// FeedConfig 控制行情订阅与陈旧检测。
type FeedConfig struct {
	MaxDataAge        time.Duration `mapstructure:"max_data_age"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	TradeCapacity     int           `mapstructure:"trade_capacity"`
}

// SupervisorConfig 控制主循环的连接与重试。
type SupervisorConfig struct {
	MaxConnectRetries int           `mapstructure:"max_connect_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	IdleDelay         time.Duration `mapstructure:"idle_delay"`
}

// MonitorConfig 控制监控事件记录与查询接口。
type MonitorConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
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
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.Exchange.Symbol == "" {
		err = multierr.Append(err, errors.New("exchange.symbol 不能为空"))
	}
	if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
		err = multierr.Append(err, errors.New("exchange.api_key 与 exchange.api_secret 必须配置"))
	}
	switch strings.ToLower(c.Exchange.Stream) {
	case "websocket", "rest":
	default:
		err = multierr.Append(err, fmt.Errorf("exchange.stream 仅支持 websocket|rest，当前 %q", c.Exchange.Stream))
	}
	if strings.EqualFold(c.Exchange.Stream, "websocket") && c.Exchange.WSURL == "" {
		err = multierr.Append(err, errors.New("exchange.ws_url 不能为空"))
	}
	if c.Exchange.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("exchange.poll_interval 必须大于0"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}

	if c.Strategy.OrderUpdateInterval <= 0 {
		err = multierr.Append(err, errors.New("strategy.order_update_interval 必须大于0"))
	}
	if c.Strategy.OrderSize <= 0 {
		err = multierr.Append(err, errors.New("strategy.order_size 必须大于0"))
	}
	if c.Strategy.EffectiveInventoryLimit() <= 0 {
		err = multierr.Append(err, errors.New("strategy.inventory_limit 或 inventory_range 必须大于0"))
	}
	if c.Strategy.RebalanceThreshold <= 0 {
		err = multierr.Append(err, errors.New("strategy.rebalance_threshold 必须大于0"))
	}
	if c.Strategy.MaxSpreadRatio <= 0 || c.Strategy.MaxSpreadRatio >= 1 {
		err = multierr.Append(err, errors.New("strategy.max_spread_ratio 必须位于(0,1)"))
	}
	if c.Strategy.MinProfitRatio < 0 {
		err = multierr.Append(err, errors.New("strategy.min_profit_ratio 不能为负"))
	}
	if c.Strategy.OrderBookDepth <= 0 {
		err = multierr.Append(err, errors.New("strategy.order_book_depth 必须大于0"))
	}
	if c.Strategy.PricePrecision < 0 || c.Strategy.SizePrecision < 0 {
		err = multierr.Append(err, errors.New("strategy.price_precision/size_precision 不能为负"))
	}

	if c.Risk.MaxPosition <= 0 {
		err = multierr.Append(err, errors.New("risk.max_position 必须大于0"))
	}
	if c.Risk.MinSpread < 0 || c.Risk.MaxSpread <= 0 {
		err = multierr.Append(err, errors.New("risk.min_spread 不能为负且 risk.max_spread 必须大于0"))
	}
	if c.Risk.MinSpread > c.Risk.MaxSpread {
		err = multierr.Append(err, errors.New("risk.min_spread 不能大于 max_spread"))
	}
	if c.Risk.MaxOrders <= 0 {
		err = multierr.Append(err, errors.New("risk.max_orders 必须大于0"))
	}
	if c.Risk.MaxOrderSize <= 0 {
		err = multierr.Append(err, errors.New("risk.max_order_size 必须大于0"))
	}
	if c.Risk.RiskLimit < 0 {
		err = multierr.Append(err, errors.New("risk.risk_limit 不能为负"))
	}

	switch strings.ToLower(c.Execution.Policy) {
	case "minimal_diff", "full_replace":
	default:
		err = multierr.Append(err, fmt.Errorf("execution.policy 仅支持 minimal_diff|full_replace，当前 %q", c.Execution.Policy))
	}
	if c.Execution.MaxRetries <= 0 {
		err = multierr.Append(err, errors.New("execution.max_retries 必须大于0"))
	}
	if c.Execution.RetryDelay < 0 {
		err = multierr.Append(err, errors.New("execution.retry_delay 不能为负"))
	}
	if c.Execution.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("execution.shutdown_timeout 必须大于0"))
	}

	if c.Feed.MaxDataAge <= 0 {
		err = multierr.Append(err, errors.New("feed.max_data_age 必须大于0"))
	}
	if c.Feed.ReconnectDelay <= 0 || c.Feed.MaxReconnectDelay < c.Feed.ReconnectDelay {
		err = multierr.Append(err, errors.New("feed.reconnect_delay 必须为正且不大于 max_reconnect_delay"))
	}
	if c.Feed.MonitorInterval <= 0 {
		err = multierr.Append(err, errors.New("feed.monitor_interval 必须大于0"))
	}
	if c.Feed.TradeCapacity <= 0 {
		err = multierr.Append(err, errors.New("feed.trade_capacity 必须大于0"))
	}

	if c.Supervisor.MaxConnectRetries <= 0 {
		err = multierr.Append(err, errors.New("supervisor.max_connect_retries 必须大于0"))
	}
	if c.Supervisor.RetryDelay <= 0 || c.Supervisor.IdleDelay <= 0 {
		err = multierr.Append(err, errors.New("supervisor.retry_delay/idle_delay 必须大于0"))
	}

	if c.Monitor.Enabled && (c.Monitor.Port <= 0 || c.Monitor.Port > 65535) {
		err = multierr.Append(err, errors.New("monitor.port 必须位于(0,65535]"))
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
