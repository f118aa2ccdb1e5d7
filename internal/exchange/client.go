package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"htx-mm/internal/backoff"
	"htx-mm/internal/config"
)

// restClient 为客户端依赖的 ccxt 方法子集，便于测试替换。
type restClient interface {
	LoadMarkets(params ...interface{}) (map[string]ccxt.MarketInterface, error)
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchOrderBook(symbol string, options ...ccxt.FetchOrderBookOptions) (ccxt.OrderBook, error)
	FetchTicker(symbol string, options ...ccxt.FetchTickerOptions) (ccxt.Ticker, error)
	FetchTrades(symbol string, options ...ccxt.FetchTradesOptions) ([]ccxt.Trade, error)
	orderAPI
}

// Client 负责与 HTX 线性永续 REST 接口交互并实现重试机制。
type Client struct {
	cfg    config.ExchangeConfig
	logger *zap.Logger
	api    restClient
	raw    *ccxt.Htx
	symbol string
	depth  int64

	marketsMu     sync.Mutex
	marketsLoaded bool
	market        MarketInfo
}

// NewClient 构造 HTX 客户端。depth 为订单簿拉取档位。
func NewClient(cfg config.ExchangeConfig, depth int, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Symbol == "" {
		return nil, errors.New("exchange: symbol 不能为空")
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "swap",
			"defaultSubType":          "linear",
		},
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewHtx(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	client := newClient(cfg, ex, depth, logger)
	client.raw = ex
	return client, nil
}

func newClient(cfg config.ExchangeConfig, api restClient, depth int, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if depth <= 0 {
		depth = 20
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		api:    api,
		symbol: cfg.Symbol,
		depth:  int64(depth),
	}
}

// Symbol 返回交易对符号。
func (c *Client) Symbol() string {
	return c.symbol
}

// Raw 返回底层 ccxt 客户端，供持仓模块使用。
func (c *Client) Raw() *ccxt.Htx {
	return c.raw
}

// LoadMarkets 加载合约元数据并确认交易对存在。
func (c *Client) LoadMarkets(ctx context.Context) (MarketInfo, error) {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return c.market, nil
	}

	var markets map[string]ccxt.MarketInterface
	err := c.callWithRetry(ctx, "load_markets", func() error {
		result, err := c.api.LoadMarkets()
		if err != nil {
			return err
		}
		markets = result
		return nil
	})
	if err != nil {
		return MarketInfo{}, err
	}

	if _, ok := markets[c.symbol]; !ok {
		return MarketInfo{}, fmt.Errorf("load_markets: %w: 未找到交易对 %s", ErrRejected, c.symbol)
	}

	c.market = MarketInfo{
		Symbol:      c.symbol,
		MarketCount: len(markets),
		LoadedAt:    time.Now().UTC(),
	}
	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载",
		zap.String("symbol", c.symbol),
		zap.Int("markets", len(markets)),
	)
	return c.market, nil
}

// ValidateConnection 通过一次带签名的余额查询验证凭证，认证失败不重试。
func (c *Client) ValidateConnection(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.FetchBalance(); err != nil {
		return Normalize("fetch_balance", err)
	}
	return nil
}

// FetchOrderBook 获取订单簿快照。
func (c *Client) FetchOrderBook(ctx context.Context) (OrderBookSnapshot, error) {
	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		orderBook, err := c.api.FetchOrderBook(c.symbol, ccxt.WithFetchOrderBookLimit(c.depth))
		if err != nil {
			return err
		}
		raw = orderBook
		return nil
	})
	if err != nil {
		return OrderBookSnapshot{}, err
	}
	return convertOrderBook(c.symbol, raw), nil
}

// FetchTicker 获取最新成交价与成交量。
func (c *Client) FetchTicker(ctx context.Context) (Ticker, error) {
	var raw ccxt.Ticker
	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		ticker, err := c.api.FetchTicker(c.symbol)
		if err != nil {
			return err
		}
		raw = ticker
		return nil
	})
	if err != nil {
		return Ticker{}, err
	}
	return convertTicker(c.symbol, raw), nil
}

// FetchTrades 获取最近公开成交。
func (c *Client) FetchTrades(ctx context.Context, limit int64) ([]Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	var raw []ccxt.Trade
	err := c.callWithRetry(ctx, "fetch_trades", func() error {
		trades, err := c.api.FetchTrades(c.symbol, ccxt.WithFetchTradesLimit(limit))
		if err != nil {
			return err
		}
		raw = trades
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Trade, 0, len(raw))
	for _, item := range raw {
		trade, ok := convertTrade(item)
		if !ok {
			continue
		}
		out = append(out, trade)
	}
	return out, nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	maxAttempts := c.cfg.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	minDelay := c.cfg.Retry.MinDelay
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	delay := backoff.Exponential(minDelay, maxDelay).New()

	attempt := 0
	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr := Normalize(operation, err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if Classify(normalizedErr) != KindNetwork || attempt >= maxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay.Next()
		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		if err := backoff.Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// ContractCode 将统一符号转换为 HTX 合约代码，例如 BTC/USDT:USDT -> BTC-USDT。
func ContractCode(symbol string) string {
	base := symbol
	if idx := strings.Index(base, ":"); idx >= 0 {
		base = base[:idx]
	}
	return strings.ToUpper(strings.ReplaceAll(base, "/", "-"))
}

func convertOrderBook(symbol string, ob ccxt.OrderBook) OrderBookSnapshot {
	bids := make([]Level, 0, len(ob.Bids))
	for _, level := range ob.Bids {
		if len(level) < 2 {
			continue
		}
		bids = append(bids, Level{Price: level[0], Amount: level[1]})
	}

	asks := make([]Level, 0, len(ob.Asks))
	for _, level := range ob.Asks {
		if len(level) < 2 {
			continue
		}
		asks = append(asks, Level{Price: level[0], Amount: level[1]})
	}

	return OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: millisOrNow(ob.Timestamp),
	}
}

func convertTicker(symbol string, t ccxt.Ticker) Ticker {
	return Ticker{
		Symbol:     symbol,
		Last:       derefFloat(t.Last),
		BaseVolume: derefFloat(t.BaseVolume),
		Bid:        derefFloat(t.Bid),
		Ask:        derefFloat(t.Ask),
		Timestamp:  millisOrNow(t.Timestamp),
	}
}

func convertTrade(t ccxt.Trade) (Trade, bool) {
	id := derefString(t.Id)
	price := derefFloat(t.Price)
	amount := derefFloat(t.Amount)
	if id == "" || price <= 0 || amount <= 0 {
		return Trade{}, false
	}
	side := SideBuy
	if strings.EqualFold(derefString(t.Side), string(SideSell)) {
		side = SideSell
	}
	return Trade{
		ID:        id,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Timestamp: millisOrNow(t.Timestamp),
	}, true
}

func millisOrNow(ts *int64) time.Time {
	if ts == nil || *ts <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(*ts).UTC()
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
