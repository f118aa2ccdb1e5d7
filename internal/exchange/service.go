package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// marketDataClient 为轮询行情所需的 REST 查询。
type marketDataClient interface {
	FetchOrderBook(ctx context.Context) (OrderBookSnapshot, error)
	FetchTicker(ctx context.Context) (Ticker, error)
	FetchTrades(ctx context.Context, limit int64) ([]Trade, error)
}

// MarketDataService 以固定间隔轮询 REST 接口，对外提供与推送一致的订阅语义。
type MarketDataService struct {
	client   marketDataClient
	interval time.Duration
	logger   *zap.Logger
}

// NewMarketDataService 创建轮询行情服务。
func NewMarketDataService(client marketDataClient, interval time.Duration, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &MarketDataService{
		client:   client,
		interval: interval,
		logger:   logger,
	}
}

// SubscribeOrderBook 返回订单簿轮询流。
func (s *MarketDataService) SubscribeOrderBook(ctx context.Context) (Stream[OrderBookSnapshot], error) {
	return newPollStream(s.interval, s.client.FetchOrderBook), nil
}

// SubscribeTicker 返回行情摘要轮询流。
func (s *MarketDataService) SubscribeTicker(ctx context.Context) (Stream[Ticker], error) {
	return newPollStream(s.interval, s.client.FetchTicker), nil
}

// SubscribeTrades 返回成交轮询流，每次返回最近一批成交。
func (s *MarketDataService) SubscribeTrades(ctx context.Context) (Stream[[]Trade], error) {
	return newPollStream(s.interval, func(ctx context.Context) ([]Trade, error) {
		return s.client.FetchTrades(ctx, 50)
	}), nil
}

type pollStream[T any] struct {
	interval time.Duration
	fetch    func(ctx context.Context) (T, error)

	mu     sync.Mutex
	last   time.Time
	closed chan struct{}
	once   sync.Once
}

func newPollStream[T any](interval time.Duration, fetch func(ctx context.Context) (T, error)) *pollStream[T] {
	return &pollStream[T]{
		interval: interval,
		fetch:    fetch,
		closed:   make(chan struct{}),
	}
}

// Next 首次立即拉取，此后与上次拉取间隔至少 interval。
func (p *pollStream[T]) Next(ctx context.Context) (T, error) {
	var zero T

	p.mu.Lock()
	wait := time.Duration(0)
	if !p.last.IsZero() {
		wait = p.interval - time.Since(p.last)
	}
	p.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-p.closed:
			timer.Stop()
			return zero, errStreamClosed
		case <-timer.C:
		}
	}

	select {
	case <-p.closed:
		return zero, errStreamClosed
	default:
	}

	value, err := p.fetch(ctx)

	p.mu.Lock()
	p.last = time.Now()
	p.mu.Unlock()

	return value, err
}

func (p *pollStream[T]) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
