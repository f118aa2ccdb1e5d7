// Package feed 维护订单簿、行情摘要与成交三路订阅，负责断线重连与陈旧检测。
package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"htx-mm/internal/backoff"
	"htx-mm/internal/config"
	"htx-mm/internal/exchange"
)

// Source 为推送或轮询行情来源。
type Source interface {
	SubscribeOrderBook(ctx context.Context) (exchange.Stream[exchange.OrderBookSnapshot], error)
	SubscribeTicker(ctx context.Context) (exchange.Stream[exchange.Ticker], error)
	SubscribeTrades(ctx context.Context) (exchange.Stream[[]exchange.Trade], error)
}

// Kind 标识一路订阅。
type Kind string

const (
	KindOrderBook Kind = "orderbook"
	KindTicker    Kind = "ticker"
	KindTrades    Kind = "trades"
)

var kinds = []Kind{KindOrderBook, KindTicker, KindTrades}

// ErrAlreadyStarted 表示重复调用 Start。
var ErrAlreadyStarted = errors.New("feed: already started")

// Stats 为单路订阅的运行统计。
type Stats struct {
	Kind       Kind      `json:"kind"`
	LastUpdate time.Time `json:"last_update"`
	Fresh      bool      `json:"fresh"`
	Restarts   int64     `json:"restarts"`
	Failures   int64     `json:"failures"`
}

type task struct {
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
}

type counters struct {
	restarts atomic.Int64
	failures atomic.Int64
}

// Feed 聚合三路行情订阅与一个监控协程。
type Feed struct {
	src    Source
	cfg    config.FeedConfig
	logger *zap.Logger
	now    func() time.Time

	book   slot[exchange.OrderBookSnapshot]
	ticker slot[exchange.Ticker]
	trades slot[[]exchange.Trade]
	ring   *tradeRing

	counters map[Kind]*counters

	mu          sync.Mutex
	running     bool
	runCtx      context.Context
	cancel      context.CancelFunc
	tasks       map[Kind]*task
	monitorDone chan struct{}
}

// New 创建行情订阅器。
func New(src Source, cfg config.FeedConfig, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDataAge <= 0 {
		cfg.MaxDataAge = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 30 * time.Second
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Second
	}

	f := &Feed{
		src:      src,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		ring:     newTradeRing(cfg.TradeCapacity),
		counters: make(map[Kind]*counters, len(kinds)),
		tasks:    make(map[Kind]*task, len(kinds)),
	}
	for _, k := range kinds {
		f.counters[k] = &counters{}
	}
	return f
}

// Start 启动三路订阅与监控协程，立即返回。
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return ErrAlreadyStarted
	}

	f.runCtx, f.cancel = context.WithCancel(ctx)
	f.running = true
	for _, k := range kinds {
		f.startTaskLocked(k)
	}

	f.monitorDone = make(chan struct{})
	go f.monitor(f.runCtx, f.monitorDone)

	f.logger.Info("行情订阅已启动",
		zap.Duration("max_data_age", f.cfg.MaxDataAge),
		zap.Duration("monitor_interval", f.cfg.MonitorInterval),
	)
	return nil
}

// Stop 取消全部任务并等待其退出。重复调用无副作用。
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	f.cancel()
	monitorDone := f.monitorDone
	f.mu.Unlock()

	<-monitorDone

	f.mu.Lock()
	pending := make([]*task, 0, len(f.tasks))
	for _, t := range f.tasks {
		pending = append(pending, t)
	}
	f.mu.Unlock()

	for _, t := range pending {
		<-t.done
	}
	f.logger.Info("行情订阅已停止")
}

// OrderBook 返回最新且未过期的订单簿。
func (f *Feed) OrderBook() (exchange.OrderBookSnapshot, bool) {
	return f.book.load(f.now(), f.cfg.MaxDataAge)
}

// Ticker 返回最新且未过期的行情摘要。
func (f *Feed) Ticker() (exchange.Ticker, bool) {
	return f.ticker.load(f.now(), f.cfg.MaxDataAge)
}

// Trades 返回最近成交缓存，按到达顺序排列。
func (f *Feed) Trades() ([]exchange.Trade, bool) {
	return f.trades.load(f.now(), f.cfg.MaxDataAge)
}

// Stats 返回每路订阅的统计信息。
func (f *Feed) Stats() []Stats {
	now := f.now()
	out := make([]Stats, 0, len(kinds))
	for _, k := range kinds {
		last := f.lastUpdate(k)
		c := f.counters[k]
		out = append(out, Stats{
			Kind:       k,
			LastUpdate: last,
			Fresh:      !last.IsZero() && now.Sub(last) <= f.cfg.MaxDataAge,
			Restarts:   c.restarts.Load(),
			Failures:   c.failures.Load(),
		})
	}
	return out
}

func (f *Feed) lastUpdate(k Kind) time.Time {
	switch k {
	case KindOrderBook:
		return f.book.updatedAt()
	case KindTicker:
		return f.ticker.updatedAt()
	default:
		return f.trades.updatedAt()
	}
}

func (f *Feed) startTaskLocked(k Kind) {
	ctx, cancel := context.WithCancel(f.runCtx)
	t := &task{
		cancel:  cancel,
		done:    make(chan struct{}),
		started: f.now(),
	}
	f.tasks[k] = t

	go func() {
		defer close(t.done)
		f.run(ctx, k)
	}()
}

// restart 先取消并等待旧任务退出，再启动新任务。
func (f *Feed) restart(k Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running || f.runCtx.Err() != nil {
		return
	}
	if old, ok := f.tasks[k]; ok {
		old.cancel()
		<-old.done
	}
	f.counters[k].restarts.Add(1)
	f.startTaskLocked(k)
}

func (f *Feed) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(f.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, k := range f.staleKinds() {
				f.logger.Warn("行情数据过期，重启订阅",
					zap.String("feed", string(k)),
					zap.Time("last_update", f.lastUpdate(k)),
				)
				f.restart(k)
			}
		}
	}
}

// staleKinds 以最近更新与任务启动时间中较新者作为基准判断是否过期。
func (f *Feed) staleKinds() []Kind {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	var stale []Kind
	for _, k := range kinds {
		t, ok := f.tasks[k]
		if !ok {
			continue
		}
		base := f.lastUpdate(k)
		if t.started.After(base) {
			base = t.started
		}
		if now.Sub(base) > f.cfg.MaxDataAge {
			stale = append(stale, k)
		}
	}
	return stale
}

func (f *Feed) run(ctx context.Context, k Kind) {
	logger := f.logger.With(zap.String("feed", string(k)))
	switch k {
	case KindOrderBook:
		runStream(ctx, f, logger, k, f.src.SubscribeOrderBook, f.acceptOrderBook)
	case KindTicker:
		runStream(ctx, f, logger, k, f.src.SubscribeTicker, f.acceptTicker)
	case KindTrades:
		runStream(ctx, f, logger, k, f.src.SubscribeTrades, f.acceptTrades)
	}
}

func (f *Feed) acceptOrderBook(book exchange.OrderBookSnapshot) error {
	if err := book.Validate(); err != nil {
		return err
	}
	f.book.store(book, f.now())
	return nil
}

func (f *Feed) acceptTicker(t exchange.Ticker) error {
	if t.Last <= 0 {
		return errors.New("feed: ticker 成交价无效")
	}
	f.ticker.store(t, f.now())
	return nil
}

func (f *Feed) acceptTrades(trades []exchange.Trade) error {
	snapshot := f.ring.add(trades)
	if len(snapshot) == 0 {
		return errors.New("feed: 无有效成交")
	}
	f.trades.store(snapshot, f.now())
	return nil
}

// runStream 订阅并持续读取，失败时关闭流、退避后重新订阅，仅 ctx 结束时返回。
func runStream[T any](
	ctx context.Context,
	f *Feed,
	logger *zap.Logger,
	k Kind,
	subscribe func(context.Context) (exchange.Stream[T], error),
	accept func(T) error,
) {
	delay := backoff.Exponential(f.cfg.ReconnectDelay, f.cfg.MaxReconnectDelay).New()

	for ctx.Err() == nil {
		stream, err := subscribe(ctx)
		if err == nil {
			err = consume(ctx, stream, logger, accept, delay)
			_ = stream.Close()
		}
		if ctx.Err() != nil {
			return
		}

		f.counters[k].failures.Add(1)
		wait := delay.Next()
		logger.Warn("行情订阅中断，等待重连",
			zap.Duration("wait", wait),
			zap.String("kind", exchange.Classify(err).String()),
			zap.Error(err),
		)
		if backoff.Sleep(ctx, wait) != nil {
			return
		}
	}
}

func consume[T any](
	ctx context.Context,
	stream exchange.Stream[T],
	logger *zap.Logger,
	accept func(T) error,
	delay *backoff.Backoff,
) error {
	for {
		value, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if err := accept(value); err != nil {
			logger.Warn("行情数据无效，已忽略", zap.Error(err))
			continue
		}
		delay.Reset()
	}
}
