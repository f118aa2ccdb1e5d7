package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"htx-mm/internal/backoff"
	"htx-mm/internal/config"
	"htx-mm/internal/exchange"
	"htx-mm/internal/execution"
	"htx-mm/internal/feed"
	"htx-mm/internal/risk"
	"htx-mm/internal/strategy"
)

// State 为做市主循环的运行状态。
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateRunning
	StateReconnecting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateRunning:
		return "RUNNING"
	case StateReconnecting:
		return "RECONNECTING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// venue 为连接阶段与停机阶段使用的交易所操作。
type venue interface {
	LoadMarkets(ctx context.Context) (exchange.MarketInfo, error)
	ValidateConnection(ctx context.Context) error
	Close() error
}

type marketFeed interface {
	Start(ctx context.Context) error
	Stop()
	OrderBook() (exchange.OrderBookSnapshot, bool)
	Ticker() (exchange.Ticker, bool)
	Trades() ([]exchange.Trade, bool)
	Stats() []feed.Stats
}

type positionReader interface {
	FetchPosition(ctx context.Context) (exchange.Position, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, target exchange.QuoteSet, policy execution.Policy) (execution.Result, error)
	CancelAll(ctx context.Context) error
}

// Components 为 Supervisor 所需的全部依赖。Journal 可为空。
type Components struct {
	Venue      venue
	Feed       marketFeed
	Positions  positionReader
	Strategy   *strategy.Strategy
	Gate       *risk.Gate
	Reconciler reconciler
	Journal    journal
}

// Supervisor 驱动 连接→报价循环→停机 的状态机。
type Supervisor struct {
	cfg    config.Config
	logger *zap.Logger
	policy execution.Policy

	venue      venue
	feed       marketFeed
	pipeline   *orchestrator
	reconciler reconciler
	journal    journal

	state     atomic.Int32
	cycles    atomic.Int64
	failures  atomic.Int64
	lastCycle atomic.Int64
}

// NewSupervisor 创建状态机，初始状态为 INIT。
func NewSupervisor(cfg config.Config, c Components, logger *zap.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c.Venue == nil || c.Feed == nil || c.Positions == nil || c.Strategy == nil || c.Gate == nil || c.Reconciler == nil {
		return nil, errors.New("app: supervisor 依赖不完整")
	}
	policy, err := execution.ParsePolicy(cfg.Execution.Policy)
	if err != nil {
		return nil, err
	}
	j := c.Journal
	if j == nil {
		j = nopJournal{}
	}

	s := &Supervisor{
		cfg:        cfg,
		logger:     logger,
		policy:     policy,
		venue:      c.Venue,
		feed:       c.Feed,
		reconciler: c.Reconciler,
		journal:    j,
	}
	s.pipeline = &orchestrator{
		feed:       c.Feed,
		positions:  c.Positions,
		strategy:   c.Strategy,
		gate:       c.Gate,
		reconciler: c.Reconciler,
		journal:    j,
		policy:     policy,
		logger:     logger,
	}
	return s, nil
}

// State 返回当前状态，可并发读取。
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Status 为 /status 接口的返回内容。
type Status struct {
	State     string       `json:"state"`
	Cycles    int64        `json:"cycles"`
	Failures  int64        `json:"failures"`
	LastCycle time.Time    `json:"last_cycle,omitempty"`
	Feeds     []feed.Stats `json:"feeds"`
}

// Status 汇总运行状态。
func (s *Supervisor) Status() Status {
	st := Status{
		State:    s.State().String(),
		Cycles:   s.cycles.Load(),
		Failures: s.failures.Load(),
		Feeds:    s.feed.Stats(),
	}
	if ts := s.lastCycle.Load(); ts > 0 {
		st.LastCycle = time.Unix(0, ts).UTC()
	}
	return st
}

// Run 运行状态机直至 ctx 取消或出现致命错误，返回前总会完成停机流程。
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateInit), int32(StateConnecting)) {
		return fmt.Errorf("app: supervisor 状态为 %s，无法重复运行", s.State())
	}
	s.recordTransition(ctx, StateInit, StateConnecting)

	err := s.connect(ctx)
	if err == nil {
		s.transition(ctx, StateRunning)
		err = s.loop(ctx)
	}

	s.shutdown(ctx)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

func (s *Supervisor) connect(ctx context.Context) error {
	attempts := s.cfg.Supervisor.MaxConnectRetries
	if attempts <= 0 {
		attempts = 1
	}
	delay := backoff.Fixed(s.cfg.Supervisor.RetryDelay).New()

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = s.connectOnce(ctx)
		if lastErr == nil {
			return s.feed.Start(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if exchange.IsAuthentication(lastErr) {
			return fmt.Errorf("app: 交易所认证失败: %w", lastErr)
		}
		if attempt == attempts {
			break
		}

		wait := delay.Next()
		s.logger.Warn("连接交易所失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("wait", wait),
			zap.Error(lastErr),
		)
		if err := backoff.Sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("app: 连接交易所失败，已尝试 %d 次: %w", attempts, lastErr)
}

func (s *Supervisor) connectOnce(ctx context.Context) error {
	market, err := s.venue.LoadMarkets(ctx)
	if err != nil {
		return err
	}
	if err := s.venue.ValidateConnection(ctx); err != nil {
		return err
	}
	s.logger.Info("交易所连接已就绪",
		zap.String("symbol", market.Symbol),
		zap.Int("markets", market.MarketCount),
	)
	return nil
}

func (s *Supervisor) loop(ctx context.Context) error {
	interval := s.cfg.Strategy.OrderUpdateInterval
	idle := s.cfg.Supervisor.IdleDelay
	retryDelay := s.cfg.Supervisor.RetryDelay

	for {
		if ctx.Err() != nil {
			return nil
		}

		outcome, err := s.pipeline.tick(ctx)
		wait := interval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			if exchange.IsAuthentication(err) {
				return fmt.Errorf("app: 交易所认证失败: %w", err)
			}
			s.failures.Add(1)
			s.logger.Warn("报价循环出错，稍后重试",
				zap.String("cycle_id", outcome.cycleID),
				zap.String("kind", exchange.Classify(err).String()),
				zap.Error(err),
			)
			s.journal.RecordError(context.WithoutCancel(ctx), outcome.cycleID, "报价循环出错", err, nil)
			if s.State() == StateRunning {
				s.transition(ctx, StateReconnecting)
			}
			wait = retryDelay
		case outcome.idle:
			wait = idle
		default:
			s.cycles.Add(1)
			s.lastCycle.Store(time.Now().UnixNano())
			if s.State() == StateReconnecting {
				s.transition(ctx, StateRunning)
			}
		}

		if err := backoff.Sleep(ctx, wait); err != nil {
			return nil
		}
	}
}

func (s *Supervisor) shutdown(ctx context.Context) {
	s.transition(ctx, StateStopping)

	s.feed.Stop()

	timeout := s.cfg.Execution.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := s.reconciler.CancelAll(cancelCtx); err != nil {
		s.logger.Error("停机撤单失败", zap.Error(err))
	} else {
		s.logger.Info("停机撤单完成")
	}

	if err := s.venue.Close(); err != nil {
		s.logger.Warn("关闭交易所连接失败", zap.Error(err))
	}

	s.transition(ctx, StateStopped)
}

func (s *Supervisor) transition(ctx context.Context, to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	s.recordTransition(ctx, from, to)
}

func (s *Supervisor) recordTransition(ctx context.Context, from, to State) {
	s.logger.Info("状态迁移", zap.String("from", from.String()), zap.String("to", to.String()))
	s.journal.RecordState(context.WithoutCancel(ctx), from.String(), to.String())
}
