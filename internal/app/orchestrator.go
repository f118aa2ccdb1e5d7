package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"htx-mm/internal/exchange"
	"htx-mm/internal/execution"
	"htx-mm/internal/risk"
	"htx-mm/internal/strategy"
)

// journal 记录循环事件，monitor.Service 为其实现。
type journal interface {
	RecordCycle(ctx context.Context, cycleID string, book exchange.OrderBookSnapshot, position float64, rebalance bool, orders exchange.QuoteSet, result execution.Result)
	RecordRisk(ctx context.Context, cycleID string, position float64, orders exchange.QuoteSet, verdict risk.Verdict)
	RecordState(ctx context.Context, from, to string)
	RecordError(ctx context.Context, cycleID, msg string, err error, ctxMap map[string]interface{})
}

type nopJournal struct{}

func (nopJournal) RecordCycle(context.Context, string, exchange.OrderBookSnapshot, float64, bool, exchange.QuoteSet, execution.Result) {
}

func (nopJournal) RecordRisk(context.Context, string, float64, exchange.QuoteSet, risk.Verdict) {}

func (nopJournal) RecordState(context.Context, string, string) {}

func (nopJournal) RecordError(context.Context, string, string, error, map[string]interface{}) {}

// orchestrator 执行单轮报价：盘口→持仓→报价或再平衡→风控→调和。
type orchestrator struct {
	feed       marketFeed
	positions  positionReader
	strategy   *strategy.Strategy
	gate       *risk.Gate
	reconciler reconciler
	journal    journal
	policy     execution.Policy
	logger     *zap.Logger
}

type tickOutcome struct {
	cycleID   string
	idle      bool
	rejected  bool
	rebalance bool
	result    execution.Result
}

// tick 执行一轮报价。返回错误表示本轮需要进入重连等待。
func (o *orchestrator) tick(ctx context.Context) (tickOutcome, error) {
	out := tickOutcome{cycleID: uuid.NewString()}

	book, ok := o.feed.OrderBook()
	if !ok {
		o.logger.Debug("订单簿不可用，等待行情")
		out.idle = true
		return out, nil
	}
	bboFields := []zap.Field{
		zap.String("cycle_id", out.cycleID),
		zap.Float64("best_bid", book.BestBid()),
		zap.Float64("best_ask", book.BestAsk()),
	}
	if ticker, ok := o.feed.Ticker(); ok {
		bboFields = append(bboFields, zap.Float64("last", ticker.Last))
	}
	o.logger.Debug("最新盘口", bboFields...)

	pos, err := o.positions.FetchPosition(ctx)
	if err != nil {
		return out, fmt.Errorf("app: 查询持仓失败: %w", err)
	}
	inventory := pos.Size

	var orders exchange.QuoteSet
	if o.strategy.ShouldRebalance(inventory) {
		out.rebalance = true
		orders = o.strategy.ComputeRebalanceOrders(inventory)
		o.logger.Info("库存偏离目标，执行再平衡",
			zap.String("cycle_id", out.cycleID),
			zap.Float64("position", inventory),
			zap.Int("orders", len(orders)),
		)
	} else {
		orders, err = o.strategy.ComputeQuotes(book, inventory)
		if err != nil {
			// 报价无法生成不是交易所故障，跳过本轮即可。
			o.logger.Warn("生成报价失败，跳过本轮", zap.String("cycle_id", out.cycleID), zap.Error(err))
			o.journal.RecordError(ctx, out.cycleID, "生成报价失败", err, nil)
			out.rejected = true
			return out, nil
		}
	}

	verdict := o.gate.Check(orders, inventory)
	if !verdict.Accepted {
		o.journal.RecordRisk(ctx, out.cycleID, inventory, orders, verdict)
		out.rejected = true
		return out, nil
	}

	result, err := o.reconciler.Reconcile(ctx, orders, o.policy)
	out.result = result
	if err != nil {
		return out, fmt.Errorf("app: 调和挂单失败: %w", err)
	}

	trades, _ := o.feed.Trades()
	metrics := o.strategy.Metrics(book, inventory, trades)
	o.logger.Info("报价循环完成",
		zap.String("cycle_id", out.cycleID),
		zap.Float64("mid", metrics.Mid),
		zap.Float64("book_spread", metrics.BookSpread),
		zap.Float64("position", inventory),
		zap.Float64("inventory_usage", metrics.InventoryUsage),
		zap.Float64("realized_volatility", metrics.RealizedVolatility),
		zap.Int("trade_count", metrics.TradeCount),
		zap.Bool("rebalance", out.rebalance),
		zap.Int("kept", result.Kept),
		zap.Int("cancelled", result.Cancelled),
		zap.Int("placed", result.Placed),
		zap.Int("failed", result.Failed),
	)
	o.journal.RecordCycle(ctx, out.cycleID, book, inventory, out.rebalance, orders, result)
	return out, nil
}
