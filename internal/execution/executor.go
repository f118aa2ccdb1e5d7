package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"htx-mm/internal/backoff"
	"htx-mm/internal/exchange"
)

// Reconciler 将交易所挂单调和为目标报价集合。
type Reconciler struct {
	client gateway
	logger *zap.Logger
	opts   Options
	retry  backoff.Policy
}

// NewReconciler 创建挂单调和器。
func NewReconciler(client gateway, opts Options, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = 0
	}
	return &Reconciler{
		client: client,
		logger: logger,
		opts:   opts,
		retry:  backoff.Fixed(opts.RetryDelay),
	}
}

// Reconcile 按策略调和挂单。单笔失败只记录日志，留待下一轮；
// 仅认证错误或无法读取挂单时返回错误。
func (r *Reconciler) Reconcile(ctx context.Context, target exchange.QuoteSet, policy Policy) (Result, error) {
	start := time.Now()
	result := Result{Policy: policy}

	current, err := r.client.FetchOpenOrders(ctx)
	if err != nil {
		return result, fmt.Errorf("execution: 查询挂单失败: %w", err)
	}

	switch policy {
	case PolicyFullReplace:
		err = r.fullReplace(ctx, current, target, &result)
	case PolicyMinimalDiff:
		err = r.minimalDiff(ctx, current, target, &result)
	default:
		return result, fmt.Errorf("execution: 不支持的调和策略 %q", policy)
	}
	result.Duration = time.Since(start)

	if err != nil {
		return result, err
	}

	r.logger.Debug("挂单调和完成",
		zap.String("policy", string(policy)),
		zap.Int("kept", result.Kept),
		zap.Int("cancelled", result.Cancelled),
		zap.Int("placed", result.Placed),
		zap.Int("failed", result.Failed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// CancelAll 撤销全部挂单，用于停机。
func (r *Reconciler) CancelAll(ctx context.Context) error {
	return r.withRetry(ctx, "cancel_all_orders", func() error {
		return r.client.CancelAllOrders(ctx)
	})
}

func (r *Reconciler) fullReplace(ctx context.Context, current []exchange.WorkingOrder, target exchange.QuoteSet, result *Result) error {
	if len(current) > 0 {
		err := r.withRetry(ctx, "cancel_all_orders", func() error {
			return r.client.CancelAllOrders(ctx)
		})
		if err != nil {
			if fatal(err) {
				return err
			}
			// 撤单未确认时继续下单可能导致重复挂单，本轮放弃。
			result.Failed++
			r.logger.Warn("全量撤单失败，本轮跳过下单", zap.Error(err))
			return nil
		}
		result.Cancelled += len(current)
	}

	for _, q := range target {
		if err := r.place(ctx, q, result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) minimalDiff(ctx context.Context, current []exchange.WorkingOrder, target exchange.QuoteSet, result *Result) error {
	toCancel, toPlace, kept := r.diff(current, target)
	result.Kept = kept

	for _, o := range toCancel {
		err := r.withRetry(ctx, "cancel_order", func() error {
			return r.client.CancelOrder(ctx, o.ID)
		})
		if err != nil {
			if fatal(err) {
				return err
			}
			result.Failed++
			r.logger.Warn("撤单失败，留待下一轮",
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
			continue
		}
		result.Cancelled++
	}

	for _, q := range toPlace {
		if err := r.place(ctx, q, result); err != nil {
			return err
		}
	}
	return nil
}

// diff 以 (方向, 价格, 数量) 取整后的多重集合匹配挂单与目标，市价单永不匹配。
func (r *Reconciler) diff(current []exchange.WorkingOrder, target exchange.QuoteSet) ([]exchange.WorkingOrder, exchange.QuoteSet, int) {
	pool := make(map[string][]exchange.WorkingOrder, len(current))
	for _, o := range current {
		k := r.key(o.Side, o.Price, o.Size)
		pool[k] = append(pool[k], o)
	}

	var (
		toPlace exchange.QuoteSet
		kept    int
	)
	for _, q := range target {
		if q.Kind == exchange.KindMarket {
			toPlace = append(toPlace, q)
			continue
		}
		k := r.key(q.Side, q.Price, q.Size)
		if matches := pool[k]; len(matches) > 0 {
			pool[k] = matches[1:]
			kept++
			continue
		}
		toPlace = append(toPlace, q)
	}

	var toCancel []exchange.WorkingOrder
	for _, o := range current {
		k := r.key(o.Side, o.Price, o.Size)
		if rest := pool[k]; len(rest) > 0 && rest[0].ID == o.ID {
			toCancel = append(toCancel, o)
			pool[k] = rest[1:]
		}
	}
	return toCancel, toPlace, kept
}

func (r *Reconciler) key(side exchange.Side, price, size float64) string {
	return string(side) + "|" +
		decimal.NewFromFloat(price).StringFixed(r.opts.PricePrecision) + "|" +
		decimal.NewFromFloat(size).StringFixed(r.opts.SizePrecision)
}

func (r *Reconciler) place(ctx context.Context, q exchange.Quote, result *Result) error {
	var id string
	err := r.withRetry(ctx, "create_order", func() error {
		placed, err := r.client.PlaceOrder(ctx, q)
		if err != nil {
			return err
		}
		id = placed
		return nil
	})
	if err != nil {
		if fatal(err) {
			return err
		}
		result.Failed++
		r.logger.Warn("下单失败，留待下一轮",
			zap.String("side", string(q.Side)),
			zap.String("kind", string(q.Kind)),
			zap.Float64("price", q.Price),
			zap.Float64("size", q.Size),
			zap.Error(err),
		)
		return nil
	}

	result.Placed++
	r.logger.Debug("已提交委托",
		zap.String("order_id", id),
		zap.String("side", string(q.Side)),
		zap.Float64("price", q.Price),
		zap.Float64("size", q.Size),
	)
	return nil
}

// withRetry 对可重试错误按固定间隔重试，最多 MaxRetries 次。
func (r *Reconciler) withRetry(ctx context.Context, operation string, fn func() error) error {
	delay := r.retry.New()
	var err error
	for attempt := 1; attempt <= r.opts.MaxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !exchange.IsRetryable(err) || attempt == r.opts.MaxRetries {
			break
		}

		wait := delay.Next()
		r.logger.Warn("交易所操作失败，准备重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if sleepErr := backoff.Sleep(ctx, wait); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("execution: %s 失败: %w", operation, err)
}

func fatal(err error) bool {
	return exchange.IsAuthentication(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
