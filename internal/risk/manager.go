package risk

import (
	"math"

	"go.uber.org/zap"

	"htx-mm/internal/config"
	"htx-mm/internal/exchange"
)

const sizeEpsilon = 1e-12

// Gate 对候选委托集合执行风控检查，遇到首个失败项即返回。
type Gate struct {
	cfg    config.RiskConfig
	logger *zap.Logger
}

// NewGate 创建风控检查器。
func NewGate(cfg config.RiskConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, logger: logger}
}

// Check 依次检查委托数量、单笔数量、报价价差、持仓上限与单笔名义价值。
func (g *Gate) Check(orders exchange.QuoteSet, position float64) Verdict {
	verdict := g.evaluate(orders, position)
	if !verdict.Accepted {
		g.logger.Warn("风控拒绝本轮委托",
			zap.String("reason", string(verdict.Reason)),
			zap.String("detail", verdict.Detail),
			zap.Int("orders", len(orders)),
			zap.Float64("position", position),
		)
	}
	return verdict
}

func (g *Gate) evaluate(orders exchange.QuoteSet, position float64) Verdict {
	if len(orders) > g.cfg.MaxOrders {
		return reject(ReasonOrderCount, "委托数量 %d 超过上限 %d", len(orders), g.cfg.MaxOrders)
	}

	for _, o := range orders {
		if o.Size > g.cfg.MaxOrderSize+sizeEpsilon {
			return reject(ReasonOrderSize, "委托数量 %.8f 超过单笔上限 %.8f", o.Size, g.cfg.MaxOrderSize)
		}
	}

	bid, hasBid := orders.Bid()
	ask, hasAsk := orders.Ask()
	if hasBid && hasAsk && bid.Price > 0 {
		spread := (ask.Price - bid.Price) / bid.Price
		if spread < g.cfg.MinSpread {
			return reject(ReasonSpreadTooNarrow, "报价价差 %.6f 低于下限 %.6f", spread, g.cfg.MinSpread)
		}
		if spread > g.cfg.MaxSpread {
			return reject(ReasonSpreadTooWide, "报价价差 %.6f 高于上限 %.6f", spread, g.cfg.MaxSpread)
		}
	}

	if v := g.checkPosition(orders, position); !v.Accepted {
		return v
	}

	if g.cfg.RiskLimit > 0 {
		for _, o := range orders {
			if o.Kind != exchange.KindLimit {
				continue
			}
			if notional := o.Price * o.Size; notional > g.cfg.RiskLimit {
				return reject(ReasonOrderNotional, "委托名义价值 %.4f 超过上限 %.4f", notional, g.cfg.RiskLimit)
			}
		}
	}

	return accept()
}

// checkPosition 假设同侧委托全部成交，检查持仓是否超过上限；减仓方向不受限制。
func (g *Gate) checkPosition(orders exchange.QuoteSet, position float64) Verdict {
	if g.cfg.MaxPosition <= 0 {
		return accept()
	}

	var buys, sells float64
	for _, o := range orders {
		if o.Side == exchange.SideBuy {
			buys += o.Size
		} else {
			sells += o.Size
		}
	}

	limit := g.cfg.MaxPosition + sizeEpsilon
	if buys > 0 {
		projected := position + buys
		if math.Abs(projected) > limit && math.Abs(projected) > math.Abs(position) {
			return reject(ReasonPositionLimit, "买方成交后持仓 %.8f 超过上限 %.8f", projected, g.cfg.MaxPosition)
		}
	}
	if sells > 0 {
		projected := position - sells
		if math.Abs(projected) > limit && math.Abs(projected) > math.Abs(position) {
			return reject(ReasonPositionLimit, "卖方成交后持仓 %.8f 超过上限 %.8f", projected, g.cfg.MaxPosition)
		}
	}
	return accept()
}
