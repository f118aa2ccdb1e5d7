package strategy

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"htx-mm/internal/exchange"
)

// volatilityWindow 为计算已实现波动率所用的成交收益率窗口。
const volatilityWindow = 20

// Metrics 为单轮报价周期的市场与模型摘要。
type Metrics struct {
	Mid                float64 `json:"mid"`
	BestBid            float64 `json:"best_bid"`
	BestAsk            float64 `json:"best_ask"`
	BookSpread         float64 `json:"book_spread"`
	Inventory          float64 `json:"inventory"`
	InventoryTarget    float64 `json:"inventory_target"`
	InventoryLimit     float64 `json:"inventory_limit"`
	InventoryUsage     float64 `json:"inventory_usage"`
	Kappa              float64 `json:"kappa"`
	Alpha              float64 `json:"alpha"`
	Gamma              float64 `json:"gamma"`
	Sigma              float64 `json:"sigma"`
	Delta              float64 `json:"delta"`
	TradeCount         int     `json:"trade_count"`
	RealizedVolatility float64 `json:"realized_volatility"`
	BuyVolumeRatio     float64 `json:"buy_volume_ratio"`
}

// Metrics 汇总盘口、库存与近期成交。
func (s *Strategy) Metrics(book exchange.OrderBookSnapshot, inventory float64, trades []exchange.Trade) Metrics {
	p := s.params
	m := Metrics{
		Mid:             book.Mid(),
		BestBid:         book.BestBid(),
		BestAsk:         book.BestAsk(),
		Inventory:       inventory,
		InventoryTarget: p.InventoryTarget,
		InventoryLimit:  p.InventoryLimit,
		InventoryUsage:  safeDivide(math.Abs(inventory-p.InventoryTarget), p.InventoryLimit),
		Kappa:           p.Kappa,
		Alpha:           p.Alpha,
		Gamma:           p.Gamma,
		Sigma:           p.Sigma,
		Delta:           p.Delta,
		TradeCount:      len(trades),
	}
	if m.BestBid > 0 {
		m.BookSpread = (m.BestAsk - m.BestBid) / m.BestBid
	}

	var buyVolume, totalVolume float64
	for _, t := range trades {
		totalVolume += t.Amount
		if t.Side == exchange.SideBuy {
			buyVolume += t.Amount
		}
	}
	m.BuyVolumeRatio = safeDivide(buyVolume, totalVolume)
	m.RealizedVolatility = realizedVolatility(trades, volatilityWindow)

	return m
}

// realizedVolatility 为最近 window 笔成交逐笔收益率的标准差，样本不足时返回 0。
func realizedVolatility(trades []exchange.Trade, window int) float64 {
	if len(trades) < 3 {
		return 0
	}
	prices := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.Price > 0 {
			prices = append(prices, t.Price)
		}
	}
	if len(prices) < 3 {
		return 0
	}

	// Rocp 的首个元素没有前值，需剔除。
	returns := talib.Rocp(prices, 1)[1:]
	period := window
	if period > len(returns) {
		period = len(returns)
	}
	if period < 2 {
		return 0
	}

	std := talib.StdDev(returns, period, 1)
	v := std[len(std)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func safeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
