package strategy

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"htx-mm/internal/exchange"
)

// 出价放宽的最大次数，每次卖价上移一个最小价位。
const maxWidenSteps = 16

// Strategy 依据盘口与库存计算双边报价。无内部可变状态，可并发调用。
type Strategy struct {
	params Parameters
	size   decimal.Decimal
	tick   decimal.Decimal
	logger *zap.Logger
}

// New 校验参数并创建策略。
func New(params Parameters, logger *zap.Logger) (*Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	size := decimal.NewFromFloat(params.OrderSize).Round(params.SizePrecision)
	if !size.IsPositive() {
		return nil, fmt.Errorf("strategy: order_size %.8f 按 size_precision=%d 取整后为0", params.OrderSize, params.SizePrecision)
	}

	return &Strategy{
		params: params,
		size:   size,
		tick:   decimal.New(1, -params.PricePrecision),
		logger: logger,
	}, nil
}

// Parameters 返回模型参数副本。
func (s *Strategy) Parameters() Parameters {
	return s.params
}

// ComputeQuotes 计算一买一卖两笔限价报价，买单在前。
func (s *Strategy) ComputeQuotes(book exchange.OrderBookSnapshot, inventory float64) (exchange.QuoteSet, error) {
	if err := book.Validate(); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	p := s.params

	bestBid, bestAsk := book.BestBid(), book.BestAsk()
	mid := (bestBid + bestAsk) / 2
	sigma2 := p.Sigma * p.Sigma
	baseSpread := p.Gamma*sigma2 + 2*p.Delta

	inventoryAdj := p.Kappa * inventory
	riskAdj := p.Alpha * sigma2 * inventory

	bid := mid - baseSpread/2 - inventoryAdj - riskAdj
	ask := mid + baseSpread/2 - inventoryAdj - riskAdj

	bid = math.Max(bid, bestBid*(1-p.MaxSpreadRatio))
	ask = math.Min(ask, bestAsk*(1+p.MaxSpreadRatio))

	if !meetsProfit(bid, ask, p.MinProfitRatio) {
		// 以中间价为中心重新展开，使 (ask-bid)/bid 恰为 min_profit_ratio。
		half := p.MinProfitRatio * mid / (2 + p.MinProfitRatio)
		bid, ask = mid-half, mid+half
	}

	bidPrice, askPrice, err := s.roundPair(bid, ask)
	if err != nil {
		return nil, err
	}

	size, _ := s.size.Float64()
	return exchange.QuoteSet{
		{Side: exchange.SideBuy, Price: bidPrice, Size: size, Kind: exchange.KindLimit},
		{Side: exchange.SideSell, Price: askPrice, Size: size, Kind: exchange.KindLimit},
	}, nil
}

// roundPair 按价格精度取整；若四舍五入破坏最小利润，则向外取整并逐步放宽卖价。
func (s *Strategy) roundPair(bid, ask float64) (float64, float64, error) {
	prec := s.params.PricePrecision
	b := decimal.NewFromFloat(bid).Round(prec)
	a := decimal.NewFromFloat(ask).Round(prec)
	if s.pairOK(b, a) {
		return b.InexactFloat64(), a.InexactFloat64(), nil
	}

	b = decimal.NewFromFloat(bid).RoundFloor(prec)
	a = decimal.NewFromFloat(ask).RoundCeil(prec)
	for i := 0; i < maxWidenSteps && !s.pairOK(b, a); i++ {
		a = a.Add(s.tick)
	}
	if !s.pairOK(b, a) {
		return 0, 0, errors.New("strategy: 价格精度过粗，无法满足最小利润")
	}
	return b.InexactFloat64(), a.InexactFloat64(), nil
}

func (s *Strategy) pairOK(bid, ask decimal.Decimal) bool {
	if !bid.IsPositive() || !ask.GreaterThan(bid) {
		return false
	}
	return meetsProfit(bid.InexactFloat64(), ask.InexactFloat64(), s.params.MinProfitRatio)
}

func meetsProfit(bid, ask, minProfit float64) bool {
	if bid <= 0 || ask <= bid {
		return false
	}
	return (ask-bid)/bid >= minProfit
}

// ShouldRebalance 判断库存偏离目标是否超过阈值。
func (s *Strategy) ShouldRebalance(position float64) bool {
	p := s.params
	return math.Abs(position-p.InventoryTarget) > p.RebalanceThreshold*p.InventoryLimit
}

// ComputeRebalanceOrders 生成 ceil(|target-position|/order_size) 笔同向市价单。
func (s *Strategy) ComputeRebalanceOrders(position float64) exchange.QuoteSet {
	p := s.params
	diff := decimal.NewFromFloat(p.InventoryTarget).Sub(decimal.NewFromFloat(position))
	if diff.IsZero() {
		return nil
	}

	side := exchange.SideSell
	if diff.IsPositive() {
		side = exchange.SideBuy
	}

	count := int(diff.Abs().Div(s.size).Ceil().IntPart())
	size, _ := s.size.Float64()

	orders := make(exchange.QuoteSet, 0, count)
	for i := 0; i < count; i++ {
		orders = append(orders, exchange.Quote{Side: side, Size: size, Kind: exchange.KindMarket})
	}

	s.logger.Info("库存偏离目标，生成再平衡订单",
		zap.Float64("position", position),
		zap.Float64("target", p.InventoryTarget),
		zap.String("side", string(side)),
		zap.Int("orders", count),
	)
	return orders
}
