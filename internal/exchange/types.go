package exchange

import (
	"context"
	"fmt"
	"time"
)

// Side 表示委托方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderKind 表示委托类型。
type OrderKind string

const (
	KindLimit  OrderKind = "limit"
	KindMarket OrderKind = "market"
)

// Level 表示盘口档位。
type Level struct {
	Price  float64 `json:"price"`
	Amount float64 `json:"amount"`
}

// OrderBookSnapshot 为订单簿快照，买盘价格降序，卖盘价格升序。
type OrderBookSnapshot struct {
	Symbol    string    `json:"symbol"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

// BestBid 返回最优买价，空盘口返回 0。
func (s OrderBookSnapshot) BestBid() float64 {
	if len(s.Bids) == 0 {
		return 0
	}
	return s.Bids[0].Price
}

// BestAsk 返回最优卖价，空盘口返回 0。
func (s OrderBookSnapshot) BestAsk() float64 {
	if len(s.Asks) == 0 {
		return 0
	}
	return s.Asks[0].Price
}

// Mid 返回中间价。
func (s OrderBookSnapshot) Mid() float64 {
	return (s.BestBid() + s.BestAsk()) / 2
}

// Validate 检查盘口两侧非空且未交叉。
func (s OrderBookSnapshot) Validate() error {
	if len(s.Bids) == 0 || len(s.Asks) == 0 {
		return fmt.Errorf("%w: 盘口为空 bids=%d asks=%d", ErrMalformed, len(s.Bids), len(s.Asks))
	}
	if s.BestBid() >= s.BestAsk() {
		return fmt.Errorf("%w: 盘口交叉 bid=%.8f ask=%.8f", ErrMalformed, s.BestBid(), s.BestAsk())
	}
	return nil
}

// Ticker 为最新成交价与成交量摘要。
type Ticker struct {
	Symbol     string    `json:"symbol"`
	Last       float64   `json:"last"`
	BaseVolume float64   `json:"base_volume"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Timestamp  time.Time `json:"timestamp"`
}

// Trade 为单笔公开成交。
type Trade struct {
	ID        string    `json:"id"`
	Side      Side      `json:"side"`
	Price     float64   `json:"price"`
	Amount    float64   `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Quote 为一次策略计算产出的目标委托。
type Quote struct {
	Side  Side      `json:"side"`
	Price float64   `json:"price"`
	Size  float64   `json:"size"`
	Kind  OrderKind `json:"kind"`
}

// QuoteSet 为同一轮计算产出的全部目标委托。
type QuoteSet []Quote

// Bid 返回价格最高的买单。
func (qs QuoteSet) Bid() (Quote, bool) {
	var (
		best  Quote
		found bool
	)
	for _, q := range qs {
		if q.Side != SideBuy || q.Kind != KindLimit {
			continue
		}
		if !found || q.Price > best.Price {
			best, found = q, true
		}
	}
	return best, found
}

// Ask 返回价格最低的卖单。
func (qs QuoteSet) Ask() (Quote, bool) {
	var (
		best  Quote
		found bool
	)
	for _, q := range qs {
		if q.Side != SideSell || q.Kind != KindLimit {
			continue
		}
		if !found || q.Price < best.Price {
			best, found = q, true
		}
	}
	return best, found
}

// Position 为带符号持仓，正数为净多。
type Position struct {
	Symbol string  `json:"symbol"`
	Size   float64 `json:"size"`
}

// WorkingOrder 为交易所侧的挂单。
type WorkingOrder struct {
	ID     string  `json:"id"`
	Side   Side    `json:"side"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Status string  `json:"status"`
}

// MarketInfo 描述加载到的合约元数据。
type MarketInfo struct {
	Symbol      string
	MarketCount int
	LoadedAt    time.Time
}

// Stream 为推送式订阅，Next 阻塞直到下一条数据或出错。
type Stream[T any] interface {
	Next(ctx context.Context) (T, error)
	Close() error
}

var errStreamClosed = fmt.Errorf("%w: stream closed", ErrNetwork)
