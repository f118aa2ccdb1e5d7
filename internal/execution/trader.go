package execution

import (
	"context"

	"htx-mm/internal/exchange"
)

// gateway 抽象挂单查询与下撤单接口，方便切换真实或模拟交易所。
type gateway interface {
	FetchOpenOrders(ctx context.Context) ([]exchange.WorkingOrder, error)
	PlaceOrder(ctx context.Context, quote exchange.Quote) (string, error)
	CancelOrder(ctx context.Context, id string) error
	CancelAllOrders(ctx context.Context) error
}

var _ gateway = (*exchange.Client)(nil)
