package exchange

import (
	"context"
	"fmt"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

// orderAPI 为委托相关的 ccxt 方法子集。
type orderAPI interface {
	FetchOpenOrders(options ...ccxt.FetchOpenOrdersOptions) ([]ccxt.Order, error)
	CreateOrder(symbol string, typeVar string, side string, amount float64, options ...ccxt.CreateOrderOptions) (ccxt.Order, error)
	CancelOrder(id string, options ...ccxt.CancelOrderOptions) (ccxt.Order, error)
	CancelAllOrders(options ...ccxt.CancelAllOrdersOptions) ([]ccxt.Order, error)
}

// FetchOpenOrders 查询当前交易对全部挂单。
func (c *Client) FetchOpenOrders(ctx context.Context) ([]WorkingOrder, error) {
	var raw []ccxt.Order
	err := c.callWithRetry(ctx, "fetch_open_orders", func() error {
		orders, err := c.api.FetchOpenOrders(ccxt.WithFetchOpenOrdersSymbol(c.symbol))
		if err != nil {
			return err
		}
		raw = orders
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]WorkingOrder, 0, len(raw))
	for _, order := range raw {
		id := derefString(order.Id)
		if id == "" {
			continue
		}
		side := SideBuy
		if strings.EqualFold(derefString(order.Side), string(SideSell)) {
			side = SideSell
		}
		size := derefFloat(order.Remaining)
		if size <= 0 {
			size = derefFloat(order.Amount)
		}
		out = append(out, WorkingOrder{
			ID:     id,
			Side:   side,
			Price:  derefFloat(order.Price),
			Size:   size,
			Status: derefString(order.Status),
		})
	}
	return out, nil
}

// PlaceOrder 提交一笔委托，返回交易所订单号。写操作不在此处重试。
func (c *Client) PlaceOrder(ctx context.Context, quote Quote) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if quote.Size <= 0 {
		return "", fmt.Errorf("create_order: %w: 数量无效 %.8f", ErrRejected, quote.Size)
	}

	kind := quote.Kind
	if kind == "" {
		kind = KindLimit
	}

	var opts []ccxt.CreateOrderOptions
	switch kind {
	case KindLimit:
		if quote.Price <= 0 {
			return "", fmt.Errorf("create_order: %w: 限价单价格无效 %.8f", ErrRejected, quote.Price)
		}
		opts = append(opts, ccxt.WithCreateOrderPrice(quote.Price))
	case KindMarket:
	default:
		return "", fmt.Errorf("create_order: %w: 不支持的订单类型 %s", ErrRejected, kind)
	}

	order, err := c.api.CreateOrder(c.symbol, string(kind), string(quote.Side), quote.Size, opts...)
	if err != nil {
		return "", Normalize("create_order", err)
	}
	return derefString(order.Id), nil
}

// CancelOrder 撤销单个挂单。
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.CancelOrder(id, ccxt.WithCancelOrderSymbol(c.symbol)); err != nil {
		return Normalize("cancel_order", err)
	}
	return nil
}

// CancelAllOrders 撤销当前交易对全部挂单。
func (c *Client) CancelAllOrders(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.api.CancelAllOrders(ccxt.WithCancelAllOrdersSymbol(c.symbol)); err != nil {
		return Normalize("cancel_all_orders", err)
	}
	return nil
}

// Close 释放客户端。ccxt REST 客户端无长连接，仅记录日志。
func (c *Client) Close() error {
	c.logger.Info("交易所客户端已关闭", zap.String("symbol", c.symbol))
	return nil
}
