package exchange

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsWriteWait        = 10 * time.Second
	// HTX 服务端每 5 秒推送一次 ping，超过该时长无消息视为断线。
	wsReadWait = 30 * time.Second
)

// Streamer 基于 HTX 线性永续 WebSocket 提供行情订阅，每个频道使用独立连接。
type Streamer struct {
	url      string
	symbol   string
	contract string
	dialer   websocket.Dialer
	logger   *zap.Logger
	nextID   atomic.Int64
}

// NewStreamer 创建推送行情订阅器。
func NewStreamer(url, symbol string, logger *zap.Logger) *Streamer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Streamer{
		url:      url,
		symbol:   symbol,
		contract: ContractCode(symbol),
		dialer:   websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
		logger:   logger,
	}
}

// SubscribeOrderBook 订阅 market.<contract>.depth.step0。
func (s *Streamer) SubscribeOrderBook(ctx context.Context) (Stream[OrderBookSnapshot], error) {
	channel := fmt.Sprintf("market.%s.depth.step0", s.contract)
	return subscribe(ctx, s, channel, func(msg gjson.Result) (OrderBookSnapshot, error) {
		return decodeDepth(s.symbol, msg)
	})
}

// SubscribeTicker 订阅 market.<contract>.detail。
func (s *Streamer) SubscribeTicker(ctx context.Context) (Stream[Ticker], error) {
	channel := fmt.Sprintf("market.%s.detail", s.contract)
	return subscribe(ctx, s, channel, func(msg gjson.Result) (Ticker, error) {
		return decodeDetail(s.symbol, msg)
	})
}

// SubscribeTrades 订阅 market.<contract>.trade.detail。
func (s *Streamer) SubscribeTrades(ctx context.Context) (Stream[[]Trade], error) {
	channel := fmt.Sprintf("market.%s.trade.detail", s.contract)
	return subscribe(ctx, s, channel, decodeTrades)
}

type wsStream[T any] struct {
	conn    *websocket.Conn
	channel string
	decode  func(gjson.Result) (T, error)
	logger  *zap.Logger

	writeMu sync.Mutex
	latest  chan T
	errs    chan error
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

func subscribe[T any](ctx context.Context, s *Streamer, channel string, decode func(gjson.Result) (T, error)) (Stream[T], error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws dial %s: %w: %w", channel, ErrNetwork, err)
	}

	stream := &wsStream[T]{
		conn:    conn,
		channel: channel,
		decode:  decode,
		logger:  s.logger.With(zap.String("channel", channel)),
		latest:  make(chan T, 1),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}

	sub := map[string]interface{}{
		"sub": channel,
		"id":  fmt.Sprintf("htx-mm-%d", s.nextID.Add(1)),
	}
	if err := stream.writeJSON(sub); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ws subscribe %s: %w: %w", channel, ErrNetwork, err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(wsReadWait))
	stream.wg.Add(1)
	go stream.readLoop()

	return stream, nil
}

func (w *wsStream[T]) readLoop() {
	defer w.wg.Done()

	for {
		_, payload, err := w.conn.ReadMessage()
		if err != nil {
			w.fail(fmt.Errorf("ws read %s: %w: %w", w.channel, ErrNetwork, err))
			return
		}
		_ = w.conn.SetReadDeadline(time.Now().Add(wsReadWait))

		data, err := inflate(payload)
		if err != nil {
			w.logger.Warn("推送消息解压失败，已丢弃", zap.Error(err))
			continue
		}

		msg := gjson.ParseBytes(data)

		if ping := msg.Get("ping"); ping.Exists() {
			if err := w.writeJSON(map[string]interface{}{"pong": ping.Int()}); err != nil {
				w.fail(fmt.Errorf("ws pong %s: %w: %w", w.channel, ErrNetwork, err))
				return
			}
			continue
		}

		if status := msg.Get("status"); status.Exists() {
			if status.String() == "error" {
				w.fail(fmt.Errorf("ws subscribe %s: %w: %s %s", w.channel, ErrRejected,
					msg.Get("err-code").String(), msg.Get("err-msg").String()))
				return
			}
			continue
		}

		if msg.Get("ch").String() != w.channel {
			continue
		}

		value, err := w.decode(msg)
		if err != nil {
			w.logger.Debug("推送消息格式异常，已丢弃", zap.Error(err))
			continue
		}
		w.publish(value)
	}
}

// publish 只保留最新一条，未被消费的旧值直接丢弃。
func (w *wsStream[T]) publish(value T) {
	for {
		select {
		case w.latest <- value:
			return
		default:
		}
		select {
		case <-w.latest:
		default:
		}
	}
}

func (w *wsStream[T]) fail(err error) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.errs <- err:
	default:
	}
}

func (w *wsStream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case value := <-w.latest:
		return value, nil
	default:
	}
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-w.done:
		return zero, errStreamClosed
	case value := <-w.latest:
		return value, nil
	case err := <-w.errs:
		return zero, err
	}
}

func (w *wsStream[T]) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		w.writeMu.Lock()
		_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		w.writeMu.Unlock()
		err = w.conn.Close()
		w.wg.Wait()
	})
	return err
}

func (w *wsStream[T]) writeJSON(v interface{}) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return w.conn.WriteJSON(v)
}

// inflate 解压 HTX 的 gzip 帧，非 gzip 数据原样返回。
func inflate(payload []byte) ([]byte, error) {
	if len(payload) < 2 || payload[0] != 0x1f || payload[1] != 0x8b {
		return payload, nil
	}
	reader, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func decodeDepth(symbol string, msg gjson.Result) (OrderBookSnapshot, error) {
	tick := msg.Get("tick")
	if !tick.Exists() {
		return OrderBookSnapshot{}, fmt.Errorf("%w: depth 缺少 tick", ErrMalformed)
	}
	snapshot := OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      decodeLevels(tick.Get("bids")),
		Asks:      decodeLevels(tick.Get("asks")),
		Timestamp: resultMillis(msg.Get("ts"), tick.Get("ts")),
	}
	if err := snapshot.Validate(); err != nil {
		return OrderBookSnapshot{}, err
	}
	return snapshot, nil
}

func decodeLevels(levels gjson.Result) []Level {
	items := levels.Array()
	out := make([]Level, 0, len(items))
	for _, item := range items {
		pair := item.Array()
		if len(pair) < 2 {
			continue
		}
		price, amount := pair[0].Float(), pair[1].Float()
		if price <= 0 || amount <= 0 {
			continue
		}
		out = append(out, Level{Price: price, Amount: amount})
	}
	return out
}

func decodeDetail(symbol string, msg gjson.Result) (Ticker, error) {
	tick := msg.Get("tick")
	last := tick.Get("close").Float()
	if !tick.Exists() || last <= 0 {
		return Ticker{}, fmt.Errorf("%w: detail 缺少成交价", ErrMalformed)
	}
	return Ticker{
		Symbol:     symbol,
		Last:       last,
		BaseVolume: tick.Get("amount").Float(),
		Bid:        tick.Get("bid.0").Float(),
		Ask:        tick.Get("ask.0").Float(),
		Timestamp:  resultMillis(msg.Get("ts"), tick.Get("ts")),
	}, nil
}

func decodeTrades(msg gjson.Result) ([]Trade, error) {
	data := msg.Get("tick.data").Array()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: trade.detail 无成交", ErrMalformed)
	}
	out := make([]Trade, 0, len(data))
	for _, item := range data {
		id := item.Get("id").String()
		price := item.Get("price").Float()
		amount := item.Get("amount").Float()
		if id == "" || price <= 0 || amount <= 0 {
			continue
		}
		side := SideBuy
		if strings.EqualFold(item.Get("direction").String(), string(SideSell)) {
			side = SideSell
		}
		out = append(out, Trade{
			ID:        id,
			Side:      side,
			Price:     price,
			Amount:    amount,
			Timestamp: resultMillis(item.Get("ts"), msg.Get("ts")),
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: trade.detail 成交字段无效", ErrMalformed)
	}
	return out, nil
}

func resultMillis(candidates ...gjson.Result) time.Time {
	for _, c := range candidates {
		if ms := c.Int(); ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Now().UTC()
}
