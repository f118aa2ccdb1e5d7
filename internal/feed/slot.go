package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"htx-mm/internal/exchange"
)

type entry[T any] struct {
	value T
	at    time.Time
}

// slot 持有某类行情的最新值，整体替换，读路径无锁。
type slot[T any] struct {
	p atomic.Pointer[entry[T]]
}

func (s *slot[T]) store(value T, at time.Time) {
	s.p.Store(&entry[T]{value: value, at: at})
}

// load 返回最新值；从未收到或超过 maxAge 时视为缺失。
func (s *slot[T]) load(now time.Time, maxAge time.Duration) (T, bool) {
	var zero T
	e := s.p.Load()
	if e == nil {
		return zero, false
	}
	if maxAge > 0 && now.Sub(e.at) > maxAge {
		return zero, false
	}
	return e.value, true
}

func (s *slot[T]) updatedAt() time.Time {
	e := s.p.Load()
	if e == nil {
		return time.Time{}
	}
	return e.at
}

// tradeRing 为定长成交缓存，按 ID 去重，满时淘汰最旧成交。
type tradeRing struct {
	mu       sync.Mutex
	capacity int
	items    []exchange.Trade
	seen     map[string]struct{}
}

func newTradeRing(capacity int) *tradeRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &tradeRing{
		capacity: capacity,
		items:    make([]exchange.Trade, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// add 追加新成交并返回当前缓存的副本。
func (r *tradeRing) add(trades []exchange.Trade) []exchange.Trade {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range trades {
		if t.ID == "" {
			continue
		}
		if _, dup := r.seen[t.ID]; dup {
			continue
		}
		if len(r.items) == r.capacity {
			oldest := r.items[0]
			delete(r.seen, oldest.ID)
			r.items = append(r.items[:0], r.items[1:]...)
		}
		r.items = append(r.items, t)
		r.seen[t.ID] = struct{}{}
	}

	snapshot := make([]exchange.Trade, len(r.items))
	copy(snapshot, r.items)
	return snapshot
}
