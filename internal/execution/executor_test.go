package execution

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"htx-mm/internal/exchange"
)

type mockGateway struct {
	open       []exchange.WorkingOrder
	openErr    error
	placeErrs  []error
	cancelErrs []error
	cancelAll  []error

	calls     []string
	placed    []exchange.Quote
	cancelled []string
	nextID    int
}

func (m *mockGateway) FetchOpenOrders(ctx context.Context) ([]exchange.WorkingOrder, error) {
	m.calls = append(m.calls, "FetchOpenOrders")
	return m.open, m.openErr
}

func (m *mockGateway) PlaceOrder(ctx context.Context, q exchange.Quote) (string, error) {
	m.calls = append(m.calls, "PlaceOrder")
	if len(m.placeErrs) > 0 {
		err := m.placeErrs[0]
		m.placeErrs = m.placeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	m.placed = append(m.placed, q)
	m.nextID++
	return fmt.Sprintf("n-%d", m.nextID), nil
}

func (m *mockGateway) CancelOrder(ctx context.Context, id string) error {
	m.calls = append(m.calls, "CancelOrder")
	if len(m.cancelErrs) > 0 {
		err := m.cancelErrs[0]
		m.cancelErrs = m.cancelErrs[1:]
		if err != nil {
			return err
		}
	}
	m.cancelled = append(m.cancelled, id)
	return nil
}

func (m *mockGateway) CancelAllOrders(ctx context.Context) error {
	m.calls = append(m.calls, "CancelAllOrders")
	if len(m.cancelAll) > 0 {
		err := m.cancelAll[0]
		m.cancelAll = m.cancelAll[1:]
		return err
	}
	return nil
}

func testOptions() Options {
	return Options{MaxRetries: 3, RetryDelay: time.Millisecond, PricePrecision: 2, SizePrecision: 4}
}

func limit(side exchange.Side, price, size float64) exchange.Quote {
	return exchange.Quote{Side: side, Price: price, Size: size, Kind: exchange.KindLimit}
}

func working(id string, side exchange.Side, price, size float64) exchange.WorkingOrder {
	return exchange.WorkingOrder{ID: id, Side: side, Price: price, Size: size, Status: "open"}
}

func TestMinimalDiffLeavesMatchingOrdersUntouched(t *testing.T) {
	gw := &mockGateway{open: []exchange.WorkingOrder{
		working("a", exchange.SideBuy, 99.95, 0.01),
		working("b", exchange.SideSell, 100.15, 0.01),
	}}
	r := NewReconciler(gw, testOptions(), nil)

	target := exchange.QuoteSet{
		limit(exchange.SideBuy, 99.95, 0.01),
		limit(exchange.SideSell, 100.16, 0.01),
	}
	result, err := r.Reconcile(context.Background(), target, PolicyMinimalDiff)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Kept)
	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, 1, result.Placed)
	assert.Equal(t, []string{"b"}, gw.cancelled)
	require.Len(t, gw.placed, 1)
	assert.Equal(t, 100.16, gw.placed[0].Price)
	assert.Equal(t, []string{"FetchOpenOrders", "CancelOrder", "PlaceOrder"}, gw.calls)
}

func TestMinimalDiffMatchesAfterRounding(t *testing.T) {
	gw := &mockGateway{open: []exchange.WorkingOrder{working("a", exchange.SideBuy, 99.9500000001, 0.01)}}
	r := NewReconciler(gw, testOptions(), nil)

	result, err := r.Reconcile(context.Background(), exchange.QuoteSet{limit(exchange.SideBuy, 99.95, 0.01)}, PolicyMinimalDiff)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Kept)
	assert.Zero(t, result.Operations())
}

func TestMinimalDiffMultisetAndMarketOrders(t *testing.T) {
	gw := &mockGateway{open: []exchange.WorkingOrder{
		working("a", exchange.SideSell, 100, 1),
		working("b", exchange.SideSell, 100, 1),
		working("c", exchange.SideSell, 100, 1),
	}}
	r := NewReconciler(gw, testOptions(), nil)

	target := exchange.QuoteSet{
		limit(exchange.SideSell, 100, 1),
		limit(exchange.SideSell, 100, 1),
		{Side: exchange.SideSell, Size: 1, Kind: exchange.KindMarket},
	}
	result, err := r.Reconcile(context.Background(), target, PolicyMinimalDiff)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Kept)
	assert.Equal(t, []string{"c"}, gw.cancelled)
	require.Len(t, gw.placed, 1)
	assert.Equal(t, exchange.KindMarket, gw.placed[0].Kind)
}

func TestMinimalDiffOperationCountProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	prices := []float64{99.9, 100.0, 100.1}
	sides := []exchange.Side{exchange.SideBuy, exchange.SideSell}

	for i := 0; i < 300; i++ {
		var current []exchange.WorkingOrder
		nCurrent, nTarget := rng.Intn(6), rng.Intn(6)
		for j := 0; j < nCurrent; j++ {
			current = append(current, working(fmt.Sprintf("o%d", j), sides[rng.Intn(2)], prices[rng.Intn(3)], 1))
		}
		var target exchange.QuoteSet
		for j := 0; j < nTarget; j++ {
			target = append(target, limit(sides[rng.Intn(2)], prices[rng.Intn(3)], 1))
		}

		gw := &mockGateway{open: current}
		result, err := NewReconciler(gw, testOptions(), nil).Reconcile(context.Background(), target, PolicyMinimalDiff)
		require.NoError(t, err)

		intersection := multisetIntersection(current, target)
		want := (len(current) - intersection) + (len(target) - intersection)
		require.Equal(t, want, result.Operations(), "case %d", i)
		require.Equal(t, intersection, result.Kept, "case %d", i)
		require.Len(t, gw.cancelled, len(current)-intersection, "case %d", i)
	}
}

func multisetIntersection(current []exchange.WorkingOrder, target exchange.QuoteSet) int {
	counts := map[string]int{}
	for _, o := range current {
		counts[fmt.Sprintf("%s|%.2f|%.4f", o.Side, o.Price, o.Size)]++
	}
	n := 0
	for _, q := range target {
		k := fmt.Sprintf("%s|%.2f|%.4f", q.Side, q.Price, q.Size)
		if counts[k] > 0 {
			counts[k]--
			n++
		}
	}
	return n
}

func TestFullReplaceCancelsThenPlaces(t *testing.T) {
	gw := &mockGateway{open: []exchange.WorkingOrder{working("a", exchange.SideBuy, 99.95, 0.01)}}
	r := NewReconciler(gw, testOptions(), nil)

	target := exchange.QuoteSet{limit(exchange.SideBuy, 99.95, 0.01), limit(exchange.SideSell, 100.15, 0.01)}
	result, err := r.Reconcile(context.Background(), target, PolicyFullReplace)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Cancelled)
	assert.Equal(t, 2, result.Placed)
	assert.Equal(t, []string{"FetchOpenOrders", "CancelAllOrders", "PlaceOrder", "PlaceOrder"}, gw.calls)

	empty := &mockGateway{}
	_, err = NewReconciler(empty, testOptions(), nil).Reconcile(context.Background(), target, PolicyFullReplace)
	require.NoError(t, err)
	assert.NotContains(t, empty.calls, "CancelAllOrders", "nothing to cancel")
}

func TestFullReplaceSkipsPlacementWhenCancelFails(t *testing.T) {
	rejected := fmt.Errorf("cancel: %w", exchange.ErrRejected)
	gw := &mockGateway{
		open:      []exchange.WorkingOrder{working("a", exchange.SideBuy, 99.95, 0.01)},
		cancelAll: []error{rejected, rejected, rejected},
	}
	r := NewReconciler(gw, testOptions(), nil)

	result, err := r.Reconcile(context.Background(), exchange.QuoteSet{limit(exchange.SideBuy, 99, 0.01)}, PolicyFullReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Empty(t, gw.placed)
}

func TestPlaceRetriesTransientErrors(t *testing.T) {
	gw := &mockGateway{placeErrs: []error{
		fmt.Errorf("x: %w", exchange.ErrNetwork),
		fmt.Errorf("x: %w", exchange.ErrRejected),
	}}
	r := NewReconciler(gw, testOptions(), nil)

	result, err := r.Reconcile(context.Background(), exchange.QuoteSet{limit(exchange.SideBuy, 99, 1)}, PolicyMinimalDiff)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Placed)
	assert.Len(t, gw.placed, 1)
}

func TestPlaceExhaustionIsNotFatal(t *testing.T) {
	netErr := fmt.Errorf("x: %w", exchange.ErrNetwork)
	gw := &mockGateway{placeErrs: []error{netErr, netErr, netErr}}
	r := NewReconciler(gw, testOptions(), nil)

	target := exchange.QuoteSet{limit(exchange.SideBuy, 99, 1), limit(exchange.SideSell, 101, 1)}
	result, err := r.Reconcile(context.Background(), target, PolicyMinimalDiff)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Placed, "the second order is still attempted")
}

func TestMalformedErrorsAreNotRetried(t *testing.T) {
	gw := &mockGateway{cancelErrs: []error{fmt.Errorf("x: %w", exchange.ErrMalformed)},
		open: []exchange.WorkingOrder{working("a", exchange.SideBuy, 99, 1)}}
	r := NewReconciler(gw, testOptions(), nil)

	result, err := r.Reconcile(context.Background(), nil, PolicyMinimalDiff)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, countCalls(gw.calls, "CancelOrder"))
}

func TestAuthenticationErrorIsReturned(t *testing.T) {
	gw := &mockGateway{placeErrs: []error{fmt.Errorf("x: %w", exchange.ErrAuthentication)}}
	r := NewReconciler(gw, testOptions(), nil)

	_, err := r.Reconcile(context.Background(), exchange.QuoteSet{limit(exchange.SideBuy, 99, 1)}, PolicyMinimalDiff)
	require.Error(t, err)
	assert.True(t, exchange.IsAuthentication(err))
	assert.Equal(t, 1, countCalls(gw.calls, "PlaceOrder"))
}

func TestFetchOpenOrdersErrorIsReturned(t *testing.T) {
	gw := &mockGateway{openErr: fmt.Errorf("x: %w", exchange.ErrNetwork)}
	_, err := NewReconciler(gw, testOptions(), nil).Reconcile(context.Background(), nil, PolicyMinimalDiff)
	assert.ErrorIs(t, err, exchange.ErrNetwork)
}

func TestCancelAll(t *testing.T) {
	gw := &mockGateway{cancelAll: []error{fmt.Errorf("x: %w", exchange.ErrNetwork), nil}}
	require.NoError(t, NewReconciler(gw, testOptions(), nil).CancelAll(context.Background()))
	assert.Equal(t, 2, countCalls(gw.calls, "CancelAllOrders"))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("FULL_REPLACE")
	require.NoError(t, err)
	assert.Equal(t, PolicyFullReplace, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyMinimalDiff, p)

	_, err = ParsePolicy("yolo")
	assert.Error(t, err)
}

func countCalls(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}
