package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/marginbot/internal/domain"
	"github.com/tradeclash/marginbot/internal/pricing"
)

type fakeSettings struct {
	thresholds domain.RiskThresholds
}

func (f *fakeSettings) Thresholds(context.Context, string) (domain.RiskThresholds, error) {
	return f.thresholds, nil
}

func seedPrices(t *testing.T, quotes ...domain.PriceQuote) *PriceService {
	t.Helper()
	cache := pricing.NewTieredCache(pricing.DefaultCacheConfig(), nil, nil, testLogger())
	for _, q := range quotes {
		q.Timestamp = time.Now()
		_, err := cache.PutStream(q)
		require.NoError(t, err)
	}
	return NewPriceService(cache, testLogger())
}

func TestStatusUsesDefaultThresholdsWhenNil(t *testing.T) {
	svc := NewMarginService(nil, nil, nil, 0, testLogger())

	snap := svc.Status(1000, -600, 500, nil)
	assert.InDelta(t, 400, snap.Equity, 1e-9)
	assert.InDelta(t, 80, snap.MarginLevel, 1e-9)
	assert.Equal(t, domain.MarginStatusDanger, snap.Status)
}

func TestStatusHonorsExplicitThresholds(t *testing.T) {
	svc := NewMarginService(nil, nil, nil, 0, testLogger())

	strict := domain.RiskThresholds{Liquidation: 90, MarginCall: 120, Warning: 200}
	snap := svc.Status(1000, -600, 500, &strict)
	assert.Equal(t, domain.MarginStatusLiquidation, snap.Status)
}

func TestStatusForUserMarksAtRealizableSide(t *testing.T) {
	store := &fakePositionStore{positions: map[string]domain.TrackedPosition{}}
	long := longPosition("p1")
	store.byUser = map[string][]domain.TrackedPosition{"u1": {long}}

	// Longs mark at the bid, so the floating loss is -500.
	prices := seedPrices(t, domain.PriceQuote{Symbol: "EURUSD", Bid: 1.0950, Ask: 1.0954})
	settings := &fakeSettings{thresholds: domain.DefaultRiskThresholds()}
	svc := NewMarginService(store, settings, prices, domain.DefaultContractSize, testLogger())

	snap, err := svc.StatusForUser(context.Background(), "u1", "c1", 1000, 500)
	require.NoError(t, err)
	assert.InDelta(t, 500, snap.Equity, 1e-9)
	assert.InDelta(t, 100, snap.MarginLevel, 1e-9)
	assert.Equal(t, domain.MarginStatusWarning, snap.Status)
}

func TestStatusForUserSkipsUnmarkedPositions(t *testing.T) {
	store := &fakePositionStore{}
	store.byUser = map[string][]domain.TrackedPosition{"u1": {longPosition("p1")}}

	prices := seedPrices(t) // no quote for EURUSD
	settings := &fakeSettings{thresholds: domain.DefaultRiskThresholds()}
	svc := NewMarginService(store, settings, prices, domain.DefaultContractSize, testLogger())

	snap, err := svc.StatusForUser(context.Background(), "u1", "c1", 1000, 500)
	require.NoError(t, err)
	// The unmarked position contributes zero floating P&L.
	assert.InDelta(t, 1000, snap.Equity, 1e-9)
}

func TestValidateNewOrderRejects(t *testing.T) {
	settings := &fakeSettings{thresholds: domain.DefaultRiskThresholds()}
	svc := NewMarginService(nil, settings, nil, 0, testLogger())

	err := svc.ValidateNewOrder(context.Background(), "c1", domain.OrderRequest{
		Symbol:           "EURUSD",
		Quantity:         1,
		Leverage:         50,
		RequiredMargin:   2000,
		AvailableCapital: 1000,
	})
	require.ErrorIs(t, err, domain.ErrOrderRejected)

	err = svc.ValidateNewOrder(context.Background(), "c1", domain.OrderRequest{
		Symbol:           "EURUSD",
		Quantity:         1,
		Leverage:         50,
		RequiredMargin:   200,
		AvailableCapital: 1000,
	})
	assert.NoError(t, err)
}
