package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/marginbot/internal/domain"
)

func TestUnrealizedPnL(t *testing.T) {
	// 1 lot EURUSD, 10 pips in favor.
	pnl := UnrealizedPnL(domain.SideLong, 1.1000, 1.1010, 1, domain.DefaultContractSize)
	assert.InDelta(t, 100, pnl, 1e-9)

	// Shorts profit from the same move in the other direction.
	pnl = UnrealizedPnL(domain.SideShort, 1.1000, 1.1010, 1, domain.DefaultContractSize)
	assert.InDelta(t, -100, pnl, 1e-9)

	// Scales with quantity.
	pnl = UnrealizedPnL(domain.SideLong, 1.1000, 1.0950, 2, domain.DefaultContractSize)
	assert.InDelta(t, -1000, pnl, 1e-9)
}

func TestEquitySumsFloatingPnL(t *testing.T) {
	assert.Equal(t, 1000.0, Equity(1000))
	assert.Equal(t, 1150.0, Equity(1000, 200, -50))
}

func TestMarginLevel(t *testing.T) {
	assert.InDelta(t, 200, MarginLevel(1000, 500), 1e-9)
	assert.InDelta(t, 80, MarginLevel(400, 500), 1e-9)
	assert.True(t, math.IsInf(MarginLevel(1000, 0), 1))
	// Equity can go negative; the level follows.
	assert.InDelta(t, -20, MarginLevel(-100, 500), 1e-9)
}

func TestStatusForBoundaries(t *testing.T) {
	th := domain.DefaultRiskThresholds()

	cases := []struct {
		level float64
		want  domain.MarginStatus
	}{
		{49.99, domain.MarginStatusLiquidation},
		{50, domain.MarginStatusDanger}, // boundary belongs to the safer band
		{99.99, domain.MarginStatusDanger},
		{100, domain.MarginStatusWarning},
		{149.99, domain.MarginStatusWarning},
		{150, domain.MarginStatusSafe},
		{math.Inf(1), domain.MarginStatusSafe},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.level, th), "level %.2f", tc.level)
	}
}

func TestSnapshot(t *testing.T) {
	th := domain.DefaultRiskThresholds()

	snap := Snapshot(1000, -600, 500, th)
	assert.InDelta(t, 400, snap.Equity, 1e-9)
	assert.InDelta(t, 80, snap.MarginLevel, 1e-9)
	assert.Equal(t, domain.MarginStatusDanger, snap.Status)

	snap = Snapshot(1000, -801, 500, th)
	assert.Equal(t, domain.MarginStatusLiquidation, snap.Status)
}

func TestValidateNewOrder(t *testing.T) {
	th := domain.DefaultRiskThresholds()
	ok := domain.OrderRequest{
		Symbol:           "EURUSD",
		Quantity:         1,
		Leverage:         50,
		RequiredMargin:   200,
		AvailableCapital: 1000,
		OpenPositions:    2,
	}
	require.NoError(t, ValidateNewOrder(ok, th))

	cases := []struct {
		name   string
		mutate func(*domain.OrderRequest)
	}{
		{"insufficient capital", func(r *domain.OrderRequest) { r.RequiredMargin = 1200 }},
		{"position limit", func(r *domain.OrderRequest) { r.OpenPositions = th.MaxPositions }},
		{"lot size", func(r *domain.OrderRequest) { r.Quantity = th.MaxLotSize + 1 }},
		{"leverage cap", func(r *domain.OrderRequest) { r.Leverage = th.MaxLeverage + 1 }},
	}
	seen := make(map[string]bool)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := ok
			tc.mutate(&req)
			err := ValidateNewOrder(req, th)
			require.ErrorIs(t, err, domain.ErrOrderRejected)
			// Each rejection carries its own reason.
			assert.False(t, seen[err.Error()], "duplicate reason: %s", err.Error())
			seen[err.Error()] = true
		})
	}
}

func TestValidateNewOrderZeroLimitsDisableChecks(t *testing.T) {
	th := domain.RiskThresholds{} // no limits configured
	req := domain.OrderRequest{
		Quantity:         1000,
		Leverage:         500,
		RequiredMargin:   10,
		AvailableCapital: 100,
		OpenPositions:    50,
	}
	assert.NoError(t, ValidateNewOrder(req, th))
}

func TestLiquidationPrice(t *testing.T) {
	// Long 1 lot at 1.1000 with 500 margin: wiped out 50 pips below entry.
	p := LiquidationPrice(domain.SideLong, 1.1000, 1, 500, domain.DefaultContractSize)
	assert.InDelta(t, 1.0950, p, 1e-9)

	p = LiquidationPrice(domain.SideShort, 1.1000, 1, 500, domain.DefaultContractSize)
	assert.InDelta(t, 1.1050, p, 1e-9)

	assert.Equal(t, 0.0, LiquidationPrice(domain.SideLong, 1.1000, 0, 500, domain.DefaultContractSize))
}

func TestLiquidationOrderLargestLossFirst(t *testing.T) {
	positions := []domain.TrackedPosition{
		{PositionID: "small-loss", Symbol: "EURUSD", Side: domain.SideLong, EntryPrice: 1.1000, Quantity: 1},
		{PositionID: "big-loss", Symbol: "GBPUSD", Side: domain.SideLong, EntryPrice: 1.2700, Quantity: 1},
		{PositionID: "winner", Symbol: "USDJPY", Side: domain.SideShort, EntryPrice: 150.00, Quantity: 1},
		{PositionID: "unmarked", Symbol: "USDTRY", Side: domain.SideLong, EntryPrice: 30.00, Quantity: 1},
	}
	marks := map[string]float64{
		"EURUSD": 1.0990, // -100
		"GBPUSD": 1.2600, // -1000
		"USDJPY": 149.50, // +50
	}

	out := LiquidationOrder(positions, marks, domain.DefaultContractSize)

	ids := make([]string, len(out))
	for i, p := range out {
		ids[i] = p.PositionID
	}
	assert.Equal(t, []string{"big-loss", "small-loss", "winner", "unmarked"}, ids)

	// Input slice is untouched.
	assert.Equal(t, "small-loss", positions[0].PositionID)
}
