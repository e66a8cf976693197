package trigger

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeclash/marginbot/internal/domain"
)

func fptr(v float64) *float64 { return &v }

func longPos(id string, sl, tp *float64) domain.TrackedPosition {
	return domain.TrackedPosition{
		PositionID: id,
		Symbol:     "EURUSD",
		Side:       domain.SideLong,
		EntryPrice: 1.1000,
		Quantity:   1,
		StopLoss:   sl,
		TakeProfit: tp,
		UserID:     "u1",
	}
}

func shortPos(id string, sl, tp *float64) domain.TrackedPosition {
	p := longPos(id, sl, tp)
	p.Side = domain.SideShort
	return p
}

func TestUpsertIgnoresPositionsWithoutThresholds(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(longPos("p1", nil, nil))
	assert.Equal(t, 0, ix.Len())

	// And an upsert that drops both thresholds evicts the position.
	ix.Upsert(longPos("p2", fptr(1.0950), nil))
	require.Equal(t, 1, ix.Len())
	ix.Upsert(longPos("p2", nil, nil))
	assert.Equal(t, 0, ix.Len())
}

func TestCheckLongStopLoss(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(longPos("p1", fptr(1.0950), nil))

	// Above the stop: nothing fires.
	assert.Empty(t, ix.Check("EURUSD", 1.0951, 1.0953))

	fired := ix.Check("EURUSD", 1.0949, 1.0951)
	require.Len(t, fired, 1)
	assert.Equal(t, "p1", fired[0].Position.PositionID)
	assert.Equal(t, domain.CloseReasonStopLoss, fired[0].Reason)
	assert.Equal(t, 1.0949, fired[0].ExitPrice) // longs realize the bid
}

func TestCheckLongTakeProfit(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(longPos("p1", nil, fptr(1.1050)))

	fired := ix.Check("EURUSD", 1.1050, 1.1052)
	require.Len(t, fired, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, fired[0].Reason)
	assert.Equal(t, 1.1050, fired[0].ExitPrice)
}

func TestCheckShortUsesAsk(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(shortPos("sl", fptr(1.1050), nil))
	ix.Upsert(shortPos("tp", nil, fptr(1.0950)))

	// Shorts close by buying at the ask.
	fired := ix.Check("EURUSD", 1.1048, 1.1050)
	require.Len(t, fired, 1)
	assert.Equal(t, "sl", fired[0].Position.PositionID)
	assert.Equal(t, domain.CloseReasonStopLoss, fired[0].Reason)
	assert.Equal(t, 1.1050, fired[0].ExitPrice)

	fired = ix.Check("EURUSD", 1.0948, 1.0950)
	require.Len(t, fired, 1)
	assert.Equal(t, "tp", fired[0].Position.PositionID)
	assert.Equal(t, domain.CloseReasonTakeProfit, fired[0].Reason)
	assert.Equal(t, 1.0950, fired[0].ExitPrice)
}

func TestCheckStopLossWinsWhenBothCrossed(t *testing.T) {
	ix := NewIndex()
	// A gapping tick can cross both thresholds at once when the stop sits
	// above the target after manual edits.
	ix.Upsert(longPos("p1", fptr(1.1000), fptr(1.0900)))

	fired := ix.Check("EURUSD", 1.0950, 1.0952)
	require.Len(t, fired, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, fired[0].Reason)
}

func TestCheckFiresAtMostOnce(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(longPos("p1", fptr(1.0950), nil))

	fired := ix.Check("EURUSD", 1.0949, 1.0951)
	require.Len(t, fired, 1)

	// The position is gone before the caller even sees the firing, so the
	// next tick cannot fire it again.
	assert.Empty(t, ix.Check("EURUSD", 1.0940, 1.0942))
	assert.Equal(t, 0, ix.Len())
}

func TestCheckOtherSymbolUntouched(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(longPos("p1", fptr(1.0950), nil))

	assert.Empty(t, ix.Check("GBPUSD", 1.0000, 1.0002))
	assert.Equal(t, 1, ix.Len())
}

func TestReplaceAllSwapsIndexWholesale(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(longPos("stale", fptr(1.0950), nil))

	fresh := []domain.TrackedPosition{
		longPos("a", fptr(1.0900), nil),
		shortPos("b", fptr(1.1100), nil),
		longPos("no-thresholds", nil, nil),
	}
	ix.ReplaceAll(fresh)

	assert.Equal(t, 2, ix.Len())
	assert.Empty(t, ix.Check("EURUSD", 1.0949, 1.0951)) // "stale" is gone
	ids := make([]string, 0, 2)
	for _, p := range ix.ForSymbol("EURUSD") {
		ids = append(ids, p.PositionID)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestUpsertMovesPositionBetweenSymbols(t *testing.T) {
	ix := NewIndex()
	ix.Upsert(longPos("p1", fptr(1.0950), nil))

	moved := longPos("p1", fptr(1.0950), nil)
	moved.Symbol = "GBPUSD"
	ix.Upsert(moved)

	assert.Empty(t, ix.ForSymbol("EURUSD"))
	require.Len(t, ix.ForSymbol("GBPUSD"), 1)
	assert.Equal(t, 1, ix.Len())
}

func TestCheckMultiplePositionsOnOneTick(t *testing.T) {
	ix := NewIndex()
	for i := 0; i < 5; i++ {
		ix.Upsert(longPos(fmt.Sprintf("p%d", i), fptr(1.0950), nil))
	}
	ix.Upsert(longPos("safe", fptr(1.0800), nil))

	fired := ix.Check("EURUSD", 1.0949, 1.0951)
	assert.Len(t, fired, 5)
	assert.Equal(t, 1, ix.Len())
}
