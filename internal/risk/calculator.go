// Package risk contains the pure margin arithmetic used across the engine.
// Every function here is side-effect-free and depends on nothing but its
// arguments, so the trigger path and the reconciliation sweep share one
// implementation without pulling in cache or queue dependencies.
package risk

import (
	"fmt"
	"math"
	"sort"

	"github.com/tradeclash/marginbot/internal/domain"
)

// UnrealizedPnL returns the floating profit or loss of a position marked at
// current. Long positions gain when price rises, shorts when it falls.
func UnrealizedPnL(side domain.PositionSide, entry, current, qty, contractSize float64) float64 {
	move := current - entry
	if side == domain.SideShort {
		move = entry - current
	}
	return move * qty * contractSize
}

// Equity is capital plus the sum of all floating P&L.
func Equity(capital float64, unrealizedPnL ...float64) float64 {
	eq := capital
	for _, pnl := range unrealizedPnL {
		eq += pnl
	}
	return eq
}

// MarginLevel expresses equity as a percentage of margin in use. With no
// margin in use there is nothing to liquidate, so the level is +Inf.
func MarginLevel(equity, usedMargin float64) float64 {
	if usedMargin == 0 {
		return math.Inf(1)
	}
	return equity / usedMargin * 100
}

// StatusFor classifies a margin level against the given thresholds.
func StatusFor(level float64, t domain.RiskThresholds) domain.MarginStatus {
	switch {
	case level < t.Liquidation:
		return domain.MarginStatusLiquidation
	case level < t.MarginCall:
		return domain.MarginStatusDanger
	case level < t.Warning:
		return domain.MarginStatusWarning
	default:
		return domain.MarginStatusSafe
	}
}

// Snapshot derives the full margin view for one account.
func Snapshot(capital, unrealizedPnL, usedMargin float64, t domain.RiskThresholds) domain.MarginSnapshot {
	equity := Equity(capital, unrealizedPnL)
	level := MarginLevel(equity, usedMargin)
	return domain.MarginSnapshot{
		Equity:      equity,
		UsedMargin:  usedMargin,
		MarginLevel: level,
		Status:      StatusFor(level, t),
	}
}

// ValidateNewOrder checks a prospective order against the account's limits.
// It returns nil when the order is acceptable, otherwise an error wrapping
// domain.ErrOrderRejected with a distinct human-readable reason.
func ValidateNewOrder(req domain.OrderRequest, t domain.RiskThresholds) error {
	if req.RequiredMargin > req.AvailableCapital {
		return fmt.Errorf("%w: required margin %.2f exceeds available capital %.2f",
			domain.ErrOrderRejected, req.RequiredMargin, req.AvailableCapital)
	}
	if t.MaxPositions > 0 && req.OpenPositions >= t.MaxPositions {
		return fmt.Errorf("%w: open position limit reached (%d/%d)",
			domain.ErrOrderRejected, req.OpenPositions, t.MaxPositions)
	}
	if t.MaxLotSize > 0 && req.Quantity > t.MaxLotSize {
		return fmt.Errorf("%w: quantity %.2f exceeds max lot size %.2f",
			domain.ErrOrderRejected, req.Quantity, t.MaxLotSize)
	}
	if t.MaxLeverage > 0 && req.Leverage > t.MaxLeverage {
		return fmt.Errorf("%w: leverage %.0fx exceeds cap %.0fx",
			domain.ErrOrderRejected, req.Leverage, t.MaxLeverage)
	}
	return nil
}

// LiquidationPrice is the price at which the position's cumulative loss
// equals marginUsed. Solved algebraically per side: the loss per unit of
// price move is qty*contractSize, so the entry is shifted by
// marginUsed/(qty*contractSize) against the position.
func LiquidationPrice(side domain.PositionSide, entry, qty, marginUsed, contractSize float64) float64 {
	if qty <= 0 || contractSize <= 0 {
		return 0
	}
	shift := marginUsed / (qty * contractSize)
	if side == domain.SideLong {
		return entry - shift
	}
	return entry + shift
}

// LiquidationOrder returns the positions sorted for cascade liquidation:
// largest unrealized loss first, so closing the worst position recovers the
// margin level with the fewest closures. marks maps symbol to the current
// mark price; positions without a mark sort last.
func LiquidationOrder(positions []domain.TrackedPosition, marks map[string]float64, contractSize float64) []domain.TrackedPosition {
	out := make([]domain.TrackedPosition, len(positions))
	copy(out, positions)

	pnl := func(p domain.TrackedPosition) (float64, bool) {
		mark, ok := marks[p.Symbol]
		if !ok {
			return 0, false
		}
		return UnrealizedPnL(p.Side, p.EntryPrice, mark, p.Quantity, contractSize), true
	}

	sort.SliceStable(out, func(i, j int) bool {
		pi, oki := pnl(out[i])
		pj, okj := pnl(out[j])
		if oki != okj {
			return oki // marked positions before unmarked
		}
		return pi < pj
	})
	return out
}
