// Package trigger maintains the in-memory index of open positions carrying
// stop-loss or take-profit thresholds, keyed by symbol, and evaluates those
// thresholds on every accepted price tick.
package trigger

import (
	"sync"

	"github.com/tradeclash/marginbot/internal/domain"
)

// Firing is the outcome of a threshold crossing: the position to close, the
// reason, and the realizable exit price at the time of the tick.
type Firing struct {
	Position  domain.TrackedPosition
	Reason    domain.CloseReason
	ExitPrice float64
}

// Index is the hot-path position index. All state lives in memory; Check
// performs no I/O and runs in O(k) for k positions open on the symbol.
// A fired position is removed before the caller sees the firing, so a
// subsequent tick can never fire it again while settlement is in flight.
type Index struct {
	mu       sync.RWMutex
	bySymbol map[string]map[string]domain.TrackedPosition
	symbolOf map[string]string
}

// NewIndex creates an empty trigger index.
func NewIndex() *Index {
	return &Index{
		bySymbol: make(map[string]map[string]domain.TrackedPosition),
		symbolOf: make(map[string]string),
	}
}

// Upsert inserts or replaces a tracked position. Positions without either
// threshold are ignored; there is nothing to trigger on.
func (ix *Index) Upsert(p domain.TrackedPosition) {
	if p.StopLoss == nil && p.TakeProfit == nil {
		ix.Remove(p.PositionID)
		return
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if prev, ok := ix.symbolOf[p.PositionID]; ok && prev != p.Symbol {
		delete(ix.bySymbol[prev], p.PositionID)
	}
	m, ok := ix.bySymbol[p.Symbol]
	if !ok {
		m = make(map[string]domain.TrackedPosition)
		ix.bySymbol[p.Symbol] = m
	}
	m[p.PositionID] = p
	ix.symbolOf[p.PositionID] = p.Symbol
}

// Remove deletes a position from the index, e.g. when it is closed or
// modified externally. Removing an unknown ID is a no-op.
func (ix *Index) Remove(positionID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(positionID)
}

func (ix *Index) removeLocked(positionID string) {
	sym, ok := ix.symbolOf[positionID]
	if !ok {
		return
	}
	delete(ix.symbolOf, positionID)
	if m := ix.bySymbol[sym]; m != nil {
		delete(m, positionID)
		if len(m) == 0 {
			delete(ix.bySymbol, sym)
		}
	}
}

// ForSymbol returns a copy of the positions tracked for one symbol.
func (ix *Index) ForSymbol(symbol string) []domain.TrackedPosition {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	m := ix.bySymbol[symbol]
	if len(m) == 0 {
		return nil
	}
	out := make([]domain.TrackedPosition, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out
}

// Len returns the total number of tracked positions.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.symbolOf)
}

// ReplaceAll swaps the whole index for the given positions. This is the
// reconciliation resync point that heals drift from missed ticks, restarts,
// or externally modified positions.
func (ix *Index) ReplaceAll(positions []domain.TrackedPosition) {
	bySymbol := make(map[string]map[string]domain.TrackedPosition)
	symbolOf := make(map[string]string, len(positions))
	for _, p := range positions {
		if p.StopLoss == nil && p.TakeProfit == nil {
			continue
		}
		m, ok := bySymbol[p.Symbol]
		if !ok {
			m = make(map[string]domain.TrackedPosition)
			bySymbol[p.Symbol] = m
		}
		m[p.PositionID] = p
		symbolOf[p.PositionID] = p.Symbol
	}

	ix.mu.Lock()
	ix.bySymbol = bySymbol
	ix.symbolOf = symbolOf
	ix.mu.Unlock()
}

// Check evaluates every position on the symbol against the tick. Longs close
// by selling and so realize the bid; shorts close by buying and realize the
// ask. When one tick crosses both thresholds of a position, stop-loss wins:
// the protective exit takes priority over profit-taking.
//
// Fired positions are removed from the index before Check returns.
func (ix *Index) Check(symbol string, bid, ask float64) []Firing {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	m := ix.bySymbol[symbol]
	if len(m) == 0 {
		return nil
	}

	var fired []Firing
	for _, p := range m {
		f, ok := evaluate(p, bid, ask)
		if !ok {
			continue
		}
		fired = append(fired, f)
	}
	for _, f := range fired {
		ix.removeLocked(f.Position.PositionID)
	}
	return fired
}

func evaluate(p domain.TrackedPosition, bid, ask float64) (Firing, bool) {
	switch p.Side {
	case domain.SideLong:
		if p.StopLoss != nil && bid <= *p.StopLoss {
			return Firing{Position: p, Reason: domain.CloseReasonStopLoss, ExitPrice: bid}, true
		}
		if p.TakeProfit != nil && bid >= *p.TakeProfit {
			return Firing{Position: p, Reason: domain.CloseReasonTakeProfit, ExitPrice: bid}, true
		}
	case domain.SideShort:
		if p.StopLoss != nil && ask >= *p.StopLoss {
			return Firing{Position: p, Reason: domain.CloseReasonStopLoss, ExitPrice: ask}, true
		}
		if p.TakeProfit != nil && ask <= *p.TakeProfit {
			return Firing{Position: p, Reason: domain.CloseReasonTakeProfit, ExitPrice: ask}, true
		}
	}
	return Firing{}, false
}
