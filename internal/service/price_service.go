// Package service holds the application-facing facades that compose the
// pricing, risk, and persistence layers.
package service

import (
	"context"
	"log/slog"

	"github.com/tradeclash/marginbot/internal/domain"
	"github.com/tradeclash/marginbot/internal/pricing"
)

// PriceService is the read facade over the tiered price cache. "No price
// available" is an absent result, never an error: callers branch on the ok
// flag or on map membership.
type PriceService struct {
	cache  *pricing.TieredCache
	logger *slog.Logger
}

// NewPriceService creates a PriceService backed by the given cache.
func NewPriceService(cache *pricing.TieredCache, logger *slog.Logger) *PriceService {
	return &PriceService{
		cache:  cache,
		logger: logger.With(slog.String("component", "price_service")),
	}
}

// GetPrice returns the freshest available quote for symbol, descending cache
// tiers as needed. ok is false when no tier, fetch, or fallback can supply a
// price.
func (s *PriceService) GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, bool) {
	q, ok := s.cache.Get(ctx, symbol)
	if !ok {
		s.logger.DebugContext(ctx, "no price available",
			slog.String("symbol", symbol),
		)
	}
	return q, ok
}

// GetPrices returns quotes for every symbol a price could be found for.
// Symbols with no available price are simply absent from the result.
func (s *PriceService) GetPrices(ctx context.Context, symbols []string) map[string]domain.PriceQuote {
	return s.cache.GetAll(ctx, symbols)
}
