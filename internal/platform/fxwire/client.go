package fxwire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tradeclash/marginbot/internal/domain"
)

// Client is the REST client for on-demand fxwire quote snapshots. It backs
// the fetch tier of the price cache; the caller enforces the inter-fetch
// cooldown, so the client itself is a plain request/response wrapper.
type Client struct {
	baseURL string
	key     string
	secret  string
	http    *http.Client
}

// NewClient creates a REST client for the given base URL and credentials.
func NewClient(baseURL, key, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     key,
		secret:  secret,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// FetchQuotes retrieves a snapshot for the given symbols. Symbols unknown to
// the upstream are omitted from the result; quotes come back un-normalized
// with Source set to fetched.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	q := url.Values{}
	q.Set("symbols", strings.Join(symbols, ","))
	reqURL := c.baseURL + "/v1/quotes?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fxwire: build request: %w", err)
	}

	ts := time.Now().UnixMilli()
	req.Header.Set("X-Api-Key", c.key)
	req.Header.Set("X-Api-Ts", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Api-Sig", sign(c.secret, c.key, ts))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fxwire: fetch quotes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("fxwire: fetch quotes: %w", domain.ErrAuthFailed)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fxwire: fetch quotes: unexpected status %d", resp.StatusCode)
	}

	var body snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("fxwire: decode snapshot: %w", err)
	}

	result := make(map[string]domain.PriceQuote, len(body.Quotes))
	for _, p := range body.Quotes {
		result[p.Symbol] = domain.PriceQuote{
			Symbol:    p.Symbol,
			Bid:       p.Bid,
			Ask:       p.Ask,
			Timestamp: time.UnixMilli(p.Ts),
			Source:    domain.QuoteSourceFetched,
		}
	}
	return result, nil
}

// Compile-time interface check.
var _ domain.QuoteFetcher = (*Client)(nil)
