// Package oracle fetches spot prices from a Pyth Hermes-shaped HTTP
// endpoint and caches the last good value per symbol. A failed fetch
// never touches the cache — callers always see the most recent price
// that was actually observed.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lucidperp/posmon/pkg/apperr"
	"github.com/lucidperp/posmon/pkg/domain"
)

// AssetConfig binds a symbol to its Pyth price-feed id.
type AssetConfig struct {
	Symbol      string
	PythPriceID string
}

// Client polls a Hermes-compatible price endpoint and caches results.
type Client struct {
	baseURL string
	assets  map[string]AssetConfig // keyed by symbol
	order   []string               // configured symbol order, for GetSymbols/FetchAll
	http    *retryablehttp.Client
	log     *zap.Logger

	mu     sync.RWMutex
	latest map[string]decimal.Decimal
}

// NewClient builds an oracle Client for baseURL, polling the given
// assets. maxRetries bounds the retryable HTTP client's attempts so a
// stuck endpoint surfaces OracleUnavailable instead of hanging forever.
func NewClient(baseURL string, assets []AssetConfig, maxRetries int, log *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.HTTPClient.Timeout = 2 * time.Second
	rc.Logger = nil // the monitor logs at the call site, not per-attempt

	return &Client{
		baseURL: baseURL,
		assets:  indexAssets(assets),
		order:   symbolOrder(assets),
		http:    rc,
		log:     log,
		latest:  make(map[string]decimal.Decimal, len(assets)),
	}
}

func indexAssets(assets []AssetConfig) map[string]AssetConfig {
	m := make(map[string]AssetConfig, len(assets))
	for _, a := range assets {
		m[a.Symbol] = a
	}
	return m
}

// symbolOrder returns each distinct symbol once, in first-seen order.
func symbolOrder(assets []AssetConfig) []string {
	out := make([]string, 0, len(assets))
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		if _, ok := seen[a.Symbol]; ok {
			continue
		}
		seen[a.Symbol] = struct{}{}
		out = append(out, a.Symbol)
	}
	return out
}

type hermesResponse struct {
	Parsed []struct {
		Price struct {
			Price string `json:"price"`
			Expo  int    `json:"expo"`
			Conf  string `json:"conf"`
		} `json:"price"`
	} `json:"parsed"`
}

// FetchPrice fetches and caches the latest price for symbol. On any
// network, HTTP-status, or parse failure the cache is left untouched and
// an OracleUnavailable error is returned.
func (c *Client) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	asset, ok := c.assets[symbol]
	if !ok {
		return decimal.Zero, apperr.New(apperr.InvalidInput, "unknown symbol %q", symbol)
	}

	url := fmt.Sprintf("%s/v2/updates/price/latest?ids[]=0x%s", c.baseURL, asset.PythPriceID)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.OracleUnavailable, err, "building oracle request for %s", symbol)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.OracleUnavailable, err, "fetching price for %s", symbol)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, apperr.New(apperr.OracleUnavailable, "oracle returned status %d for %s", resp.StatusCode, symbol)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.OracleUnavailable, err, "reading oracle response for %s", symbol)
	}

	var parsed hermesResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, apperr.Wrap(apperr.OracleUnavailable, err, "parsing oracle response for %s", symbol)
	}
	if len(parsed.Parsed) == 0 {
		return decimal.Zero, apperr.New(apperr.OracleUnavailable, "empty price update for %s", symbol)
	}

	price, err := decodePythPrice(parsed.Parsed[0].Price.Price, parsed.Parsed[0].Price.Expo)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.OracleUnavailable, err, "decoding price for %s", symbol)
	}

	c.mu.Lock()
	c.latest[symbol] = price
	c.mu.Unlock()
	return price, nil
}

// decodePythPrice converts Pyth's (price_int, expo) pair to a decimal:
// value = price_int * 10^expo. expo is typically negative.
func decodePythPrice(priceStr string, expo int) (decimal.Decimal, error) {
	priceInt, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid price integer %q", priceStr)
	}
	price := decimal.NewFromBigInt(priceInt, 0)
	if expo >= 0 {
		return price.Mul(decimal.New(1, int32(expo))), nil
	}
	return price.Shift(int32(expo)), nil
}

// GetCachedPrice returns the last successfully fetched price for symbol.
func (c *Client) GetCachedPrice(symbol string) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.latest[symbol]
	return p, ok
}

// GetSymbols returns the configured symbols in the order they were
// supplied to NewClient, as an ordered snapshot.
func (c *Client) GetSymbols() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// FetchAll polls every configured symbol, producing a PriceTick per
// success. Per-symbol failures are logged and skipped rather than
// aborting the whole poll cycle; ticks carry a monotonically increasing
// timestamp within this call.
func (c *Client) FetchAll(ctx context.Context) []domain.PriceTick {
	symbols := c.GetSymbols()
	ticks := make([]domain.PriceTick, 0, len(symbols))
	for _, symbol := range symbols {
		price, err := c.FetchPrice(ctx, symbol)
		if err != nil {
			if c.log != nil {
				c.log.Warn("oracle fetch failed", zap.String("symbol", symbol), zap.Error(err))
			}
			continue
		}
		ticks = append(ticks, domain.PriceTick{
			Symbol:    symbol,
			Price:     price,
			Timestamp: time.Now().UTC(),
		})
	}
	return ticks
}
