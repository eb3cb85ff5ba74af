// Currency registry and conversion.
//
// Each currency document stores usdValue, the USD price of one unit.
// Conversion goes through USD. Rates are cached with a short TTL because
// conversion is called far more often than rates change.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/totem-tech/backend/docstore"
)

var ErrUnknownCurrency = errors.New("unknown currency")

// Currencies handles the currency collection and conversion math.
type Currencies struct {
	store  *docstore.Storage
	prices *cache.Cache
	log    *zap.Logger
}

// NewCurrencies returns a handler over the given collection accessor.
func NewCurrencies(store *docstore.Storage, log *zap.Logger) *Currencies {
	if log == nil {
		log = zap.NewNop()
	}
	return &Currencies{
		store:  store,
		prices: cache.New(5*time.Minute, 10*time.Minute),
		log:    log,
	}
}

// List returns every known currency.
func (c *Currencies) List(ctx context.Context) ([]docstore.Document, error) {
	return c.store.GetAll(ctx, nil)
}

// usdValue returns the USD price of one unit of the currency, consulting
// the TTL cache before the store.
func (c *Currencies) usdValue(ctx context.Context, code string) (float64, error) {
	if v, ok := c.prices.Get(code); ok {
		return v.(float64), nil
	}

	doc, err := c.store.Get(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("currency %s: %w", code, err)
	}
	if doc == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
	}
	value, ok := asFloat(doc["usdValue"])
	if !ok || value <= 0 {
		return 0, fmt.Errorf("%w: %s has no usable rate", ErrUnknownCurrency, code)
	}

	c.prices.Set(code, value, cache.DefaultExpiration)
	return value, nil
}

// Convert converts an amount between two currencies via USD.
func (c *Currencies) Convert(ctx context.Context, from, to string, amount float64) (float64, error) {
	if from == to {
		return amount, nil
	}
	fromUSD, err := c.usdValue(ctx, from)
	if err != nil {
		return 0, err
	}
	toUSD, err := c.usdValue(ctx, to)
	if err != nil {
		return 0, err
	}
	return amount * fromUSD / toUSD, nil
}
