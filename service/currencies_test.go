package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/totem-tech/backend/docstore"
)

func seedCurrencies(t *testing.T) (*Currencies, *docstore.Storage) {
	t.Helper()
	store := newTestStorage(t, "currencies")
	ctx := context.Background()

	for code, usd := range map[string]float64{
		"USD": 1.0,
		"AUD": 0.65,
		"EUR": 1.10,
	} {
		_, err := store.Set(ctx, code, docstore.Document{"usdValue": usd})
		require.NoError(t, err)
	}
	return NewCurrencies(store, nil), store
}

func TestConvert(t *testing.T) {
	currencies, _ := seedCurrencies(t)
	ctx := context.Background()

	got, err := currencies.Convert(ctx, "AUD", "USD", 100)
	require.NoError(t, err)
	assert.InDelta(t, 65.0, got, 1e-9)

	got, err = currencies.Convert(ctx, "EUR", "AUD", 10)
	require.NoError(t, err)
	assert.InDelta(t, 10*1.10/0.65, got, 1e-9)

	got, err = currencies.Convert(ctx, "USD", "USD", 42)
	require.NoError(t, err)
	assert.Equal(t, 42.0, got)
}

func TestConvertUnknownCurrency(t *testing.T) {
	currencies, _ := seedCurrencies(t)
	ctx := context.Background()

	_, err := currencies.Convert(ctx, "XYZ", "USD", 1)
	assert.ErrorIs(t, err, ErrUnknownCurrency)

	_, err = currencies.Convert(ctx, "USD", "XYZ", 1)
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestConvertUsesRateCache(t *testing.T) {
	currencies, store := seedCurrencies(t)
	ctx := context.Background()

	first, err := currencies.Convert(ctx, "AUD", "USD", 100)
	require.NoError(t, err)

	// Change the stored rate behind the cache's back; within the TTL
	// the cached value still wins.
	_, err = store.Set(ctx, "AUD", docstore.Document{"usdValue": 0.99})
	require.NoError(t, err)

	second, err := currencies.Convert(ctx, "AUD", "USD", 100)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestList(t *testing.T) {
	currencies, _ := seedCurrencies(t)

	docs, err := currencies.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 3)
}
