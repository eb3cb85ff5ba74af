// Country dataset, kvstore-backed: keyed by ISO 3166-1 alpha-2 code,
// value is the country record. Small, effectively static, so it lives in
// a JSON file rather than a database collection.
package service

import (
	"errors"
	"strings"

	"github.com/totem-tech/backend/kvstore"
)

var ErrUnknownCountry = errors.New("unknown country")

// Countries handles the country dataset.
type Countries struct {
	store *kvstore.Store
}

// NewCountries returns a handler over the given kvstore.
func NewCountries(store *kvstore.Store) *Countries {
	return &Countries{store: store}
}

// Get returns the country record for a code.
func (c *Countries) Get(code string) (map[string]any, error) {
	v, ok, err := c.store.Get(strings.ToUpper(code))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownCountry
	}
	record, _ := v.(map[string]any)
	return record, nil
}

// SearchName returns countries whose name contains the query,
// case-insensitively, keyed by code.
func (c *Countries) SearchName(query string) (map[string]map[string]any, error) {
	all, err := c.store.GetAll()
	if err != nil {
		return nil, err
	}

	query = strings.ToLower(query)
	out := make(map[string]map[string]any)
	for code, v := range all {
		record, ok := v.(map[string]any)
		if !ok {
			continue
		}
		name, _ := record["name"].(string)
		if strings.Contains(strings.ToLower(name), query) {
			out[code] = record
		}
	}
	return out, nil
}
