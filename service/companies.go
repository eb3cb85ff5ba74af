// Company registry.
//
// A company is unique per (countryCode, registrationNumber) pair; names
// are not unique and are searched fuzzily.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/totem-tech/backend/docstore"
)

var (
	ErrMissingField  = errors.New("required field missing")
	ErrCompanyExists = errors.New("company already registered")
)

var companyRequiredFields = []string{"name", "countryCode", "registrationNumber"}

// Companies handles the company registry collection.
type Companies struct {
	store *docstore.Storage
	log   *zap.Logger
}

// NewCompanies returns a handler over the given collection accessor.
func NewCompanies(store *docstore.Storage, log *zap.Logger) *Companies {
	if log == nil {
		log = zap.NewNop()
	}
	return &Companies{store: store, log: log}
}

// Add validates and stores a company record. An empty id gets a
// generated identifier. Returns the write outcome.
func (c *Companies) Add(ctx context.Context, id string, company docstore.Document) (docstore.WriteResult, error) {
	for _, field := range companyRequiredFields {
		if v, _ := company[field].(string); v == "" {
			return docstore.WriteResult{}, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
	}

	dup, err := c.ByRegistration(ctx, company["countryCode"].(string), company["registrationNumber"].(string))
	if err != nil {
		return docstore.WriteResult{}, fmt.Errorf("add company: %w", err)
	}
	if dup != nil && dup.ID() != id {
		return docstore.WriteResult{}, ErrCompanyExists
	}

	res, err := c.store.Set(ctx, id, company)
	if err != nil {
		return res, fmt.Errorf("add company: %w", err)
	}
	c.log.Info("registered company",
		zap.String("id", res.ID),
		zap.String("country", company["countryCode"].(string)))
	return res, nil
}

// ByRegistration returns the company registered under a country code and
// registration number, or nil.
func (c *Companies) ByRegistration(ctx context.Context, countryCode, registrationNumber string) (docstore.Document, error) {
	return c.store.Find(ctx, map[string]any{
		"countryCode":        countryCode,
		"registrationNumber": registrationNumber,
	}, docstore.SearchOptions{Exact: true, MatchAll: true})
}

// SearchName matches company names case-insensitively by substring.
func (c *Companies) SearchName(ctx context.Context, name string, limit int) ([]docstore.Document, error) {
	return c.store.Search(ctx, map[string]any{"name": name}, docstore.SearchOptions{
		MatchAll:   true,
		IgnoreCase: true,
		Limit:      limit,
	})
}
