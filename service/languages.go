// Translation tables, kvstore-backed: keyed by language code, value is
// the text-key to translated-text map for that language.
//
// Hash gives clients a cheap cache check: they store the hash alongside
// their cached translations and only re-fetch when it changes.
package service

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/totem-tech/backend/kvstore"
)

var ErrUnknownLanguage = errors.New("unknown language")

// Languages handles the translation dataset.
type Languages struct {
	store *kvstore.Store
}

// NewLanguages returns a handler over the given kvstore.
func NewLanguages(store *kvstore.Store) *Languages {
	return &Languages{store: store}
}

// Texts returns the translation table for a language code.
func (l *Languages) Texts(code string) (map[string]string, error) {
	v, ok, err := l.store.Get(code)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLanguage, code)
	}

	raw, _ := v.(map[string]any)
	texts := make(map[string]string, len(raw))
	for key, val := range raw {
		s, _ := val.(string)
		texts[key] = s
	}
	return texts, nil
}

// SetTexts replaces the translation table for a language code.
func (l *Languages) SetTexts(code string, texts map[string]string) error {
	value := make(map[string]any, len(texts))
	for k, v := range texts {
		value[k] = v
	}
	return l.store.Set(code, value)
}

// Hash returns a stable digest of a language's translation table.
func (l *Languages) Hash(code string) (string, error) {
	texts, err := l.Texts(code)
	if err != nil {
		return "", err
	}

	keys := make([]string, 0, len(texts))
	for k := range texts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(texts[k])
		b.WriteByte('\n')
	}
	return fmt.Sprintf("%016x", xxh3.HashString(b.String())), nil
}
