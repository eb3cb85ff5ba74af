package service

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/totem-tech/backend/docstore"
	"github.com/totem-tech/backend/kvstore"
)

func newTestStorage(t *testing.T, name string) *docstore.Storage {
	t.Helper()
	s, err := docstore.New(docstore.Explicit(docstore.NewMemory()), name)
	require.NoError(t, err)
	return s
}

func newTestKV(t *testing.T) *kvstore.Store {
	t.Helper()
	s, err := kvstore.Open(filepath.Join(t.TempDir(), "data.json"), kvstore.Config{})
	require.NoError(t, err)
	return s
}
