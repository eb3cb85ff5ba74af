// User registration and login.
//
// A user id is claimed forever on first registration. Re-registering an
// existing id is only allowed from the same blockchain address, which
// rotates the secret without releasing the id. Secrets are stored as
// blake2b-256 hashes; login compares hashes, never plaintext.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/totem-tech/backend/docstore"
)

var (
	ErrInvalidUserID  = errors.New("user id must be 3-16 characters, lowercase letters and digits, starting with a letter")
	ErrUserIDTaken    = errors.New("user id is already taken")
	ErrSecretTooShort = errors.New("secret must be at least 10 characters")
	ErrLoginFailed    = errors.New("invalid credentials")
)

var userIDPattern = regexp.MustCompile(`^[a-z][a-z0-9]{2,15}$`)

// reservedUserIDs can never be registered; they are claimed by mention
// handling and support tooling.
var reservedUserIDs = []string{
	"admin", "everyone", "here", "me", "support", "totem", "trollbox",
}

// Users handles the user registry collection.
type Users struct {
	store *docstore.Storage
	log   *zap.Logger
}

// NewUsers returns a handler over the given collection accessor.
func NewUsers(store *docstore.Storage, log *zap.Logger) *Users {
	if log == nil {
		log = zap.NewNop()
	}
	return &Users{store: store, log: log}
}

// hashSecret derives the stored credential from a login secret.
func hashSecret(secret string) string {
	sum := blake2b.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Register claims id for the given on-chain address. Registering a taken
// id fails unless the address matches the original registration, in
// which case the secret is rotated.
func (u *Users) Register(ctx context.Context, id, secret, address string) error {
	if !userIDPattern.MatchString(id) {
		return ErrInvalidUserID
	}
	if slices.Contains(reservedUserIDs, id) {
		return ErrUserIDTaken
	}
	if len(secret) < 10 {
		return ErrSecretTooShort
	}

	existing, err := u.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if existing != nil && existing["address"] != address {
		return ErrUserIDTaken
	}

	doc := docstore.Document{
		"address":    address,
		"secretHash": hashSecret(secret),
		"tsCreated":  now(),
	}
	if existing != nil {
		doc["tsCreated"] = existing["tsCreated"]
		doc["tsUpdated"] = now()
	}

	if _, err := u.store.Set(ctx, id, doc); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	u.log.Info("registered user", zap.String("id", id))
	return nil
}

// Login verifies id and secret and returns the user document.
func (u *Users) Login(ctx context.Context, id, secret string) (docstore.Document, error) {
	doc, err := u.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	if doc == nil || doc["secretHash"] != hashSecret(secret) {
		return nil, ErrLoginFailed
	}
	return doc, nil
}

// IDTaken reports whether an id is registered or reserved.
func (u *Users) IDTaken(ctx context.Context, id string) (bool, error) {
	if slices.Contains(reservedUserIDs, id) {
		return true, nil
	}
	doc, err := u.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return doc != nil, nil
}

// ByAddress returns the user registered for an on-chain address, or nil.
func (u *Users) ByAddress(ctx context.Context, address string) (docstore.Document, error) {
	return u.store.Find(ctx, map[string]any{"address": address}, docstore.SearchOptions{Exact: true, MatchAll: true})
}
