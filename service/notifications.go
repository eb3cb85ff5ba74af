// Typed notifications fanned out to recipients.
//
// One document is written per recipient so that read state is tracked
// independently. The fan-out batch goes through a single bulk write;
// per-recipient outcomes are returned so a partial failure does not mask
// the deliveries that landed.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/totem-tech/backend/docstore"
)

var (
	ErrUnknownType      = errors.New("unknown notification type")
	ErrUnknownChildType = errors.New("unknown notification child type")
	ErrNotRecipient     = errors.New("notification addressed to another user")
)

// notificationTypes maps a type to its allowed child types. An empty
// list means the type takes no child type.
var notificationTypes = map[string][]string{
	"chat":        {"referralSuccess"},
	"identity":    {"introduce", "request", "share"},
	"task":        {"assignment", "invitation", "invoiced"},
	"timekeeping": {"dispute", "invitation"},
	"transfer":    {},
}

// Notifications handles the notification collection.
type Notifications struct {
	store *docstore.Storage
	log   *zap.Logger
}

// NewNotifications returns a handler over the given collection accessor.
func NewNotifications(store *docstore.Storage, log *zap.Logger) *Notifications {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifications{store: store, log: log}
}

// Notify stores one notification per recipient and returns the
// per-recipient write outcomes.
func (n *Notifications) Notify(ctx context.Context, from string, to []string, typ, childType, message string, data map[string]any) ([]docstore.WriteResult, error) {
	children, ok := notificationTypes[typ]
	if !ok {
		return nil, ErrUnknownType
	}
	if childType != "" && !slices.Contains(children, childType) {
		return nil, ErrUnknownChildType
	}
	to = dedupe(to)
	if len(to) == 0 {
		return nil, ErrNoRecipients
	}

	docs := make([]docstore.Document, 0, len(to))
	for _, userID := range to {
		docs = append(docs, docstore.Document{
			docstore.FieldID: uuid.NewString(),
			"from":           from,
			"to":             userID,
			"type":           typ,
			"childType":      childType,
			"message":        message,
			"data":           data,
			"read":           false,
			"tsCreated":      now(),
		})
	}

	results, err := n.store.SetAll(ctx, docs, false)
	if err != nil {
		return nil, fmt.Errorf("notify: %w", err)
	}
	n.log.Info("notification fan-out",
		zap.String("type", typ),
		zap.Int("recipients", len(to)))
	return results, nil
}

// Unread returns a user's unread notifications.
func (n *Notifications) Unread(ctx context.Context, userID string) ([]docstore.Document, error) {
	return n.store.Search(ctx, map[string]any{
		"to":   userID,
		"read": false,
	}, docstore.SearchOptions{Exact: true, MatchAll: true})
}

// MarkRead flags one notification as read by its recipient.
func (n *Notifications) MarkRead(ctx context.Context, id, userID string) error {
	doc, err := n.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("markread: %w", err)
	}
	if doc == nil {
		return docstore.ErrNotFound
	}
	if doc["to"] != userID {
		return ErrNotRecipient
	}

	doc["read"] = true
	if _, err := n.store.Set(ctx, id, doc); err != nil {
		return fmt.Errorf("markread: %w", err)
	}
	return nil
}
