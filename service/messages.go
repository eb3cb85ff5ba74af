// Chat messages.
//
// A conversation is identified by its participant set, not by who wrote
// first: the id is the xxh3 hash of the sorted, de-duplicated participant
// list, so any member computes the same id from any ordering.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"

	"github.com/totem-tech/backend/docstore"
)

const defaultMaxMessageLen = 4096

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message exceeds maximum length")
	ErrNoRecipients   = errors.New("no recipients")
)

// Messages handles the chat message collection.
type Messages struct {
	store  *docstore.Storage
	log    *zap.Logger
	maxLen int
}

// NewMessages returns a handler over the given collection accessor.
func NewMessages(store *docstore.Storage, log *zap.Logger) *Messages {
	if log == nil {
		log = zap.NewNop()
	}
	return &Messages{store: store, log: log, maxLen: defaultMaxMessageLen}
}

// ConversationID derives the stable conversation identifier for a
// participant set. Order and duplicates do not matter.
func ConversationID(participants []string) string {
	ids := dedupe(participants)
	slices.Sort(ids)
	return fmt.Sprintf("%016x", xxh3.HashString(strings.Join(ids, ",")))
}

// Send validates and stores one message from sender to recipients.
func (m *Messages) Send(ctx context.Context, sender string, recipients []string, text string) (docstore.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > m.maxLen {
		return nil, ErrMessageTooLong
	}
	recipients = dedupe(recipients)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	doc := docstore.Document{
		"conversationId": ConversationID(append(slices.Clone(recipients), sender)),
		"sender":         sender,
		"recipients":     recipients,
		"message":        text,
		"ts":             now(),
	}

	res, err := m.store.Set(ctx, "", doc)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	doc[docstore.FieldID] = res.ID
	return doc, nil
}

// Conversation returns messages for a participant set, optionally only
// those newer than since (an RFC 3339 timestamp). A zero limit returns
// everything.
func (m *Messages) Conversation(ctx context.Context, participants []string, since string, limit int) ([]docstore.Document, error) {
	selector := map[string]any{"conversationId": ConversationID(participants)}
	if since != "" {
		selector["ts"] = map[string]any{"$gt": since}
	}
	docs, err := m.store.SearchRaw(ctx, docstore.Query{Selector: selector, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return docs, nil
}
