// Per-collection accessor.
//
// Resolution is lazy: the first operation connects, checks the backend's
// collection list and creates the collection if it is missing. The mutex
// is held across the whole resolution, so concurrent first calls on one
// Storage issue at most one create-collection request and all observe the
// same outcome. The guard is per instance — two Storages aimed at the
// same name rely on the backend treating duplicate creates as idempotent.
//
// Every mutating path (Set, SetAll, Delete) fetches the current revision
// before writing, so an update never goes out without the backend's
// optimistic-concurrency token. The read-then-write window is not locked;
// the backend's revision check is the sole backstop, and a lost race
// surfaces as ErrConflict for the caller to handle.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SearchOptions configures Search and Find behaviour. The zero value
// means fuzzy case-sensitive matching, OR-combined fields, no limit.
type SearchOptions struct {
	Exact      bool // exact equality instead of substring match
	MatchAll   bool // AND fields together instead of OR
	IgnoreCase bool // case-insensitive fuzzy matching
	Limit      int  // 0 = unbounded
	Skip       int
}

// Storage is a per-collection document accessor. Safe for concurrent use.
type Storage struct {
	source Source
	name   string
	log    *zap.Logger

	mu   sync.Mutex
	coll Collection
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used for the collection-creation notice.
// The default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Storage) { s.log = log }
}

// New returns an accessor for the named collection. The collection is not
// touched until the first operation.
func New(source Source, name string, opts ...Option) (*Storage, error) {
	if name == "" {
		return nil, ErrNoName
	}
	s := &Storage{source: source, name: name, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name returns the collection name.
func (s *Storage) Name() string { return s.name }

// DB returns the resolved collection handle, for callers that need raw
// backend operations such as index creation.
func (s *Storage) DB(ctx context.Context) (Collection, error) {
	return s.resolve(ctx)
}

// resolve binds the collection handle, creating the collection on the
// backend if it does not exist. The result is cached; later calls
// short-circuit under the same lock.
func (s *Storage) resolve(ctx context.Context) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.coll != nil {
		return s.coll, nil
	}

	b, err := s.source.connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.name, err)
	}

	names, err := b.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", s.name, err)
	}
	if !slices.Contains(names, s.name) {
		if err := b.CreateCollection(ctx, s.name); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", s.name, err)
		}
		s.log.Info("created collection", zap.String("collection", s.name))
	}

	s.coll = b.Collection(s.name)
	return s.coll, nil
}

// Get fetches a document by identifier. A missing document returns
// (nil, nil); any other backend fault is an error.
func (s *Storage) Get(ctx context.Context, id string) (Document, error) {
	c, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := c.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get: %w", err)
	}
	return doc, nil
}

// GetAll fetches the given identifiers, silently dropping any that do
// not exist. An empty ids slice fetches the entire collection.
func (s *Storage) GetAll(ctx context.Context, ids []string) ([]Document, error) {
	c, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		// Match-all selector: every document has an _id.
		docs, err := c.Query(ctx, Query{Selector: map[string]any{FieldID: map[string]any{"$gt": nil}}})
		if err != nil {
			return nil, fmt.Errorf("getall: %w", err)
		}
		return docs, nil
	}

	rows, err := c.BulkFetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("getall: %w", err)
	}
	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		if row.Doc != nil {
			docs = append(docs, row.Doc)
		}
	}
	return docs, nil
}

// GetAllMap is GetAll returning an identifier-keyed map.
func (s *Storage) GetAllMap(ctx context.Context, ids []string) (map[string]Document, error) {
	docs, err := s.GetAll(ctx, ids)
	if err != nil {
		return nil, err
	}
	return keyed(docs), nil
}

// Find returns the first document matching criteria, or (nil, nil) when
// nothing matches. Limit and Skip in opts are ignored.
func (s *Storage) Find(ctx context.Context, criteria map[string]any, opts SearchOptions) (Document, error) {
	opts.Limit = 1
	opts.Skip = 0
	docs, err := s.Search(ctx, criteria, opts)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// Search matches documents against a field→value criteria map. An empty
// criteria map matches nothing and returns immediately without touching
// the backend.
func (s *Storage) Search(ctx context.Context, criteria map[string]any, opts SearchOptions) ([]Document, error) {
	if len(criteria) == 0 {
		return nil, nil
	}
	docs, err := s.query(ctx, Query{
		Selector: buildSelector(criteria, opts),
		Limit:    opts.Limit,
		Skip:     opts.Skip,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return docs, nil
}

// SearchMap is Search returning an identifier-keyed map.
func (s *Storage) SearchMap(ctx context.Context, criteria map[string]any, opts SearchOptions) (map[string]Document, error) {
	docs, err := s.Search(ctx, criteria, opts)
	if err != nil {
		return nil, err
	}
	return keyed(docs), nil
}

// SearchRaw passes a native query straight through to the backend. A
// zero Limit means unbounded.
func (s *Storage) SearchRaw(ctx context.Context, q Query) ([]Document, error) {
	docs, err := s.query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("searchraw: %w", err)
	}
	return docs, nil
}

func (s *Storage) query(ctx context.Context, q Query) ([]Document, error) {
	c, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	return c.Query(ctx, q)
}

// Set writes a document under id, generating a fresh identifier when id
// is empty. If the document already exists its current revision token is
// attached so the backend accepts the update. A concurrent writer that
// races this one causes ErrConflict; the caller decides whether to
// re-fetch and retry.
func (s *Storage) Set(ctx context.Context, id string, doc Document) (WriteResult, error) {
	c, err := s.resolve(ctx)
	if err != nil {
		return WriteResult{}, err
	}

	if id == "" {
		id = uuid.NewString()
	}

	existing, err := c.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return WriteResult{}, fmt.Errorf("set: %w", err)
	}

	doc = doc.Clone()
	doc[FieldID] = id
	if existing != nil {
		doc[FieldRev] = existing.Rev()
	} else {
		delete(doc, FieldRev)
	}

	res, err := c.Upsert(ctx, id, doc)
	if err != nil {
		return res, fmt.Errorf("set: %w", err)
	}
	return res, nil
}

// SetAll submits many documents as one bulk write. Documents carrying an
// identifier but no revision are checked against the backend first: when
// ignoreExisting is set, those that already exist are dropped from the
// batch; otherwise the existing revision is attached so the bulk write
// updates instead of conflicting. The batch is not atomic — the returned
// slice reports one outcome per submitted document.
func (s *Storage) SetAll(ctx context.Context, docs []Document, ignoreExisting bool) ([]WriteResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	c, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	batch := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Rev() != "" || doc.ID() == "" {
			batch = append(batch, doc)
			continue
		}

		existing, err := c.Get(ctx, doc.ID())
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("setall: %w", err)
		}
		if existing == nil {
			batch = append(batch, doc)
			continue
		}
		if ignoreExisting {
			continue
		}
		doc = doc.Clone()
		doc[FieldRev] = existing.Rev()
		batch = append(batch, doc)
	}

	if len(batch) == 0 {
		return nil, nil
	}
	results, err := c.BulkWrite(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("setall: %w", err)
	}
	return results, nil
}

// SetAllMap is SetAll for an identifier-keyed map. Map keys become _id
// fields; entries are submitted in sorted key order.
func (s *Storage) SetAllMap(ctx context.Context, docs map[string]Document, ignoreExisting bool) ([]WriteResult, error) {
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	flat := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc := docs[id].Clone()
		if doc == nil {
			doc = Document{}
		}
		doc[FieldID] = id
		flat = append(flat, doc)
	}
	return s.SetAll(ctx, flat, ignoreExisting)
}

// Delete flags the given documents as deleted. Identifiers are
// de-duplicated; those that do not exist or are already flagged are
// skipped. When nothing remains the backend is not called and an empty
// slice is returned — deleting twice is a no-op, not an error.
func (s *Storage) Delete(ctx context.Context, ids []string) ([]WriteResult, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return []WriteResult{}, nil
	}
	c, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.BulkFetch(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}

	batch := make([]Document, 0, len(rows))
	for _, row := range rows {
		if row.Doc == nil || row.Doc.Deleted() {
			continue
		}
		doc := row.Doc.Clone()
		doc[FieldDeleted] = true
		batch = append(batch, doc)
	}

	if len(batch) == 0 {
		return []WriteResult{}, nil
	}
	results, err := c.BulkWrite(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	return results, nil
}

// keyed converts a document slice to an identifier-keyed map.
func keyed(docs []Document) map[string]Document {
	out := make(map[string]Document, len(docs))
	for _, doc := range docs {
		out[doc.ID()] = doc
	}
	return out
}

// dedupe drops empty and repeated identifiers, preserving first-seen order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
