package docstore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// spyBackend wraps Memory and records the traffic the accessor sends to
// the backend, so tests can assert on request shapes and call counts.
type spyBackend struct {
	Backend

	creates atomic.Int32
	queries atomic.Int32

	mu      sync.Mutex
	upserts []Document
	bulks   [][]Document
}

func newSpy() *spyBackend {
	return &spyBackend{Backend: NewMemory()}
}

func (b *spyBackend) CreateCollection(ctx context.Context, name string) error {
	b.creates.Add(1)
	return b.Backend.CreateCollection(ctx, name)
}

func (b *spyBackend) Collection(name string) Collection {
	return &spyColl{Collection: b.Backend.Collection(name), spy: b}
}

type spyColl struct {
	Collection
	spy *spyBackend
}

func (c *spyColl) Query(ctx context.Context, q Query) ([]Document, error) {
	c.spy.queries.Add(1)
	return c.Collection.Query(ctx, q)
}

func (c *spyColl) Upsert(ctx context.Context, id string, doc Document) (WriteResult, error) {
	c.spy.mu.Lock()
	c.spy.upserts = append(c.spy.upserts, doc.Clone())
	c.spy.mu.Unlock()
	return c.Collection.Upsert(ctx, id, doc)
}

func (c *spyColl) BulkWrite(ctx context.Context, docs []Document) ([]WriteResult, error) {
	batch := make([]Document, len(docs))
	for i, d := range docs {
		batch[i] = d.Clone()
	}
	c.spy.mu.Lock()
	c.spy.bulks = append(c.spy.bulks, batch)
	c.spy.mu.Unlock()
	return c.Collection.BulkWrite(ctx, docs)
}

func (b *spyBackend) lastUpsert(t *testing.T) Document {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.upserts) == 0 {
		t.Fatal("no upserts recorded")
	}
	return b.upserts[len(b.upserts)-1]
}

func (b *spyBackend) lastBulk(t *testing.T) []Document {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.bulks) == 0 {
		t.Fatal("no bulk writes recorded")
	}
	return b.bulks[len(b.bulks)-1]
}

func (b *spyBackend) bulkCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bulks)
}

func openTestStorage(t *testing.T) (*Storage, *spyBackend) {
	t.Helper()
	spy := newSpy()
	s, err := New(Explicit(spy), "things")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, spy
}

func TestNewEmptyName(t *testing.T) {
	_, err := New(Explicit(NewMemory()), "")
	if !errors.Is(err, ErrNoName) {
		t.Errorf("New with empty name: got %v, want ErrNoName", err)
	}
}

func TestResolveNoSource(t *testing.T) {
	s, err := New(Source{}, "things")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Get(context.Background(), "x")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Get without source: got %v, want ErrNotConfigured", err)
	}
}

func TestResolveCreatesCollectionOnce(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Get(ctx, "x")
		}()
	}
	wg.Wait()

	if got := spy.creates.Load(); got != 1 {
		t.Errorf("CreateCollection calls = %d, want 1", got)
	}
}

func TestResolveExistingCollection(t *testing.T) {
	spy := newSpy()
	spy.Backend.CreateCollection(context.Background(), "things")

	s, _ := New(Explicit(spy), "things")
	if _, err := s.Get(context.Background(), "x"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := spy.creates.Load(); got != 0 {
		t.Errorf("CreateCollection calls = %d, want 0", got)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := openTestStorage(t)

	doc, err := s.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc != nil {
		t.Errorf("Get missing = %v, want nil", doc)
	}
}

func TestSetGeneratesID(t *testing.T) {
	s, spy := openTestStorage(t)

	res, err := s.Set(context.Background(), "", Document{"name": "Alice"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if res.ID == "" || res.Rev == "" || !res.OK() {
		t.Errorf("Set result = %+v, want generated id, rev and OK", res)
	}
	if rev := spy.lastUpsert(t).Rev(); rev != "" {
		t.Errorf("fresh insert carried rev %q, want none", rev)
	}
}

func TestSetRevisionPropagation(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	first, err := s.Set(ctx, "alice", Document{"name": "Alice"})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, err := s.Set(ctx, "alice", Document{"name": "Alice2"}); err != nil {
		t.Fatalf("Set update: %v", err)
	}

	if rev := spy.lastUpsert(t).Rev(); rev != first.Rev {
		t.Errorf("update carried rev %q, want %q", rev, first.Rev)
	}

	doc, _ := s.Get(ctx, "alice")
	if doc["name"] != "Alice2" {
		t.Errorf("name = %v, want Alice2", doc["name"])
	}
}

func TestSetDoesNotMutateInput(t *testing.T) {
	s, _ := openTestStorage(t)

	in := Document{"name": "Alice"}
	if _, err := s.Set(context.Background(), "alice", in); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok := in[FieldID]; ok {
		t.Error("Set wrote _id into the caller's map")
	}
}

func TestGetAllPartial(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "x", Document{"v": 1})

	m, err := s.GetAllMap(ctx, []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("GetAllMap: %v", err)
	}
	if len(m) != 1 {
		t.Fatalf("len = %d, want 1", len(m))
	}
	if _, ok := m["x"]; !ok {
		t.Error("missing entry for x")
	}
}

func TestGetAllEmptyIDsFetchesEverything(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"v": 1})
	s.Set(ctx, "b", Document{"v": 2})

	docs, err := s.GetAll(ctx, nil)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("len = %d, want 2", len(docs))
	}
}

func TestSearchEmptyCriteria(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"v": 1})
	spy.queries.Store(0)

	for _, opts := range []SearchOptions{
		{},
		{Exact: true},
		{MatchAll: true, IgnoreCase: true},
	} {
		docs, err := s.Search(ctx, map[string]any{}, opts)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("Search({}) = %d docs, want 0", len(docs))
		}
	}
	if got := spy.queries.Load(); got != 0 {
		t.Errorf("backend queries = %d, want 0", got)
	}
}

func TestSearchFuzzyIgnoreCase(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"name": "Alice"})
	s.Set(ctx, "b", Document{"name": "Bob"})

	docs, err := s.Search(ctx, map[string]any{"name": "ali"}, SearchOptions{MatchAll: true, IgnoreCase: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 || docs[0].ID() != "a" {
		t.Errorf("Search = %v, want only doc a", docs)
	}
}

func TestSearchExactMatchAll(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"name": "Alice", "city": "Perth"})
	s.Set(ctx, "b", Document{"name": "Alice", "city": "Hobart"})

	docs, err := s.Search(ctx, map[string]any{"name": "Alice", "city": "Perth"}, SearchOptions{Exact: true, MatchAll: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 1 || docs[0].ID() != "a" {
		t.Errorf("Search = %v, want only doc a", docs)
	}

	docs, err = s.Search(ctx, map[string]any{"name": "Alice", "city": "Hobart"}, SearchOptions{Exact: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 2 {
		t.Errorf("OR search = %d docs, want 2", len(docs))
	}
}

var errQueryBroken = errors.New("query broken")

type failQueryBackend struct{ Backend }

func (b failQueryBackend) Collection(name string) Collection {
	return failQueryColl{b.Backend.Collection(name)}
}

type failQueryColl struct{ Collection }

func (failQueryColl) Query(ctx context.Context, q Query) ([]Document, error) {
	return nil, errQueryBroken
}

func TestQueryErrorsWrapped(t *testing.T) {
	s, err := New(Explicit(failQueryBackend{NewMemory()}), "things")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	_, err = s.SearchRaw(ctx, Query{Selector: map[string]any{"v": 1}})
	if !errors.Is(err, errQueryBroken) {
		t.Fatalf("SearchRaw: got %v, want wrapped backend error", err)
	}
	if !strings.HasPrefix(err.Error(), "searchraw: ") {
		t.Errorf("SearchRaw error = %q, want searchraw: prefix", err)
	}

	_, err = s.Search(ctx, map[string]any{"v": 1}, SearchOptions{Exact: true})
	if !errors.Is(err, errQueryBroken) {
		t.Fatalf("Search: got %v, want wrapped backend error", err)
	}
	if !strings.HasPrefix(err.Error(), "search: ") {
		t.Errorf("Search error = %q, want search: prefix", err)
	}
}

func TestFindFirstOnly(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"kind": "x"})
	s.Set(ctx, "b", Document{"kind": "x"})

	doc, err := s.Find(ctx, map[string]any{"kind": "x"}, SearchOptions{Exact: true})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if doc == nil {
		t.Fatal("Find = nil, want a document")
	}

	doc, err = s.Find(ctx, map[string]any{"kind": "missing"}, SearchOptions{Exact: true})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if doc != nil {
		t.Errorf("Find missing = %v, want nil", doc)
	}
}

func TestSetAllRevAnnotation(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	existing, err := s.Set(ctx, "a", Document{"v": 0})
	if err != nil {
		t.Fatalf("Set: %v", err)
	}

	results, err := s.SetAllMap(ctx, map[string]Document{
		"a": {"v": 1},
		"b": {"v": 2},
	}, false)
	if err != nil {
		t.Fatalf("SetAllMap: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if !r.OK() {
			t.Errorf("write %s failed: %v", r.ID, r.Err)
		}
	}

	batch := spy.lastBulk(t)
	for _, doc := range batch {
		switch doc.ID() {
		case "a":
			if doc.Rev() != existing.Rev {
				t.Errorf("a carried rev %q, want %q", doc.Rev(), existing.Rev)
			}
		case "b":
			if doc.Rev() != "" {
				t.Errorf("b carried rev %q, want none", doc.Rev())
			}
		}
	}
}

func TestSetAllIgnoreExisting(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"v": 1})

	results, err := s.SetAll(ctx, []Document{
		{FieldID: "a", "v": 99},
		{FieldID: "c", "v": 3},
	}, true)
	if err != nil {
		t.Fatalf("SetAll: %v", err)
	}
	if len(results) != 1 || results[0].ID != "c" {
		t.Errorf("results = %+v, want only c", results)
	}

	batch := spy.lastBulk(t)
	if len(batch) != 1 || batch[0].ID() != "c" {
		t.Errorf("submitted batch = %v, want only c", batch)
	}

	doc, _ := s.Get(ctx, "a")
	if v, _ := toFloat(doc["v"]); v != 1 {
		t.Errorf("a.v = %v, want 1 (unchanged)", doc["v"])
	}
}

func TestSetAllEmpty(t *testing.T) {
	s, spy := openTestStorage(t)

	results, err := s.SetAll(context.Background(), nil, false)
	if err != nil {
		t.Fatalf("SetAll: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want none", results)
	}
	if spy.bulkCount() != 0 {
		t.Error("empty SetAll reached the backend")
	}
}

func TestSetAllAllSkipped(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"v": 1})
	before := spy.bulkCount()

	results, err := s.SetAll(ctx, []Document{{FieldID: "a", "v": 2}}, true)
	if err != nil {
		t.Fatalf("SetAll: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %v, want none", results)
	}
	if spy.bulkCount() != before {
		t.Error("fully-skipped SetAll reached the backend")
	}
}

func TestDelete(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"v": 1})

	results, err := s.Delete(ctx, []string{"a", "a", "missing"})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" || !results[0].OK() {
		t.Errorf("results = %+v, want one success for a", results)
	}

	batch := spy.lastBulk(t)
	if len(batch) != 1 || batch[0].ID() != "a" || !batch[0].Deleted() {
		t.Errorf("batch = %v, want a single deletion-flagged doc for a", batch)
	}

	doc, _ := s.Get(ctx, "a")
	if doc != nil {
		t.Errorf("a still present after delete: %v", doc)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s, spy := openTestStorage(t)
	ctx := context.Background()

	s.Set(ctx, "a", Document{"v": 1})
	if _, err := s.Delete(ctx, []string{"a"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	before := spy.bulkCount()

	results, err := s.Delete(ctx, []string{"a"})
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("second Delete results = %+v, want empty", results)
	}
	if spy.bulkCount() != before {
		t.Error("second Delete issued a backend write")
	}
}

func TestDeleteNoIDs(t *testing.T) {
	s, spy := openTestStorage(t)

	results, err := s.Delete(context.Background(), []string{"", ""})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
	if spy.bulkCount() != 0 {
		t.Error("no-op Delete reached the backend")
	}
}
