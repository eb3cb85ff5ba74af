// In-process Backend implementation.
//
// Memory mirrors the semantics the accessor relies on from a real
// document store: revision tokens checked on every write, per-item bulk
// outcomes, and physical removal of documents flagged _deleted. Revision
// tokens are "<generation>-<xxh3 of the document body>". The selector
// evaluator covers the subset this package emits — equality, $regex,
// $gt, $eq and $or — which is also enough for handler tests.
package docstore

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Memory is an in-process document store. Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	colls map[string]map[string]Document
}

// NewMemory returns an empty in-process backend.
func NewMemory() *Memory {
	return &Memory{colls: make(map[string]map[string]Document)}
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) ListCollections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.colls))
	for name := range m.colls {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (m *Memory) CreateCollection(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.colls[name]; !ok {
		m.colls[name] = make(map[string]Document)
	}
	return nil
}

func (m *Memory) Collection(name string) Collection {
	return &memColl{backend: m, name: name}
}

func (m *Memory) Close() error { return nil }

// docs returns the named collection's map, creating it if absent. The
// caller must hold the write lock.
func (m *Memory) docs(name string) map[string]Document {
	coll, ok := m.colls[name]
	if !ok {
		coll = make(map[string]Document)
		m.colls[name] = coll
	}
	return coll
}

type memColl struct {
	backend *Memory
	name    string
}

func (c *memColl) Name() string { return c.name }

func (c *memColl) Get(ctx context.Context, id string) (Document, error) {
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	doc, ok := c.backend.colls[c.name][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (c *memColl) BulkFetch(ctx context.Context, ids []string) ([]FetchRow, error) {
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	rows := make([]FetchRow, 0, len(ids))
	for _, id := range ids {
		row := FetchRow{ID: id}
		if doc, ok := c.backend.colls[c.name][id]; ok {
			row.Doc = doc.Clone()
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (c *memColl) Query(ctx context.Context, q Query) ([]Document, error) {
	c.backend.mu.RLock()
	defer c.backend.mu.RUnlock()

	ids := make([]string, 0, len(c.backend.colls[c.name]))
	for id := range c.backend.colls[c.name] {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var docs []Document
	for _, id := range ids {
		doc := c.backend.colls[c.name][id]
		if matchSelector(q.Selector, doc) {
			docs = append(docs, doc.Clone())
		}
	}

	if q.Skip > 0 {
		if q.Skip >= len(docs) {
			return nil, nil
		}
		docs = docs[q.Skip:]
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return docs, nil
}

func (c *memColl) Upsert(ctx context.Context, id string, doc Document) (WriteResult, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	res := c.write(id, doc)
	if res.Err != nil {
		return res, res.Err
	}
	return res, nil
}

func (c *memColl) BulkWrite(ctx context.Context, docs []Document) ([]WriteResult, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()

	results := make([]WriteResult, 0, len(docs))
	for _, doc := range docs {
		id := doc.ID()
		if id == "" {
			id = uuid.NewString()
		}
		results = append(results, c.write(id, doc))
	}
	return results, nil
}

func (c *memColl) CreateIndex(ctx context.Context, idx Index) error { return nil }

// write applies one document write under the held write lock, enforcing
// the revision check and the deletion flag.
func (c *memColl) write(id string, doc Document) WriteResult {
	coll := c.backend.docs(c.name)

	cur, exists := coll[id]
	if exists && doc.Rev() != cur.Rev() {
		return WriteResult{ID: id, Err: ErrConflict}
	}
	if !exists && doc.Rev() != "" {
		return WriteResult{ID: id, Err: ErrConflict}
	}

	rev := nextRev(doc)
	if doc.Deleted() {
		delete(coll, id)
		return WriteResult{ID: id, Rev: rev}
	}

	stored := doc.Clone()
	stored[FieldID] = id
	stored[FieldRev] = rev
	coll[id] = stored
	return WriteResult{ID: id, Rev: rev}
}

// nextRev derives the next revision token from the incoming document.
func nextRev(doc Document) string {
	gen := 0
	if rev := doc.Rev(); rev != "" {
		if i := strings.IndexByte(rev, '-'); i > 0 {
			gen, _ = strconv.Atoi(rev[:i])
		}
	}
	body, _ := json.Marshal(doc)
	return fmt.Sprintf("%d-%016x", gen+1, xxh3.Hash(body))
}

// matchSelector evaluates the Mango-style subset this package emits.
func matchSelector(sel map[string]any, doc Document) bool {
	if len(sel) == 0 {
		return true
	}
	for field, cond := range sel {
		if field == "$or" {
			if !matchOr(cond, doc) {
				return false
			}
			continue
		}
		if !matchField(doc[field], cond) {
			return false
		}
	}
	return true
}

func matchOr(cond any, doc Document) bool {
	alts, ok := cond.([]any)
	if !ok {
		return false
	}
	for _, alt := range alts {
		if sub, ok := alt.(map[string]any); ok && matchSelector(sub, doc) {
			return true
		}
	}
	return false
}

func matchField(value any, cond any) bool {
	ops, ok := cond.(map[string]any)
	if !ok {
		return looseEqual(value, cond)
	}
	for op, arg := range ops {
		switch op {
		case "$eq":
			if !looseEqual(value, arg) {
				return false
			}
		case "$regex":
			matched, err := regexp.MatchString(fmt.Sprint(arg), fmt.Sprint(value))
			if err != nil || !matched {
				return false
			}
		case "$gt":
			if !greaterThan(value, arg) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// looseEqual compares JSON values, treating all numbers as float64.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b) && fmt.Sprintf("%T", a) == fmt.Sprintf("%T", b)
}

// greaterThan implements $gt. A nil bound matches any present value,
// which is how the match-all selector {"_id": {"$gt": null}} works.
func greaterThan(value any, bound any) bool {
	if bound == nil {
		return value != nil
	}
	if vf, ok := toFloat(value); ok {
		bf, bok := toFloat(bound)
		return bok && vf > bf
	}
	vs, vok := value.(string)
	bs, bok := bound.(string)
	return vok && bok && vs > bs
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
