// Backend and Collection are the narrow contract this package consumes
// from a document database. Implementations: the couch package (HTTP) and
// Memory (in-process).
package docstore

import "context"

// Query is the native selector-query request. A Limit of zero means
// unbounded — implementations must omit the limit parameter entirely
// rather than send 0, since document stores default to a small implicit
// cap when the parameter is absent from the request options but treat an
// explicit 0 as "no rows".
type Query struct {
	Selector map[string]any
	Limit    int
	Skip     int
	Sort     []map[string]string
	Fields   []string
	UseIndex string
}

// Index describes a secondary index on one or more document fields.
// Creation is idempotent: requesting an index that already exists is not
// an error.
type Index struct {
	Name   string
	Fields []string
}

// FetchRow is one row of a bulk fetch. Doc is nil when the requested
// identifier does not exist or the document is deleted.
type FetchRow struct {
	ID  string
	Doc Document
}

// WriteResult is the outcome of one document write. Exactly one of the
// two shapes applies: success (Rev set, Err nil) or failure (Err set).
// Bulk operations return one WriteResult per submitted document so that
// callers can treat conflicts as per-item failures.
type WriteResult struct {
	ID  string
	Rev string
	Err error
}

// OK reports whether the write succeeded.
func (r WriteResult) OK() bool { return r.Err == nil }

// Collection is a handle to one named collection on the backend.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// Get fetches a document by identifier. Returns ErrNotFound if no
	// such document exists.
	Get(ctx context.Context, id string) (Document, error)

	// BulkFetch fetches many documents by identifier in one call.
	// Missing identifiers yield rows with a nil Doc, not an error.
	BulkFetch(ctx context.Context, ids []string) ([]FetchRow, error)

	// Query runs a native selector query.
	Query(ctx context.Context, q Query) ([]Document, error)

	// Upsert writes a single document under the given identifier.
	// Returns ErrConflict when the document exists and doc carries a
	// stale (or missing) revision token.
	Upsert(ctx context.Context, id string, doc Document) (WriteResult, error)

	// BulkWrite submits many writes in one call. The batch is not
	// atomic: each document succeeds or fails independently and the
	// returned slice reports one outcome per input document.
	BulkWrite(ctx context.Context, docs []Document) ([]WriteResult, error)

	// CreateIndex creates a secondary index. Idempotent.
	CreateIndex(ctx context.Context, idx Index) error
}

// Backend is a connection to the document database.
type Backend interface {
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// ListCollections returns the names of all existing collections.
	ListCollections(ctx context.Context) ([]string, error)

	// CreateCollection creates a named collection. Creating a
	// collection that already exists is not an error.
	CreateCollection(ctx context.Context, name string) error

	// Collection returns a handle bound to the named collection. It
	// does not verify existence; resolution is the accessor's job.
	Collection(name string) Collection

	// Close releases the connection.
	Close() error
}
