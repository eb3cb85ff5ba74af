// Package docstore provides a per-collection accessor over a
// collection-oriented document database (CouchDB or compatible).
//
// A Storage binds one named collection to a connection source and exposes
// CRUD, search and bulk operations on schemaless JSON documents. The
// collection is resolved lazily on first use and created on the backend if
// it does not exist yet. Every update funnels through a fetch-for-revision
// step so that writes always carry the backend's optimistic-concurrency
// token; a stale token surfaces as ErrConflict and is never retried here.
//
// The concrete backend is abstracted behind the Backend and Collection
// interfaces. The couch package provides the HTTP implementation; Memory
// provides an in-process one for tests and embedded use.
package docstore

// Reserved document fields. The backend assigns _rev on every successful
// write and requires it on the next write to the same document. A document
// carrying _deleted=true is removed by the backend once the write lands.
const (
	FieldID      = "_id"
	FieldRev     = "_rev"
	FieldDeleted = "_deleted"
)

// Document is a single schemaless record. Any JSON-compatible values are
// allowed; the fields above carry storage metadata.
type Document map[string]any

// ID returns the document identifier, or "" if unset.
func (d Document) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Rev returns the revision token, or "" if the document was never saved.
func (d Document) Rev() string {
	s, _ := d[FieldRev].(string)
	return s
}

// Deleted reports whether the document carries the deletion flag.
func (d Document) Deleted() bool {
	b, _ := d[FieldDeleted].(bool)
	return b
}

// Clone returns a shallow copy. Mutating accessor paths clone before
// attaching metadata so caller-owned maps are never written to.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
