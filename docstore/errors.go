// Sentinel errors for programmatic handling. Callers can use errors.Is to
// distinguish a stale-revision conflict (retryable after a re-fetch) from
// configuration faults (fatal to the accessor instance). Backend transport
// failures are wrapped with %w and propagate untouched.
package docstore

import "errors"

var (
	ErrNotFound      = errors.New("document not found")
	ErrConflict      = errors.New("document update conflict")
	ErrNotConfigured = errors.New("no connection source configured")
	ErrNoName        = errors.New("collection name is empty")
	ErrClosed        = errors.New("connection provider is shut down")
)
