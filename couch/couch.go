// Package couch is an HTTP client for CouchDB-compatible document stores,
// implementing the docstore Backend and Collection contracts.
//
// Error mapping follows the accessor's expectations: 404 on a document
// read becomes docstore.ErrNotFound, 409 on a write becomes
// docstore.ErrConflict, and 412 on database creation (already exists) is
// swallowed so create-if-missing stays idempotent. Everything else is
// returned as a *ServerError carrying CouchDB's error and reason fields.
//
// Bulk request bodies (_bulk_docs, _all_docs key fetches, _find) are
// gzip-compressed on the wire; CouchDB accepts Content-Encoding: gzip and
// batch payloads are where the bytes are.
package couch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/totem-tech/backend/docstore"
)

// Config holds client options. Zero values get defaults in New.
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration // default 30s
	Client   *http.Client  // optional; Timeout is ignored when set
}

// Client is a connection to one CouchDB endpoint.
type Client struct {
	base *url.URL
	hc   *http.Client
	user string
	pass string
}

// New returns a client for the given endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, docstore.ErrNotConfigured
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("couch: parse url: %w", err)
	}

	user, pass := cfg.Username, cfg.Password
	if base.User != nil {
		user = base.User.Username()
		if p, ok := base.User.Password(); ok {
			pass = p
		}
		base.User = nil
	}

	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{base: base, hc: hc, user: user, pass: pass}, nil
}

// Dial is a docstore.DialFunc. Credentials may be carried in the URL
// userinfo section.
func Dial(ctx context.Context, rawURL string) (docstore.Backend, error) {
	c, err := New(Config{URL: rawURL})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ServerError is a non-2xx response that maps to no sentinel error.
type ServerError struct {
	Status int
	Err    string `json:"error"`
	Reason string `json:"reason"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("couch: %d %s: %s", e.Status, e.Err, e.Reason)
}

// do runs one request. A non-nil body is JSON-encoded; compress adds
// gzip content encoding. The response body is decoded into out when out
// is non-nil and the status is 2xx.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, compress bool, out any) (int, error) {
	// path arrives pre-escaped. Both URL fields must be set: Path holds
	// the decoded form and RawPath the wire form, otherwise String()
	// re-escapes the percent signs and an id containing / or % reaches
	// the server double-encoded.
	u := *c.base
	u.RawPath = strings.TrimSuffix(u.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(u.RawPath)
	if err != nil {
		return 0, fmt.Errorf("couch: path %s: %w", path, err)
	}
	u.Path = unescaped
	u.RawQuery = query.Encode()

	var buf bytes.Buffer
	if body != nil {
		if compress {
			zw := gzip.NewWriter(&buf)
			if err := json.NewEncoder(zw).Encode(body); err != nil {
				return 0, fmt.Errorf("couch: encode: %w", err)
			}
			if err := zw.Close(); err != nil {
				return 0, fmt.Errorf("couch: gzip: %w", err)
			}
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, fmt.Errorf("couch: encode: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), &buf)
	if err != nil {
		return 0, fmt.Errorf("couch: request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if compress {
			req.Header.Set("Content-Encoding", "gzip")
		}
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("couch: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		srvErr := &ServerError{Status: resp.StatusCode}
		json.NewDecoder(resp.Body).Decode(srvErr)
		return resp.StatusCode, srvErr
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("couch: decode: %w", err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

// Ping checks the endpoint is up.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/_up", nil, nil, false, nil)
	return err
}

// ListCollections returns all database names.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	if _, err := c.do(ctx, http.MethodGet, "/_all_dbs", nil, nil, false, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// CreateCollection creates a database. Creating one that already exists
// (412) is not an error.
func (c *Client) CreateCollection(ctx context.Context, name string) error {
	status, err := c.do(ctx, http.MethodPut, "/"+url.PathEscape(name), nil, nil, false, nil)
	if err != nil && status == http.StatusPreconditionFailed {
		return nil
	}
	return err
}

// Collection returns a handle to the named database.
func (c *Client) Collection(name string) docstore.Collection {
	return &database{client: c, name: name}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.hc.CloseIdleConnections()
	return nil
}

// database is a handle to one CouchDB database.
type database struct {
	client *Client
	name   string
}

func (d *database) Name() string { return d.name }

func (d *database) path(parts ...string) string {
	p := "/" + url.PathEscape(d.name)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (d *database) Get(ctx context.Context, id string) (docstore.Document, error) {
	var doc docstore.Document
	status, err := d.client.do(ctx, http.MethodGet, d.path(id), nil, nil, false, &doc)
	if err != nil {
		if status == http.StatusNotFound {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (d *database) BulkFetch(ctx context.Context, ids []string) ([]docstore.FetchRow, error) {
	query := url.Values{"include_docs": {"true"}}
	var out struct {
		Rows []struct {
			Key string            `json:"key"`
			Doc docstore.Document `json:"doc"`
		} `json:"rows"`
	}
	body := map[string]any{"keys": ids}
	if _, err := d.client.do(ctx, http.MethodPost, d.path("_all_docs"), query, body, true, &out); err != nil {
		return nil, err
	}

	rows := make([]docstore.FetchRow, 0, len(out.Rows))
	for _, row := range out.Rows {
		rows = append(rows, docstore.FetchRow{ID: row.Key, Doc: row.Doc})
	}
	return rows, nil
}

func (d *database) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	body := map[string]any{"selector": q.Selector}
	// Limit 0 means unbounded: the parameter is omitted, never sent as 0.
	if q.Limit > 0 {
		body["limit"] = q.Limit
	}
	if q.Skip > 0 {
		body["skip"] = q.Skip
	}
	if len(q.Sort) > 0 {
		body["sort"] = q.Sort
	}
	if len(q.Fields) > 0 {
		body["fields"] = q.Fields
	}
	if q.UseIndex != "" {
		body["use_index"] = q.UseIndex
	}

	var out struct {
		Docs []docstore.Document `json:"docs"`
	}
	if _, err := d.client.do(ctx, http.MethodPost, d.path("_find"), nil, body, true, &out); err != nil {
		return nil, err
	}
	return out.Docs, nil
}

func (d *database) Upsert(ctx context.Context, id string, doc docstore.Document) (docstore.WriteResult, error) {
	var out struct {
		ID  string `json:"id"`
		Rev string `json:"rev"`
	}
	status, err := d.client.do(ctx, http.MethodPut, d.path(id), nil, doc, false, &out)
	if err != nil {
		if status == http.StatusConflict {
			return docstore.WriteResult{ID: id, Err: docstore.ErrConflict}, docstore.ErrConflict
		}
		return docstore.WriteResult{ID: id, Err: err}, err
	}
	return docstore.WriteResult{ID: out.ID, Rev: out.Rev}, nil
}

func (d *database) BulkWrite(ctx context.Context, docs []docstore.Document) ([]docstore.WriteResult, error) {
	var rows []struct {
		ID     string `json:"id"`
		Rev    string `json:"rev"`
		OK     bool   `json:"ok"`
		Err    string `json:"error"`
		Reason string `json:"reason"`
	}
	body := map[string]any{"docs": docs}
	if _, err := d.client.do(ctx, http.MethodPost, d.path("_bulk_docs"), nil, body, true, &rows); err != nil {
		return nil, err
	}

	results := make([]docstore.WriteResult, 0, len(rows))
	for _, row := range rows {
		res := docstore.WriteResult{ID: row.ID, Rev: row.Rev}
		switch row.Err {
		case "":
		case "conflict":
			res.Err = docstore.ErrConflict
		default:
			res.Err = fmt.Errorf("couch: %s: %s", row.Err, row.Reason)
		}
		results = append(results, res)
	}
	return results, nil
}

func (d *database) CreateIndex(ctx context.Context, idx docstore.Index) error {
	body := map[string]any{
		"index": map[string]any{"fields": idx.Fields},
		"type":  "json",
	}
	if idx.Name != "" {
		body["name"] = idx.Name
	}
	// The response's result field is "created" or "exists"; both are fine.
	_, err := d.client.do(ctx, http.MethodPost, d.path("_index"), nil, body, false, nil)
	return err
}
