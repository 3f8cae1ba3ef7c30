// Package cachestore implements the bounded-size, durable key/value cache
// (component C) that backs both the raster cache (D) and the upstream
// vector cache (E). It is accessed from exactly one dedicated goroutine — an
// actor — so callers never need to take a lock around the embedded database;
// they send a request and a reply channel and wait for the reply.
//
// Grounded on the teacher's internal/mbtiles/writer.go (WAL pragmas, schema-
// then-index creation) and internal/datasource/fetch_queue.go (request
// struct carrying its own reply channel, FIFO channel-backed processing).
package cachestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MeKo-Tech/rastertiled/internal/resource"
)

// ErrorKind classifies a CachedResponse's terminal error.
type ErrorKind int

const (
	NoError ErrorKind = iota
	NotFound
	Corrupted
	IOError
)

// ResponseError is the optional error carried by a CachedResponse.
type ResponseError struct {
	Kind    ErrorKind
	Message string
}

// IsUsable reports whether r may be served: it carries no error, and it is
// either unexpired or not marked MustRevalidate.
func (r CachedResponse) IsUsable() bool {
	if r.Error != nil {
		return false
	}
	if r.Expires == nil {
		return true
	}
	return r.Expires.After(time.Now()) || !r.MustRevalidate
}

// CachedResponse is the durable record stored and retrieved by the store.
//
// Invariant: either Data is present, or NoContent is set, or Error is set.
type CachedResponse struct {
	Data           []byte
	ETag           string
	HasETag        bool
	Modified       *time.Time
	Expires        *time.Time
	MustRevalidate bool
	NoContent      bool
	Error          *ResponseError
}

// Config configures a Store.
type Config struct {
	Path      string
	SizeLimit int64 // bytes; eviction triggers when exceeded
	Logger    *slog.Logger
}

// Store is a bounded-size durable KV store, single-writer-actor-backed.
type Store struct {
	reqs   chan request
	done   chan struct{}
	logger *slog.Logger
}

type request interface{ isRequest() }

type getReq struct {
	key   resource.Key
	reply chan getReply
}
type getReply struct {
	resp CachedResponse
	err  error
}

type putReq struct {
	key   resource.Key
	resp  CachedResponse
	reply chan error
}

type pauseReq struct{ reply chan struct{} }
type resumeReq struct{ reply chan struct{} }
type sizeReq struct{ reply chan int64 }
type closeReq struct{ reply chan struct{} }

func (getReq) isRequest()   {}
func (putReq) isRequest()   {}
func (pauseReq) isRequest() {}
func (resumeReq) isRequest() {}
func (sizeReq) isRequest()   {}
func (closeReq) isRequest()  {}

// Open creates (if needed) the database at cfg.Path, starts its actor
// goroutine, and returns a ready Store.
func Open(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("cachestore: open %s: %w", cfg.Path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 50000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("cachestore: pragma %q: %w", p, err)
		}
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("cachestore: schema: %w", err)
	}

	s := &Store{
		reqs:   make(chan request, 64),
		done:   make(chan struct{}),
		logger: cfg.Logger,
	}

	go s.run(db, cfg.SizeLimit)
	return s, nil
}

func createSchema(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS cache_entries (
			fingerprint     BLOB PRIMARY KEY,
			kind            INTEGER NOT NULL,
			url             TEXT NOT NULL,
			data            BLOB,
			etag            TEXT,
			has_etag        INTEGER NOT NULL DEFAULT 0,
			modified        INTEGER,
			expires         INTEGER,
			must_revalidate INTEGER NOT NULL DEFAULT 0,
			no_content      INTEGER NOT NULL DEFAULT 0,
			error_kind      INTEGER,
			error_message   TEXT,
			size            INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS cache_entries_modified ON cache_entries (modified);
	`
	_, err := db.Exec(schema)
	return err
}

// run is the actor loop: the sole goroutine touching db for this Store's
// lifetime. Requests are processed strictly in the order they were sent,
// except that a Pause defers every non-control request (accumulated in
// pending) until the matching Resume, at which point they drain in the
// order they arrived.
func (s *Store) run(db *sql.DB, limit int64) {
	defer db.Close()
	var pending []request
	paused := false

	for {
		req, ok := <-s.reqs
		if !ok {
			return
		}

		switch r := req.(type) {
		case pauseReq:
			paused = true
			close(r.reply)
			continue
		case resumeReq:
			paused = false
			close(r.reply)
			drain := pending
			pending = nil
			for _, p := range drain {
				s.execute(p, db, limit)
			}
			continue
		case closeReq:
			close(r.reply)
			close(s.done)
			return
		}

		if paused {
			pending = append(pending, req)
			continue
		}
		s.execute(req, db, limit)
	}
}

func (s *Store) execute(req request, db *sql.DB, limit int64) {
	switch r := req.(type) {
	case getReq:
		resp, err := get(db, r.key)
		r.reply <- getReply{resp: resp, err: err}
	case putReq:
		r.reply <- put(db, r.key, r.resp, limit, s.logger)
	case sizeReq:
		r.reply <- totalSize(db)
	}
}

// Get looks up key. A missing key is reported as CachedResponse{NoContent:
// true, Error: {NotFound, ...}} with a nil error — NotFound is not an error
// to the caller, per spec.md §7.
func (s *Store) Get(ctx context.Context, key resource.Key) (CachedResponse, error) {
	reply := make(chan getReply, 1)
	select {
	case s.reqs <- getReq{key: key, reply: reply}:
	case <-ctx.Done():
		return CachedResponse{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.resp, r.err
	case <-ctx.Done():
		return CachedResponse{}, ctx.Err()
	}
}

// Put stores resp under key, evicting least-recently-modified entries if the
// post-insert total size would exceed the configured limit.
func (s *Store) Put(ctx context.Context, key resource.Key, resp CachedResponse) error {
	reply := make(chan error, 1)
	select {
	case s.reqs <- putReq{key: key, resp: resp, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause halts the actor's processing of new requests beyond the one already
// in flight, until Resume is called.
func (s *Store) Pause(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.reqs <- pauseReq{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume resumes actor processing after a Pause.
func (s *Store) Resume(ctx context.Context) error {
	reply := make(chan struct{})
	select {
	case s.reqs <- resumeReq{reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Size reports the current total bytes of stored data, for tests that assert
// the eviction bound (Testable Property 5).
func (s *Store) Size(ctx context.Context) (int64, error) {
	reply := make(chan int64, 1)
	select {
	case s.reqs <- sizeReq{reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops the actor goroutine and closes the underlying database.
func (s *Store) Close() error {
	reply := make(chan struct{})
	s.reqs <- closeReq{reply: reply}
	<-reply
	<-s.done
	return nil
}

func get(db *sql.DB, key resource.Key) (CachedResponse, error) {
	fp := key.Fingerprint()

	var (
		data                                   []byte
		etag                                    sql.NullString
		hasETag                                 int64
		modified, expires                       sql.NullInt64
		mustRevalidate, noContent               int64
		errKind                                 sql.NullInt64
		errMsg                                  sql.NullString
	)

	row := db.QueryRow(`SELECT data, etag, has_etag, modified, expires, must_revalidate,
		no_content, error_kind, error_message FROM cache_entries WHERE fingerprint = ?`, fp)
	err := row.Scan(&data, &etag, &hasETag, &modified, &expires, &mustRevalidate, &noContent, &errKind, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return CachedResponse{
			NoContent: true,
			Error:     &ResponseError{Kind: NotFound, Message: "Not found in offline database"},
		}, nil
	}
	if err != nil {
		return CachedResponse{
			Error: &ResponseError{Kind: IOError, Message: err.Error()},
		}, nil
	}

	resp := CachedResponse{
		Data:           data,
		ETag:           etag.String,
		HasETag:        hasETag != 0,
		MustRevalidate: mustRevalidate != 0,
		NoContent:      noContent != 0,
	}
	if modified.Valid {
		t := time.Unix(0, modified.Int64)
		resp.Modified = &t
	}
	if expires.Valid {
		t := time.Unix(0, expires.Int64)
		resp.Expires = &t
	}
	if errKind.Valid {
		resp.Error = &ResponseError{Kind: ErrorKind(errKind.Int64), Message: errMsg.String}
	}
	return resp, nil
}

func put(db *sql.DB, key resource.Key, resp CachedResponse, limit int64, logger *slog.Logger) error {
	fp := key.Fingerprint()

	var modified, expires sql.NullInt64
	if resp.Modified != nil {
		modified = sql.NullInt64{Int64: resp.Modified.UnixNano(), Valid: true}
	}
	if resp.Expires != nil {
		expires = sql.NullInt64{Int64: resp.Expires.UnixNano(), Valid: true}
	}
	var errKind sql.NullInt64
	var errMsg sql.NullString
	if resp.Error != nil {
		errKind = sql.NullInt64{Int64: int64(resp.Error.Kind), Valid: true}
		errMsg = sql.NullString{String: resp.Error.Message, Valid: true}
	}

	_, err := db.Exec(`INSERT INTO cache_entries
		(fingerprint, kind, url, data, etag, has_etag, modified, expires, must_revalidate, no_content, error_kind, error_message, size)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			data=excluded.data, etag=excluded.etag, has_etag=excluded.has_etag,
			modified=excluded.modified, expires=excluded.expires,
			must_revalidate=excluded.must_revalidate, no_content=excluded.no_content,
			error_kind=excluded.error_kind, error_message=excluded.error_message, size=excluded.size`,
		fp, int(key.Kind), key.URL, resp.Data, nullString(resp.ETag, resp.HasETag), resp.HasETag,
		modified, expires, resp.MustRevalidate, resp.NoContent, errKind, errMsg, len(resp.Data))
	if err != nil {
		logger.Error("cachestore: put failed", "key", key.String(), "error", err)
		return fmt.Errorf("cachestore: put: %w", err)
	}

	if limit > 0 {
		evict(db, limit, logger)
	}
	return nil
}

func nullString(s string, has bool) sql.NullString {
	return sql.NullString{String: s, Valid: has}
}

func totalSize(db *sql.DB) int64 {
	var total sql.NullInt64
	_ = db.QueryRow("SELECT SUM(size) FROM cache_entries").Scan(&total)
	return total.Int64
}

// evict removes least-recently-modified entries (oldest Modified first)
// until total stored bytes is at or below limit.
func evict(db *sql.DB, limit int64, logger *slog.Logger) {
	for {
		total := totalSize(db)
		if total <= limit {
			return
		}

		var fp []byte
		err := db.QueryRow(`SELECT fingerprint FROM cache_entries ORDER BY modified ASC, fingerprint ASC LIMIT 1`).Scan(&fp)
		if errors.Is(err, sql.ErrNoRows) {
			return
		}
		if err != nil {
			logger.Error("cachestore: eviction scan failed", "error", err)
			return
		}
		if _, err := db.Exec(`DELETE FROM cache_entries WHERE fingerprint = ?`, fp); err != nil {
			logger.Error("cachestore: eviction delete failed", "error", err)
			return
		}
	}
}
