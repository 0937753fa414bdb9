package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/beegfs-io/mgmtd/pkg/metrics"
	"github.com/beegfs-io/mgmtd/pkg/mgmterr"
)

// writeQueueDepth is the number of pending write operations the store
// will buffer before WriteTx/WriteTxNoSync block on enqueueing.
const writeQueueDepth = 256

// Store is the process-wide handle to the persistent SQL database. All
// mutation goes through a single worker goroutine serialized on one
// connection; reads use a small pool of read-only connections and do not
// block on writers.
type Store struct {
	path string

	writeDB *sql.DB
	readDB  *sql.DB

	writeQueue chan func()
	closed     chan struct{}

	logger zerolog.Logger
}

// Open opens (creating if necessary) the SQLite database at path,
// applies any pending schema migrations, and starts the write worker.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	writeDB, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path))
	if err != nil {
		return nil, mgmterr.New(mgmterr.Internal, fmt.Errorf("open write connection: %w", err))
	}
	writeDB.SetMaxOpenConns(1)

	readDB, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=query_only(1)", path))
	if err != nil {
		writeDB.Close()
		return nil, mgmterr.New(mgmterr.Internal, fmt.Errorf("open read connection pool: %w", err))
	}
	readDB.SetMaxOpenConns(4)

	s := &Store{
		path:       path,
		writeDB:    writeDB,
		readDB:     readDB,
		writeQueue: make(chan func(), writeQueueDepth),
		closed:     make(chan struct{}),
		logger:     logger,
	}

	if err := s.migrate(); err != nil {
		writeDB.Close()
		readDB.Close()
		return nil, err
	}

	go s.runWriter()
	return s, nil
}

// Close stops the write worker and closes both connection pools. It
// blocks until any in-flight write operation finishes, per the rule that
// caller cancellation never cancels an in-flight operation.
func (s *Store) Close() error {
	close(s.closed)
	if err := s.writeDB.Close(); err != nil {
		return mgmterr.New(mgmterr.Internal, err)
	}
	return mgmterr.New(mgmterr.Internal, s.readDB.Close())
}

func (s *Store) runWriter() {
	for {
		select {
		case op := <-s.writeQueue:
			op()
		case <-s.closed:
			// Drain anything already queued before shutting down.
			for {
				select {
				case op := <-s.writeQueue:
					op()
				default:
					return
				}
			}
		}
	}
}

// ReadTx runs fn in a read-only transaction against the read connection
// pool. Many read transactions may run concurrently and never block a
// writer.
func ReadTx[T any](ctx context.Context, s *Store, fn func(*sql.Tx) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resCh := make(chan result, 1)
	timer := metrics.NewTimer()

	go func() {
		tx, err := s.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			resCh <- result{err: mgmterr.New(mgmterr.Internal, err)}
			return
		}
		defer tx.Rollback()

		v, err := fn(tx)
		if err != nil {
			resCh <- result{err: err}
			return
		}
		if err := tx.Commit(); err != nil {
			resCh <- result{err: mgmterr.New(mgmterr.Internal, err)}
			return
		}
		resCh <- result{v: v}
	}()

	defer timer.ObserveDurationVec(metrics.StoreOpDuration, "read")

	select {
	case r := <-resCh:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, mgmterr.New(mgmterr.Transport, ctx.Err())
	}
}

// WriteTx runs fn as a serialized, durable write transaction.
func WriteTx[T any](ctx context.Context, s *Store, fn func(*sql.Tx) (T, error)) (T, error) {
	return writeOp(ctx, s, true, fn)
}

// WriteTxNoSync runs fn as a serialized write transaction that may skip
// the disk sync on commit, for high-rate bookkeeping where losing the
// last few seconds of updates on a crash is acceptable.
func WriteTxNoSync[T any](ctx context.Context, s *Store, fn func(*sql.Tx) (T, error)) (T, error) {
	return writeOp(ctx, s, false, fn)
}

func writeOp[T any](ctx context.Context, s *Store, durable bool, fn func(*sql.Tx) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resCh := make(chan result, 1)
	label := "write"
	if !durable {
		label = "write_no_sync"
	}

	op := func() {
		timer := metrics.NewTimer()
		defer timer.ObserveDurationVec(metrics.StoreOpDuration, label)

		if !durable {
			if _, err := s.writeDB.Exec("PRAGMA synchronous = OFF"); err != nil {
				resCh <- result{err: mgmterr.New(mgmterr.Internal, err)}
				return
			}
			defer s.writeDB.Exec("PRAGMA synchronous = NORMAL")
		}

		tx, err := s.writeDB.Begin()
		if err != nil {
			resCh <- result{err: mgmterr.New(mgmterr.Internal, err)}
			return
		}

		v, err := fn(tx)
		if err != nil {
			tx.Rollback()
			resCh <- result{err: err}
			return
		}
		if err := tx.Commit(); err != nil {
			resCh <- result{err: mgmterr.New(mgmterr.Internal, err)}
			return
		}
		resCh <- result{v: v}
	}

	metrics.StoreQueueDepth.Inc()
	select {
	case s.writeQueue <- op:
	case <-s.closed:
		metrics.StoreQueueDepth.Dec()
		var zero T
		return zero, mgmterr.Newf(mgmterr.Internal, "store is closed")
	}

	select {
	case r := <-resCh:
		metrics.StoreQueueDepth.Dec()
		return r.v, r.err
	case <-ctx.Done():
		// The operation is already queued and will still run to
		// completion; only the caller's wait is abandoned.
		metrics.StoreQueueDepth.Dec()
		var zero T
		return zero, mgmterr.New(mgmterr.Transport, ctx.Err())
	}
}
