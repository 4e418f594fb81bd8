// Package sqlstore implements the queue storage contracts on MariaDB (or MySQL with InnoDB).
//
// Concurrency control relies on InnoDB row locks:
// every read-then-write operation runs in an Immediate transaction
// that write-locks the queue row before anything else,
// so concurrent claimants and producers of one queue are serialized by the engine.
// Message IDs are allocated as max(id)+1 under an additional store-wide lock row.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.od2.network/queues/pkg/cachegc"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

// TxMode selects how a transaction acquires locks.
type TxMode int

const (
	// Deferred runs a read-only repeatable-read transaction.
	// Used by multi-statement reads that need one consistent view.
	Deferred TxMode = iota
	// Immediate runs a read-write transaction.
	// Callers take the write lock up front with lockQueue as their first statement.
	Immediate
)

func (m TxMode) options() *sql.TxOptions {
	switch m {
	case Immediate:
		return &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	default:
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
}

// Options configures a Driver.
type Options struct {
	Log      *zap.Logger
	Clock    storage.Clock
	Metrics  *storage.Metrics
	Attempts uint64        // connectivity retries
	Backoff  time.Duration // wait between retries
	CacheTTL time.Duration // queue ID cache TTL, zero disables the cache
}

// Driver is the MariaDB storage backend.
type Driver struct {
	DB      *sqlx.DB
	Log     *zap.Logger
	Clock   storage.Clock
	Metrics *storage.Metrics
	Retrier *storage.Retrier

	qids *cachegc.Cache
}

// Assert Driver implements storage.Driver.
var _ storage.Driver = (*Driver)(nil)

// Queue ID cache size.
const qidCacheSize = 4096

// New creates a MariaDB storage backend on an open connection pool.
func New(db *sqlx.DB, opts Options) (*Driver, error) {
	d := &Driver{
		DB:      db,
		Log:     opts.Log,
		Clock:   opts.Clock,
		Metrics: opts.Metrics,
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Metrics == nil {
		d.Metrics = storage.NewMetrics(nil)
	}
	backoff := opts.Backoff
	if backoff == 0 {
		backoff = storage.DefaultRetryBackoff
	}
	d.Retrier = &storage.Retrier{
		Log:         d.Log,
		Attempts:    opts.Attempts,
		Backoff:     backoff,
		IsTransient: IsTransient,
		IsConflict:  IsConflict,
	}
	if opts.CacheTTL > 0 {
		cache, err := cachegc.New(qidCacheSize, opts.CacheTTL)
		if err != nil {
			return nil, err
		}
		cache.Clock = d.Clock
		d.qids = cache
	}
	return d, nil
}

// Queues returns the queue store.
func (d *Driver) Queues() storage.QueueStore {
	return &QueueStore{d}
}

// Messages returns the message store.
func (d *Driver) Messages() storage.MessageStore {
	return &MessageStore{d}
}

// Claims returns the claim store.
func (d *Driver) Claims() storage.ClaimStore {
	return &ClaimStore{d}
}

// Close closes the connection pool.
func (d *Driver) Close() error {
	return d.DB.Close()
}

func (d *Driver) now() int64 {
	return d.Clock().Unix()
}

// Tx runs fn in a transaction, retrying on connectivity errors.
// The transaction is committed if fn returns nil and rolled back otherwise.
func (d *Driver) Tx(ctx context.Context, mode TxMode, name string, fn func(tx *sqlx.Tx) error) error {
	return d.Retrier.Do(ctx, name, func() error {
		tx, err := d.DB.BeginTxx(ctx, mode.options())
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Do runs a single statement outside of a transaction, retrying on connectivity errors.
func (d *Driver) Do(ctx context.Context, name string, fn func() error) error {
	return d.Retrier.Do(ctx, name, fn)
}

// MySQL error numbers.
const (
	erLockDeadlock = 1213
)

// IsTransient reports whether an error is a connectivity failure worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsConflict reports whether InnoDB rolled back the transaction to break a deadlock.
func IsConflict(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == erLockDeadlock
}

type queueKey struct {
	tenant string
	name   string
}

// lockQueue write-locks a queue row and returns the queue ID.
// It is the first statement of every Immediate transaction on a queue.
func lockQueue(ctx context.Context, tx *sqlx.Tx, name, tenant string) (int64, error) {
	// language=MariaDB
	const stmt = `SELECT id FROM queues WHERE tenant = ? AND name = ? FOR UPDATE;`
	var qid int64
	err := tx.GetContext(ctx, &qid, stmt, tenant, name)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, storage.QueueNotFound(name, tenant)
	}
	return qid, err
}

// queueID resolves a queue name without locking, using the cache if enabled.
// cached reports whether the ID came from the cache and may belong to a deleted queue.
func (d *Driver) queueID(ctx context.Context, q sqlx.QueryerContext, name, tenant string) (qid int64, cached bool, err error) {
	if d.qids != nil {
		if qid, ok := d.qids.Get(queueKey{tenant, name}); ok {
			return qid.(int64), true, nil
		}
	}
	qid, err = d.lookupQueueID(ctx, q, name, tenant)
	return qid, false, err
}

// lookupQueueID resolves a queue name in the database and refreshes the cache.
func (d *Driver) lookupQueueID(ctx context.Context, q sqlx.QueryerContext, name, tenant string) (int64, error) {
	// language=MariaDB
	const stmt = `SELECT id FROM queues WHERE tenant = ? AND name = ?;`
	var qid int64
	err := sqlx.GetContext(ctx, q, &qid, stmt, tenant, name)
	if errors.Is(err, sql.ErrNoRows) {
		d.forgetQueue(name, tenant)
		return 0, storage.QueueNotFound(name, tenant)
	} else if err != nil {
		return 0, err
	}
	if d.qids != nil {
		d.qids.Add(queueKey{tenant, name}, qid)
	}
	return qid, nil
}

func (d *Driver) forgetQueue(name, tenant string) {
	if d.qids != nil {
		d.qids.Remove(queueKey{tenant, name})
	}
}
