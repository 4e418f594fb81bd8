package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.od2.network/queues/pkg/storage"
)

// QueueStore implements storage.QueueStore.
type QueueStore struct {
	*Driver
}

// List returns all queues of a tenant ordered by name.
func (s *QueueStore) List(ctx context.Context, tenant string) ([]*storage.QueueInfo, error) {
	// language=MariaDB
	const stmt = `SELECT name, metadata FROM queues WHERE tenant = ? ORDER BY name;`
	var rows []struct {
		Name     string `db:"name"`
		Metadata string `db:"metadata"`
	}
	err := s.Do(ctx, "queues.list", func() error {
		rows = rows[:0]
		return s.DB.SelectContext(ctx, &rows, stmt, tenant)
	})
	if err != nil {
		return nil, err
	}
	queues := make([]*storage.QueueInfo, len(rows))
	for i, row := range rows {
		queues[i] = &storage.QueueInfo{
			Name:     row.Name,
			Metadata: json.RawMessage(row.Metadata),
		}
	}
	return queues, nil
}

// ListAll returns all queues of all tenants.
func (s *QueueStore) ListAll(ctx context.Context) ([]storage.QueueRef, error) {
	// language=MariaDB
	const stmt = `SELECT tenant, name FROM queues ORDER BY tenant, name;`
	var rows []struct {
		Tenant string `db:"tenant"`
		Name   string `db:"name"`
	}
	err := s.Do(ctx, "queues.list_all", func() error {
		rows = rows[:0]
		return s.DB.SelectContext(ctx, &rows, stmt)
	})
	if err != nil {
		return nil, err
	}
	refs := make([]storage.QueueRef, len(rows))
	for i, row := range rows {
		refs[i] = storage.QueueRef{Tenant: row.Tenant, Name: row.Name}
	}
	return refs, nil
}

// Get returns the metadata of a queue.
func (s *QueueStore) Get(ctx context.Context, name, tenant string) (json.RawMessage, error) {
	// language=MariaDB
	const stmt = `SELECT metadata FROM queues WHERE tenant = ? AND name = ?;`
	var metadata string
	err := s.Do(ctx, "queues.get", func() error {
		return s.DB.GetContext(ctx, &metadata, stmt, tenant, name)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.QueueNotFound(name, tenant)
	} else if err != nil {
		return nil, err
	}
	return json.RawMessage(metadata), nil
}

// Upsert creates or replaces a queue, keeping its messages.
// The existence check and the write happen under one row lock.
func (s *QueueStore) Upsert(ctx context.Context, name string, metadata json.RawMessage, tenant string) (created bool, err error) {
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}
	err = s.Tx(ctx, Immediate, "queues.upsert", func(tx *sqlx.Tx) error {
		if _, err := lockQueue(ctx, tx, name, tenant); err != nil && !errors.Is(err, storage.ErrQueueNotFound) {
			return err
		}
		// Affected rows: 1 if inserted, 2 if updated, 0 if unchanged.
		// The unique key settles concurrent creators of a missing queue.
		// language=MariaDB
		const stmt = `INSERT INTO queues (tenant, name, metadata) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE metadata = VALUES(metadata);`
		res, err := tx.ExecContext(ctx, stmt, tenant, name, string(metadata))
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		created = affected == 1
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Delete removes a queue. Messages and claims are removed by cascade.
func (s *QueueStore) Delete(ctx context.Context, name, tenant string) error {
	// language=MariaDB
	const stmt = `DELETE FROM queues WHERE tenant = ? AND name = ?;`
	err := s.Do(ctx, "queues.delete", func() error {
		_, err := s.DB.ExecContext(ctx, stmt, tenant, name)
		return err
	})
	if err != nil {
		return err
	}
	s.forgetQueue(name, tenant)
	return nil
}

// Stats returns message counts of a queue.
func (s *QueueStore) Stats(ctx context.Context, name, tenant string) (*storage.QueueStats, error) {
	now := s.now()
	stats := new(storage.QueueStats)
	err := s.Tx(ctx, Deferred, "queues.stats", func(tx *sqlx.Tx) error {
		// language=MariaDB
		const qidStmt = `SELECT id FROM queues WHERE tenant = ? AND name = ?;`
		var qid int64
		err := tx.GetContext(ctx, &qid, qidStmt, tenant, name)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.QueueNotFound(name, tenant)
		} else if err != nil {
			return err
		}
		// language=MariaDB
		const countStmt = `SELECT
	COUNT(*) AS total,
	COALESCE(SUM(claim_id IS NOT NULL AND claim_expires > ?), 0) AS claimed
FROM messages
WHERE qid = ? AND created + ttl > ?;`
		var counts struct {
			Total   int64 `db:"total"`
			Claimed int64 `db:"claimed"`
		}
		if err := tx.GetContext(ctx, &counts, countStmt, now, qid, now); err != nil {
			return err
		}
		stats.Messages = counts.Total
		stats.Claimed = counts.Claimed
		stats.Free = counts.Total - counts.Claimed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
