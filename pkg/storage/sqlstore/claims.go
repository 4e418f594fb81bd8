package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/rs/xid"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

// ClaimStore implements storage.ClaimStore.
//
// Claim membership lives in messages.claim_id and messages.claim_expires.
// The claims table only holds the TTL and expiry of each claim.
type ClaimStore struct {
	*Driver
}

type claimRow struct {
	ID      string `db:"id"`
	QID     int64  `db:"qid"`
	TTL     int64  `db:"ttl"`
	Expires int64  `db:"expires"`
}

// Create claims up to limit visible messages, oldest first.
func (s *ClaimStore) Create(
	ctx context.Context,
	queue, tenant string,
	opts storage.ClaimOptions,
	limit int,
) (string, []*storage.Message, error) {
	if err := opts.Validate(); err != nil {
		return "", nil, err
	}
	times := opts.Times(s.Clock())
	claimID := xid.New().String()
	var rows []messageRow
	err := s.Tx(ctx, Immediate, "claims.create", func(tx *sqlx.Tx) error {
		rows = rows[:0]
		qid, err := lockQueue(ctx, tx, queue, tenant)
		if err != nil {
			return err
		}
		// language=MariaDB
		const insertStmt = `INSERT INTO claims (id, qid, ttl, expires) VALUES (?, ?, ?, ?);`
		if _, err := tx.ExecContext(ctx, insertStmt, claimID, qid, opts.TTL, times.ClaimExpires); err != nil {
			return err
		}
		if limit <= 0 {
			return nil
		}
		// language=MariaDB
		const selectStmt = `SELECT id, ttl, content, created FROM messages
WHERE qid = ? AND created + ttl > ? AND (claim_id IS NULL OR claim_expires <= ?)
ORDER BY id LIMIT ? FOR UPDATE;`
		if err := tx.SelectContext(ctx, &rows, selectStmt, qid, times.Now, times.Now, limit); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, len(rows))
		for i, row := range rows {
			ids[i] = row.ID
		}
		// language=MariaDB
		const markStmt = `UPDATE messages SET claim_id = ?, claim_expires = ? WHERE id IN (?);`
		if err := execIn(ctx, tx, markStmt, claimID, times.ClaimExpires, ids); err != nil {
			return fmt.Errorf("failed to mark claimed messages: %w", err)
		}
		// Messages must outlive the claim by the grace period.
		// language=MariaDB
		const extendStmt = `UPDATE messages SET ttl = ? - created WHERE id IN (?) AND created + ttl < ?;`
		if err := execIn(ctx, tx, extendStmt, times.MsgExpires, ids, times.MsgExpires); err != nil {
			return fmt.Errorf("failed to extend claimed messages: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	msgs := make([]*storage.Message, len(rows))
	for i := range rows {
		row := &rows[i]
		if row.Created+row.TTL < times.MsgExpires {
			row.TTL = times.MsgExpires - row.Created
		}
		msgs[i] = row.toBasic(times.Now)
	}
	s.Metrics.ClaimsCreated.Inc(1)
	s.Metrics.MessagesClaimed.Inc(int64(len(msgs)))
	s.Log.Debug("Created claim",
		zap.String("queue", queue),
		zap.String("claim.id", claimID),
		zap.Int64("claim.ttl", opts.TTL),
		zap.Int("claim.messages", len(msgs)))
	return claimID, msgs, nil
}

// Get returns a live claim and the live messages it holds.
func (s *ClaimStore) Get(ctx context.Context, queue, claimID, tenant string) (*storage.Claim, []*storage.Message, error) {
	if _, err := xid.FromString(claimID); err != nil {
		return nil, nil, storage.ClaimNotFound(claimID)
	}
	now := s.now()
	var claim claimRow
	var rows []messageRow
	err := s.Tx(ctx, Deferred, "claims.get", func(tx *sqlx.Tx) error {
		rows = rows[:0]
		var err error
		claim, err = getClaim(ctx, tx, queue, claimID, tenant, false)
		if err != nil {
			return err
		}
		if claim.Expires <= now {
			return storage.ClaimNotFound(claimID)
		}
		// language=MariaDB
		const stmt = `SELECT id, ttl, content, created FROM messages
WHERE claim_id = ? AND qid = ? AND created + ttl > ?
ORDER BY id;`
		return tx.SelectContext(ctx, &rows, stmt, claimID, claim.QID, now)
	})
	if errors.Is(err, storage.ErrClaimNotFound) && claim.ID != "" {
		s.evict(ctx, claim.ID)
	}
	if err != nil {
		return nil, nil, err
	}
	msgs := make([]*storage.Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].toBasic(now)
	}
	return &storage.Claim{
		ID:       claimID,
		TTL:      claim.TTL,
		Age:      now - (claim.Expires - claim.TTL),
		Messages: int64(len(msgs)),
	}, msgs, nil
}

// Update renews a live claim and the messages it holds.
// Membership does not change.
func (s *ClaimStore) Update(ctx context.Context, queue, claimID, tenant string, opts storage.ClaimOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if _, err := xid.FromString(claimID); err != nil {
		return storage.ClaimNotFound(claimID)
	}
	times := opts.Times(s.Clock())
	var expired bool
	err := s.Tx(ctx, Immediate, "claims.update", func(tx *sqlx.Tx) error {
		if _, err := lockQueue(ctx, tx, queue, tenant); errors.Is(err, storage.ErrQueueNotFound) {
			return storage.ClaimNotFound(claimID)
		} else if err != nil {
			return err
		}
		claim, err := getClaim(ctx, tx, queue, claimID, tenant, true)
		if err != nil {
			return err
		}
		if claim.Expires <= times.Now {
			expired = true
			return storage.ClaimNotFound(claimID)
		}
		// language=MariaDB
		const claimStmt = `UPDATE claims SET ttl = ?, expires = ? WHERE id = ?;`
		if _, err := tx.ExecContext(ctx, claimStmt, opts.TTL, times.ClaimExpires, claimID); err != nil {
			return err
		}
		// Only extend messages the renewed claim would outlive.
		// language=MariaDB
		const extendStmt = `UPDATE messages SET ttl = ? - created
WHERE claim_id = ? AND qid = ? AND created + ttl <= ?;`
		if _, err := tx.ExecContext(ctx, extendStmt, times.MsgExpires, claimID, claim.QID, times.ClaimExpires); err != nil {
			return err
		}
		// language=MariaDB
		const renewStmt = `UPDATE messages SET claim_expires = ? WHERE claim_id = ? AND qid = ?;`
		_, err = tx.ExecContext(ctx, renewStmt, times.ClaimExpires, claimID, claim.QID)
		return err
	})
	if expired {
		s.evict(ctx, claimID)
	}
	if err != nil {
		return err
	}
	s.Metrics.ClaimsRenewed.Inc(1)
	s.Log.Debug("Renewed claim",
		zap.String("queue", queue),
		zap.String("claim.id", claimID),
		zap.Int64("claim.ttl", opts.TTL))
	return nil
}

// Delete releases the messages of a live claim and removes the claim.
func (s *ClaimStore) Delete(ctx context.Context, queue, claimID, tenant string) error {
	if _, err := xid.FromString(claimID); err != nil {
		return nil
	}
	now := s.now()
	var live bool
	var released int64
	err := s.Tx(ctx, Immediate, "claims.delete", func(tx *sqlx.Tx) error {
		if _, err := lockQueue(ctx, tx, queue, tenant); errors.Is(err, storage.ErrQueueNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		claim, err := getClaim(ctx, tx, queue, claimID, tenant, true)
		if errors.Is(err, storage.ErrClaimNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		live = claim.Expires > now
		if live {
			// language=MariaDB
			const releaseStmt = `UPDATE messages SET claim_id = NULL, claim_expires = ?
WHERE claim_id = ? AND qid = ?;`
			res, err := tx.ExecContext(ctx, releaseStmt, now, claimID, claim.QID)
			if err != nil {
				return err
			}
			released, _ = res.RowsAffected()
		}
		// Expired claims are dropped the same way, their messages are already visible.
		// language=MariaDB
		const deleteStmt = `DELETE FROM claims WHERE id = ?;`
		_, err = tx.ExecContext(ctx, deleteStmt, claimID)
		return err
	})
	if err != nil || !live {
		return err
	}
	s.Metrics.ClaimsReleased.Inc(1)
	s.Log.Debug("Released claim",
		zap.String("queue", queue),
		zap.String("claim.id", claimID),
		zap.Int64("claim.messages", released))
	return nil
}

// GC removes expired claim records of a queue.
func (s *ClaimStore) GC(ctx context.Context, queue, tenant string) (int64, error) {
	now := s.now()
	// language=MariaDB
	const stmt = `DELETE C FROM claims AS C JOIN queues AS Q ON C.qid = Q.id
WHERE Q.tenant = ? AND Q.name = ? AND C.expires <= ?;`
	var removed int64
	err := s.Do(ctx, "claims.gc", func() error {
		res, err := s.DB.ExecContext(ctx, stmt, tenant, queue, now)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	s.Metrics.GCClaimsRemoved.Inc(removed)
	return removed, nil
}

// evict drops an expired claim record found by a reader.
// Failures are only logged: stale records never affect visibility.
func (s *ClaimStore) evict(ctx context.Context, claimID string) {
	// language=MariaDB
	const stmt = `DELETE FROM claims WHERE id = ? AND expires <= ?;`
	if _, err := s.DB.ExecContext(ctx, stmt, claimID, s.now()); err != nil {
		s.Log.Warn("Failed to evict expired claim",
			zap.String("claim.id", claimID),
			zap.Error(err))
	}
}

func getClaim(ctx context.Context, tx *sqlx.Tx, queue, claimID, tenant string, lock bool) (claimRow, error) {
	// language=MariaDB
	stmt := `SELECT C.id, C.qid, C.ttl, C.expires
FROM claims AS C JOIN queues AS Q ON C.qid = Q.id
WHERE C.id = ? AND Q.tenant = ? AND Q.name = ?`
	if lock {
		stmt += ` FOR UPDATE`
	}
	var claim claimRow
	err := tx.GetContext(ctx, &claim, stmt+";", claimID, tenant, queue)
	if errors.Is(err, sql.ErrNoRows) {
		return claimRow{}, storage.ClaimNotFound(claimID)
	}
	return claim, err
}

// execIn runs a statement with an IN (?) clause expanded by sqlx.In.
func execIn(ctx context.Context, tx *sqlx.Tx, stmt string, args ...interface{}) error {
	query, inArgs, err := sqlx.In(stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to compile WHERE IN query: %w", err)
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(query), inArgs...)
	return err
}
