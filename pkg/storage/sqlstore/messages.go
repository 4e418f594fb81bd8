package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.od2.network/queues/pkg/opaque"
	"go.od2.network/queues/pkg/storage"
	"go.uber.org/zap"
)

// MessageStore implements storage.MessageStore.
type MessageStore struct {
	*Driver
}

type messageRow struct {
	ID           int64          `db:"id"`
	QID          int64          `db:"qid"`
	TTL          int64          `db:"ttl"`
	Content      string         `db:"content"`
	Client       string         `db:"client"`
	Created      int64          `db:"created"`
	ClaimID      sql.NullString `db:"claim_id"`
	ClaimExpires sql.NullInt64  `db:"claim_expires"`
}

func (r *messageRow) toBasic(now int64) *storage.Message {
	return &storage.Message{
		ID:   opaque.EncodeMessageID(r.ID),
		TTL:  r.TTL,
		Age:  now - r.Created,
		Body: json.RawMessage(r.Content),
	}
}

// List returns visible messages in ascending ID order.
func (s *MessageStore) List(ctx context.Context, queue, tenant string, opts storage.ListOptions) ([]*storage.Message, error) {
	var after int64
	if opts.Marker != "" {
		var err error
		after, err = opaque.DecodeMarker(opts.Marker)
		if err != nil {
			return nil, nil
		}
	}
	if opts.Limit <= 0 {
		return nil, nil
	}
	now := s.now()
	var rows []messageRow
	var query strings.Builder
	// language=MariaDB
	query.WriteString(`SELECT id, ttl, content, created FROM messages
WHERE qid = ? AND created + ttl > ? AND (claim_id IS NULL OR claim_expires <= ?)`)
	args := []interface{}{0, now, now}
	if !opts.Echo {
		query.WriteString(` AND client <> ?`)
		args = append(args, opts.ClientID)
	}
	if opts.Marker != "" {
		query.WriteString(` AND id > ?`)
		args = append(args, after)
	}
	query.WriteString(` ORDER BY id LIMIT ?;`)
	args = append(args, opts.Limit)
	err := s.Tx(ctx, Deferred, "messages.list", func(tx *sqlx.Tx) error {
		rows = rows[:0]
		qid, cached, err := s.queueID(ctx, tx, queue, tenant)
		if err != nil {
			return err
		}
		args[0] = qid
		if err := tx.SelectContext(ctx, &rows, query.String(), args...); err != nil {
			return err
		}
		if len(rows) > 0 || !cached {
			return nil
		}
		// The cached ID might belong to a queue deleted by another process.
		fresh, err := s.lookupQueueID(ctx, tx, queue, tenant)
		if err != nil || fresh == qid {
			return err
		}
		args[0] = fresh
		return tx.SelectContext(ctx, &rows, query.String(), args...)
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]*storage.Message, len(rows))
	for i := range rows {
		msgs[i] = rows[i].toBasic(now)
		msgs[i].Marker = opaque.EncodeMarker(rows[i].ID)
	}
	return msgs, nil
}

// Get returns a live message.
func (s *MessageStore) Get(ctx context.Context, queue, messageID, tenant string) (*storage.Message, error) {
	id, err := opaque.DecodeMessageID(messageID)
	if err != nil {
		return nil, storage.MessageNotFound(messageID)
	}
	now := s.now()
	// language=MariaDB
	const stmt = `SELECT M.id, M.ttl, M.content, M.created
FROM queues AS Q JOIN messages AS M ON M.qid = Q.id
WHERE M.id = ? AND Q.tenant = ? AND Q.name = ? AND M.created + M.ttl > ?;`
	var row messageRow
	err = s.Do(ctx, "messages.get", func() error {
		return s.DB.GetContext(ctx, &row, stmt, id, tenant, queue, now)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.MessageNotFound(messageID)
	} else if err != nil {
		return nil, err
	}
	return row.toBasic(now), nil
}

// Post purges expired messages of the queue and inserts a batch.
// IDs continue from the highest ID in the store.
func (s *MessageStore) Post(ctx context.Context, queue string, messages []storage.NewMessage, tenant, clientID string) ([]string, error) {
	if len(messages) == 0 {
		return nil, nil
	}
	for i, msg := range messages {
		if err := storage.ValidateMessage(msg); err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
	}
	now := s.now()
	var first int64
	err := s.Tx(ctx, Immediate, "messages.post", func(tx *sqlx.Tx) error {
		qid, err := lockQueue(ctx, tx, queue, tenant)
		if err != nil {
			return err
		}
		// language=MariaDB
		const purgeStmt = `DELETE FROM messages WHERE qid = ? AND created + ttl <= ?;`
		purged, err := tx.ExecContext(ctx, purgeStmt, qid, now)
		if err != nil {
			return fmt.Errorf("failed to purge expired messages: %w", err)
		}
		if n, _ := purged.RowsAffected(); n > 0 {
			s.Log.Debug("Purged expired messages",
				zap.String("queue", queue),
				zap.Int64("messages.purged", n))
		}
		// Serialize ID allocation across queues.
		// language=MariaDB
		const seqStmt = `SELECT id FROM message_seq WHERE id = 1 FOR UPDATE;`
		var seq int
		if err := tx.GetContext(ctx, &seq, seqStmt); err != nil {
			return fmt.Errorf("failed to lock message sequence: %w", err)
		}
		// language=MariaDB
		const maxStmt = `SELECT COALESCE(MAX(id) + 1, ?) FROM messages;`
		if err := tx.GetContext(ctx, &first, maxStmt, int64(firstMessageID)); err != nil {
			return err
		}
		rows := make([]messageRow, len(messages))
		for i, msg := range messages {
			rows[i] = messageRow{
				ID:      first + int64(i),
				QID:     qid,
				TTL:     msg.TTL,
				Content: string(msg.Body),
				Client:  clientID,
				Created: now,
			}
		}
		// language=MariaDB
		const insertStmt = `INSERT INTO messages (id, qid, ttl, content, client, created)
VALUES (:id, :qid, :ttl, :content, :client, :created);`
		_, err = tx.NamedExecContext(ctx, insertStmt, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.MessagesPosted.Inc(int64(len(messages)))
	ids := make([]string, len(messages))
	for i := range ids {
		ids[i] = opaque.EncodeMessageID(first + int64(i))
	}
	return ids, nil
}

// Delete removes a message.
// If claimID is set, the message must be held by that live claim.
func (s *MessageStore) Delete(ctx context.Context, queue, messageID, tenant, claimID string) error {
	id, err := opaque.DecodeMessageID(messageID)
	if err != nil {
		return nil
	}
	if claimID == "" {
		// language=MariaDB
		const stmt = `DELETE M FROM messages AS M JOIN queues AS Q ON M.qid = Q.id
WHERE M.id = ? AND Q.tenant = ? AND Q.name = ?;`
		var deleted int64
		err := s.Do(ctx, "messages.delete", func() error {
			res, err := s.DB.ExecContext(ctx, stmt, id, tenant, queue)
			if err != nil {
				return err
			}
			deleted, err = res.RowsAffected()
			return err
		})
		if err == nil {
			s.Metrics.MessagesDeleted.Inc(deleted)
		}
		return err
	}
	now := s.now()
	return s.Tx(ctx, Immediate, "messages.delete_claimed", func(tx *sqlx.Tx) error {
		qid, err := lockQueue(ctx, tx, queue, tenant)
		if errors.Is(err, storage.ErrQueueNotFound) {
			return nil
		} else if err != nil {
			return err
		}
		// language=MariaDB
		const selectStmt = `SELECT claim_id, claim_expires FROM messages WHERE id = ? AND qid = ? FOR UPDATE;`
		var row messageRow
		err = tx.GetContext(ctx, &row, selectStmt, id, qid)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		} else if err != nil {
			return err
		}
		if !row.ClaimID.Valid || row.ClaimID.String != claimID ||
			!row.ClaimExpires.Valid || row.ClaimExpires.Int64 <= now {
			return fmt.Errorf("%w: message %s, claim %s", storage.ErrClaimMismatch, messageID, claimID)
		}
		// Claim membership is derived from messages.claim_id,
		// so removing the row also removes it from the claim.
		// language=MariaDB
		const deleteStmt = `DELETE FROM messages WHERE id = ?;`
		if _, err := tx.ExecContext(ctx, deleteStmt, id); err != nil {
			return err
		}
		s.Metrics.MessagesDeleted.Inc(1)
		return nil
	})
}
