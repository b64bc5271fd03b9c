package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaybus/relaybus/message"
	"github.com/relaybus/relaybus/queue"
)

type queueStore struct {
	db *sql.DB
}

// NewQueueStore returns a queue.Store backed by db.
func NewQueueStore(db *sql.DB) queue.Store {
	return &queueStore{db: db}
}

func (s *queueStore) Insert(ctx context.Context, m queue.QueuedMessage) error {
	headers, err := json.Marshal(m.Message.Headers)
	if err != nil {
		return fmt.Errorf("postgres: marshal headers: %w", err)
	}

	query := `
		INSERT INTO relaybus_queue_messages (id, queue_name, headers, content, sender_principal, attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.ExecContext(ctx, query, m.ID, string(m.Queue), headers, m.Message.Content, m.SenderPrincipal, m.Attempts)
	return err
}

func (s *queueStore) LoadPending(ctx context.Context, q queue.Name) ([]queue.QueuedMessage, error) {
	query := `
		SELECT id, queue_name, headers, content, sender_principal, attempts
		FROM relaybus_queue_messages
		WHERE queue_name = $1 AND acknowledged_at IS NULL AND abandoned_at IS NULL
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, string(q))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []queue.QueuedMessage
	for rows.Next() {
		var (
			rec        queue.QueuedMessage
			queueName  string
			headersRaw []byte
		)
		if err := rows.Scan(&rec.ID, &queueName, &headersRaw, &rec.Message.Content, &rec.SenderPrincipal, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Queue = queue.Name(queueName)

		headers := message.NewHeaders()
		if err := json.Unmarshal(headersRaw, &headers); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal headers for %s: %w", rec.ID, err)
		}
		rec.Message.Headers = headers

		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *queueStore) RecordAttempt(ctx context.Context, id string, attempts int) error {
	result, err := s.db.ExecContext(ctx, `UPDATE relaybus_queue_messages SET attempts = $1 WHERE id = $2`, attempts, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, id)
}

func (s *queueStore) Acknowledge(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE relaybus_queue_messages SET acknowledged_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, id)
}

func (s *queueStore) Abandon(ctx context.Context, id string, at time.Time, attempts int) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE relaybus_queue_messages SET abandoned_at = $1, attempts = $2 WHERE id = $3`, at, attempts, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(result, id)
}

func checkRowsAffected(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("postgres: no queued message %s", id)
	}
	return nil
}

var _ queue.Store = (*queueStore)(nil)
