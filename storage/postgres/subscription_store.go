package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/relaybus/relaybus/subscription"
)

type subscriptionStore struct {
	db *sql.DB
}

// NewSubscriptionStore returns a subscription.Store backed by db.
func NewSubscriptionStore(db *sql.DB) subscription.Store {
	return &subscriptionStore{db: db}
}

func (s *subscriptionStore) Add(ctx context.Context, sub subscription.Subscriber) error {
	query := `
		INSERT INTO relaybus_subscribers (topic, uri, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (topic, uri) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query, sub.Topic, sub.URI, nullableTime(sub.ExpiresAt))
	return err
}

func (s *subscriptionStore) Remove(ctx context.Context, topic, uri string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM relaybus_subscribers WHERE topic = $1 AND uri = $2`, topic, uri)
	return err
}

func (s *subscriptionStore) List(ctx context.Context, topic string) ([]subscription.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT topic, uri, expires_at FROM relaybus_subscribers WHERE topic = $1`, topic)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []subscription.Subscriber
	for rows.Next() {
		var (
			sub       subscription.Subscriber
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&sub.Topic, &sub.URI, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			sub.ExpiresAt = expiresAt.Time
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *subscriptionStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM relaybus_subscribers WHERE expires_at IS NOT NULL AND expires_at < $1`, before)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: rows affected: %w", err)
	}
	return int(rows), nil
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

var _ subscription.Store = (*subscriptionStore)(nil)
