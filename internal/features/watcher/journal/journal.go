// Package journal keeps an audit trail of listings handed to notifiers.
package journal

import (
	"context"
	"database/sql"
	"fmt"

	"market-watch/internal/core"
	"market-watch/internal/features/watcher/models"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Store appends and lists deliveries in sqlite.
type Store struct {
	db     *core.Database
	logger *core.Logger
}

func NewStore(db *core.Database, logger *core.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Record appends one delivery.
func (s *Store) Record(ctx context.Context, d models.Delivery) error {
	query := `
		INSERT INTO watcher_deliveries (topic_id, title, price_amount, price_raw, listed_at, link, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var price sql.NullFloat64
	if d.PriceAmount != nil {
		price = sql.NullFloat64{Float64: *d.PriceAmount, Valid: true}
	}

	if _, err := s.db.ExecWithTimeout(ctx, query, d.TopicID, d.Title, price, d.PriceRaw, d.ListedAt.UTC(), d.Link, d.DeliveredAt.UTC()); err != nil {
		return core.NewDatabaseError("failed to record delivery", err)
	}
	return nil
}

// Recent returns the newest deliveries first. An empty topicID lists every
// topic; limit is clamped to a sane range.
func (s *Store) Recent(ctx context.Context, topicID string, limit int) ([]models.Delivery, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	query := `
		SELECT id, topic_id, title, price_amount, COALESCE(price_raw, ''), listed_at, COALESCE(link, ''), delivered_at
		FROM watcher_deliveries`
	args := []interface{}{}
	if topicID != "" {
		query += ` WHERE topic_id = ?`
		args = append(args, topicID)
	}
	query += ` ORDER BY delivered_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryWithTimeout(ctx, query, args...)
	if err != nil {
		return nil, core.NewDatabaseError("failed to query deliveries", err)
	}
	defer rows.Close()

	deliveries := []models.Delivery{}
	for rows.Next() {
		var (
			d     models.Delivery
			price sql.NullFloat64
		)
		if err := rows.Scan(&d.ID, &d.TopicID, &d.Title, &price, &d.PriceRaw, &d.ListedAt, &d.Link, &d.DeliveredAt); err != nil {
			return nil, core.NewDatabaseError("failed to scan delivery", err)
		}
		if price.Valid {
			amount := price.Float64
			d.PriceAmount = &amount
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, core.NewDatabaseError("failed to read deliveries", err)
	}
	return deliveries, nil
}

// Count returns the number of deliveries recorded for topicID, or for all
// topics when topicID is empty.
func (s *Store) Count(ctx context.Context, topicID string) (int, error) {
	query := `SELECT COUNT(*) FROM watcher_deliveries`
	args := []interface{}{}
	if topicID != "" {
		query += ` WHERE topic_id = ?`
		args = append(args, topicID)
	}

	var count int
	if err := s.db.QueryRowWithTimeout(ctx, query, args, &count); err != nil {
		return 0, core.NewDatabaseError(fmt.Sprintf("failed to count deliveries for %q", topicID), err)
	}
	return count, nil
}
