package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"notification-relay/internal/models"
)

const (
	DefaultDeliveriesLimit = 50
	MaxDeliveriesLimit     = 500
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_deliveries (
    event_id     UUID PRIMARY KEY,
    title        TEXT NOT NULL,
    message      TEXT NOT NULL,
    sender       TEXT NOT NULL,
    source_app   TEXT NOT NULL,
    is_priority  BOOLEAN NOT NULL DEFAULT FALSE,
    event_time   TIMESTAMPTZ NOT NULL,
    delivered_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// EnsureSchema creates relay_deliveries if it does not exist.
func (d *DB) EnsureSchema(ctx context.Context) error {
	if _, err := d.q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create relay_deliveries: %w", err)
	}
	return nil
}

// RecordDelivery journals a delivered event. Recording the same event twice
// keeps the first row.
func (d *DB) RecordDelivery(ctx context.Context, ev models.RelayEvent) error {
	query := `
        INSERT INTO relay_deliveries (
            event_id, title, message, sender, source_app, is_priority, event_time, delivered_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (event_id) DO NOTHING`
	_, err := d.q.Exec(ctx, query,
		pgtype.UUID{Bytes: [16]byte(ev.ID), Valid: true}, ev.Title, ev.Message, ev.SenderLabel,
		ev.SourceApp, ev.IsPriority, ev.Timestamp, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record delivery %s: %w", ev.ID, err)
	}
	return nil
}

// RecentDeliveries returns the newest deliveries first. limit is clamped to
// [1, MaxDeliveriesLimit]; 0 means DefaultDeliveriesLimit.
func (d *DB) RecentDeliveries(ctx context.Context, limit int) ([]models.Delivery, error) {
	limit = ClampLimit(limit)
	rows, err := d.q.Query(ctx, `
        SELECT event_id, title, message, sender, source_app, is_priority, event_time, delivered_at
        FROM relay_deliveries
        ORDER BY delivered_at DESC
        LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}
	defer rows.Close()

	out := make([]models.Delivery, 0, limit)
	for rows.Next() {
		var (
			id  pgtype.UUID
			del models.Delivery
		)
		if err := rows.Scan(&id, &del.Title, &del.Message, &del.Sender, &del.SourceApp,
			&del.IsPriority, &del.EventTime, &del.DeliveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		del.EventID = uuid.UUID(id.Bytes)
		out = append(out, del)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate deliveries: %w", err)
	}
	return out, nil
}

// ClampLimit normalizes a page size for RecentDeliveries.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultDeliveriesLimit
	case limit > MaxDeliveriesLimit:
		return MaxDeliveriesLimit
	default:
		return limit
	}
}
