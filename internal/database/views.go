package database

import (
	"context"
	"fmt"
	"time"

	"price-tracker-api/internal/models"
)

const dayLayout = "2006-01-02"

// RecordView increments the per-day counter for (product, day, user, device).
func (db *DB) RecordView(ctx context.Context, productID, userID, deviceID string, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `INSERT INTO product_views (product_id, view_date, user_id, device_id, view_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT (product_id, view_date, user_id, device_id) DO UPDATE SET view_count = view_count + 1`,
		productID, at.UTC().Format(dayLayout), userID, deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to record view: %w", mapError(err))
	}
	return nil
}

// ViewSummaries aggregates view counters for every product, relative to now.
// "Last 3 days" covers today and the two days before it. Products are
// returned in creation order.
func (db *DB) ViewSummaries(ctx context.Context, now time.Time) ([]models.ViewSummary, error) {
	today := now.UTC()
	since3 := today.AddDate(0, 0, -2).Format(dayLayout)
	since7 := today.AddDate(0, 0, -6).Format(dayLayout)

	out := []models.ViewSummary{}
	err := db.conn.SelectContext(ctx, &out, `SELECT p.id AS product_id,
			COALESCE(SUM(CASE WHEN v.view_date >= ? THEN v.view_count ELSE 0 END), 0) AS last_3_days,
			COALESCE(SUM(CASE WHEN v.view_date >= ? THEN v.view_count ELSE 0 END), 0) AS last_7_days,
			COALESCE(SUM(v.view_count), 0) AS total
		FROM products p LEFT JOIN product_views v ON v.product_id = p.id
		GROUP BY p.id
		ORDER BY p.created_at, p.id`, since3, since7)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize views: %w", err)
	}
	return out, nil
}
