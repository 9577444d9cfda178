package database

import (
	"context"
	"database/sql"
	"fmt"

	"price-tracker-api/internal/models"
)

// InsertNotification stores n. When idempotencyKey is set and a notification
// with the same key already exists nothing is written and inserted is false.
func (db *DB) InsertNotification(ctx context.Context, n models.Notification, idempotencyKey string) (inserted bool, err error) {
	key := sql.NullString{String: idempotencyKey, Valid: idempotencyKey != ""}
	res, err := db.conn.ExecContext(ctx, `INSERT INTO notifications
			(id, user_id, product_id, message, is_read, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		n.ID, n.UserID, n.ProductID, n.Message, n.Read, key, n.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to insert notification: %w", err)
	}
	return affected > 0, nil
}

// ListNotifications returns the user's notifications, newest first.
func (db *DB) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	out := []models.Notification{}
	err := db.conn.SelectContext(ctx, &out, `SELECT id, user_id, product_id, message, is_read, created_at
		FROM notifications WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead flips the read flag of one of the user's notifications.
func (db *DB) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return requireRow(res, "notification", id)
}
