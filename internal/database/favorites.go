package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/models"
)

const favoriteColumns = `id, user_id, product_id, offer_id, alerts, alerts_history, is_active, created_at, updated_at`

type favoriteRow struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	ProductID     string    `db:"product_id"`
	OfferID       string    `db:"offer_id"`
	Alerts        string    `db:"alerts"`
	AlertsHistory string    `db:"alerts_history"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

func (r favoriteRow) toModel() (models.Favorite, error) {
	f := models.Favorite{
		ID:            r.ID,
		UserID:        r.UserID,
		ProductID:     r.ProductID,
		OfferID:       r.OfferID,
		Alerts:        []models.AlertRule{},
		AlertsHistory: []models.AlertSnapshot{},
		IsActive:      r.IsActive,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Alerts), &f.Alerts); err != nil {
		return f, fmt.Errorf("failed to decode alerts of favorite %s: %w", r.ID, err)
	}
	if r.AlertsHistory != "" {
		if err := json.Unmarshal([]byte(r.AlertsHistory), &f.AlertsHistory); err != nil {
			return f, fmt.Errorf("failed to decode alerts history of favorite %s: %w", r.ID, err)
		}
	}
	return f, nil
}

func encodeRules(f models.Favorite) (alerts, history string, err error) {
	a, err := json.Marshal(f.Alerts)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode alerts: %w", err)
	}
	snapshots := f.AlertsHistory
	if snapshots == nil {
		snapshots = []models.AlertSnapshot{}
	}
	h, err := json.Marshal(snapshots)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode alerts history: %w", err)
	}
	return string(a), string(h), nil
}

// CreateFavorite inserts a favorite. A second active favorite for the same
// user and product returns apperrors.ErrDuplicate.
func (db *DB) CreateFavorite(ctx context.Context, f models.Favorite) error {
	return createFavorite(ctx, db.conn, f)
}

// CreateFavorite inserts a favorite inside the transaction.
func (t *Tx) CreateFavorite(ctx context.Context, f models.Favorite) error {
	return createFavorite(ctx, t.tx, f)
}

func createFavorite(ctx context.Context, e sqlx.ExecerContext, f models.Favorite) error {
	alerts, history, err := encodeRules(f)
	if err != nil {
		return err
	}
	_, err = e.ExecContext(ctx, `INSERT INTO favorites (`+favoriteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.ProductID, f.OfferID, alerts, history, f.IsActive, f.CreatedAt.UTC(), f.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: favorite for product %s", apperrors.ErrDuplicate, f.ProductID)
	}
	if err != nil {
		return fmt.Errorf("failed to create favorite: %w", err)
	}
	return nil
}

// GetFavorite returns one of the user's favorites, active or not.
func (db *DB) GetFavorite(ctx context.Context, userID, id string) (*models.Favorite, error) {
	var row favoriteRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT `+favoriteColumns+` FROM favorites WHERE id = ? AND user_id = ?`, id, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("favorite", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get favorite: %w", err)
	}
	f, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListActiveFavorites returns a user's active favorites, oldest first.
func (db *DB) ListActiveFavorites(ctx context.Context, userID string) ([]models.Favorite, error) {
	return db.selectFavorites(ctx, `WHERE user_id = ? AND is_active = 1`, userID)
}

// ListActiveFavoritesByProduct returns every active favorite on a product.
func (db *DB) ListActiveFavoritesByProduct(ctx context.Context, productID string) ([]models.Favorite, error) {
	return db.selectFavorites(ctx, `WHERE product_id = ? AND is_active = 1`, productID)
}

func (db *DB) selectFavorites(ctx context.Context, where string, args ...any) ([]models.Favorite, error) {
	var rows []favoriteRow
	if err := db.conn.SelectContext(ctx, &rows,
		`SELECT `+favoriteColumns+` FROM favorites `+where+` ORDER BY created_at, id`, args...); err != nil {
		return nil, fmt.Errorf("failed to query favorites: %w", err)
	}
	out := make([]models.Favorite, 0, len(rows))
	for _, r := range rows {
		f, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// CountActiveFavorites returns how many active favorites the user has.
func (db *DB) CountActiveFavorites(ctx context.Context, userID string) (int, error) {
	return countActiveFavorites(ctx, db.conn, userID)
}

// CountActiveFavorites counts inside the transaction.
func (t *Tx) CountActiveFavorites(ctx context.Context, userID string) (int, error) {
	return countActiveFavorites(ctx, t.tx, userID)
}

func countActiveFavorites(ctx context.Context, q sqlx.QueryerContext, userID string) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM favorites WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count favorites: %w", err)
	}
	return n, nil
}

// UpdateFavoriteAlerts stores the favorite's current rules and history.
func (db *DB) UpdateFavoriteAlerts(ctx context.Context, f models.Favorite) error {
	alerts, history, err := encodeRules(f)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE favorites SET alerts = ?, alerts_history = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		alerts, history, f.UpdatedAt.UTC(), f.ID, f.UserID)
	if err != nil {
		return fmt.Errorf("failed to update favorite: %w", err)
	}
	return requireRow(res, "favorite", f.ID)
}

// DeactivateFavorite soft-deletes an active favorite.
func (db *DB) DeactivateFavorite(ctx context.Context, userID, id string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE favorites SET is_active = 0, updated_at = ? WHERE id = ? AND user_id = ? AND is_active = 1`,
		at.UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to deactivate favorite: %w", err)
	}
	return requireRow(res, "favorite", id)
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound(resource, id)
	}
	return nil
}
