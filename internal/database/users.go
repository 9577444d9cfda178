package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/models"
)

// CreateUser inserts a user.
func (db *DB) CreateUser(ctx context.Context, u models.User) error {
	_, err := db.conn.NamedExecContext(ctx, `INSERT INTO users (id, name, email, plan_tier, telegram_chat_id, created_at)
		VALUES (:id, :name, :email, :plan_tier, :telegram_chat_id, :created_at)`, u)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", mapError(err))
	}
	return nil
}

// GetUser returns the user or a NotFoundError.
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := db.conn.GetContext(ctx, &u,
		`SELECT id, name, email, plan_tier, telegram_chat_id, created_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("user", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// UpdateUserPlan changes a user's plan.
func (db *DB) UpdateUserPlan(ctx context.Context, id string, plan models.Plan) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE users SET plan_tier = ? WHERE id = ?`, plan, id)
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("user", id)
	}
	return nil
}
