package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func insertProduct(t *testing.T, db *DB, key string, prices ...float64) *models.Product {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	p := models.Product{
		ID:        uuid.New().String(),
		Brand:     "Apple",
		Model:     "iPhone 15",
		Memory:    "128GB",
		Color:     "black",
		Name:      "Apple iPhone 15 (128GB) - black",
		CreatedAt: now,
		UpdatedAt: now,
	}
	offer := models.Offer{ID: uuid.New().String(), Source: "amazon", URL: "https://amazon.es/dp/1", LastUpdated: now}

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertProduct(ctx, p, key); err != nil {
			return err
		}
		if err := tx.InsertOffer(ctx, p.ID, offer); err != nil {
			return err
		}
		for i, v := range prices {
			pp := models.PricePoint{Value: v, Date: now.Add(time.Duration(i) * time.Millisecond)}
			if err := tx.AppendPricePoint(ctx, offer.ID, pp); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err := db.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	return got
}

func TestProductAggregate_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	p := insertProduct(t, db, "apple\x1fiphone 15\x1f128gb\x1fblack", 100, 80)

	require.Len(t, p.Offers, 1)
	assert.Equal(t, "amazon", p.Offers[0].Source)
	require.Len(t, p.Offers[0].Prices, 2)
	assert.Equal(t, 100.0, p.Offers[0].Prices[0].Value)
	assert.Equal(t, 80.0, p.Offers[0].Prices[1].Value)
	assert.False(t, p.Offers[0].Prices[1].Date.Before(p.Offers[0].Prices[0].Date))
	assert.Nil(t, p.ParentID)
}

func TestInsertProduct_DuplicateIdentityIsConflict(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	insertProduct(t, db, "same-key")

	now := time.Now()
	err := db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertProduct(ctx, models.Product{ID: uuid.New().String(), Brand: "a", Model: "b", Name: "c", CreatedAt: now, UpdatedAt: now}, "same-key")
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInsertOffer_DuplicateSourceIsConflict(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := insertProduct(t, db, "k", 10)

	err := db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertOffer(ctx, p.ID, models.Offer{ID: uuid.New().String(), Source: "amazon", URL: "https://x.com/a", LastUpdated: time.Now()})
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestTx_FindAndUpdate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := insertProduct(t, db, "k", 10)

	later := time.Now().Add(time.Minute)
	err := db.WithTx(ctx, func(tx *Tx) error {
		id, found, err := tx.FindProductIDByIdentity(ctx, "k")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, p.ID, id)

		_, found, err = tx.FindProductIDByIdentity(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)

		offerID, url, found, err := tx.FindOffer(ctx, p.ID, "amazon")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "https://amazon.es/dp/1", url)

		require.NoError(t, tx.UpdateOffer(ctx, offerID, "https://amazon.es/dp/2", later))
		require.NoError(t, tx.AppendPricePoint(ctx, offerID, models.PricePoint{Value: 9, Date: later}))
		return tx.TouchProduct(ctx, p.ID, later, "phones", "https://img/1.png")
	})
	require.NoError(t, err)

	got, err := db.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://amazon.es/dp/2", got.Offers[0].URL)
	assert.Len(t, got.Offers[0].Prices, 2)
	assert.Equal(t, "phones", got.Category)
	assert.Equal(t, "https://img/1.png", got.ImageURL)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithTx(ctx, func(tx *Tx) error {
		now := time.Now()
		require.NoError(t, tx.InsertProduct(ctx, models.Product{ID: uuid.New().String(), Brand: "a", Model: "b", Name: "c", CreatedAt: now, UpdatedAt: now}, "k"))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := db.CountProducts(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestProductAdministration(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	parent := insertProduct(t, db, "parent")
	child := insertProduct(t, db, "child")
	now := time.Now()

	uncategorized, err := db.ListUncategorized(ctx)
	require.NoError(t, err)
	assert.Len(t, uncategorized, 2)

	n, err := db.AssignCategory(ctx, []string{parent.ID, child.ID}, "Smartphones", now)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	byCategory, err := db.ListByCategory(ctx, "smartphones")
	require.NoError(t, err)
	assert.Len(t, byCategory, 2)

	require.NoError(t, db.SetParent(ctx, child.ID, &parent.ID, now))
	children, err := db.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)

	require.NoError(t, db.SetParent(ctx, child.ID, nil, now))
	children, err = db.ListChildren(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, children)

	require.NoError(t, db.DeleteProduct(ctx, child.ID, now))
	_, err = db.GetProduct(ctx, child.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, db.DeleteProduct(ctx, child.ID, now), apperrors.ErrNotFound)
}

func createUser(t *testing.T, db *DB, plan models.Plan) models.User {
	t.Helper()
	u := models.User{ID: uuid.New().String(), Name: "Ana", Email: "ana@example.com", Plan: plan, CreatedAt: time.Now().UTC()}
	require.NoError(t, db.CreateUser(context.Background(), u))
	return u
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createUser(t, db, models.PlanFreemium)

	got, err := db.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFreemium, got.Plan)
	assert.Nil(t, got.TelegramChatID)

	require.NoError(t, db.UpdateUserPlan(ctx, u.ID, models.PlanPremium))
	got, err = db.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanPremium, got.Plan)

	_, err = db.GetUser(ctx, "nope")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.ErrorIs(t, db.UpdateUserPlan(ctx, "nope", models.PlanPremium), apperrors.ErrNotFound)
}

func TestFavorites(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createUser(t, db, models.PlanFreemium)
	p := insertProduct(t, db, "k")
	now := time.Now()

	fav := models.Favorite{
		ID: uuid.New().String(), UserID: u.ID, ProductID: p.ID,
		Alerts:   []models.AlertRule{{Type: "price_dropped"}},
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateFavorite(ctx, fav))

	dup := fav
	dup.ID = uuid.New().String()
	assert.ErrorIs(t, db.CreateFavorite(ctx, dup), apperrors.ErrDuplicate)

	count, err := db.CountActiveFavorites(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	fav.AlertsHistory = []models.AlertSnapshot{{Alerts: fav.Alerts, ReplacedAt: now}}
	fav.Alerts = []models.AlertRule{{Type: "price_changed"}}
	require.NoError(t, db.UpdateFavoriteAlerts(ctx, fav))

	got, err := db.GetFavorite(ctx, u.ID, fav.ID)
	require.NoError(t, err)
	assert.Equal(t, "price_changed", got.Alerts[0].Type)
	require.Len(t, got.AlertsHistory, 1)
	assert.Equal(t, "price_dropped", got.AlertsHistory[0].Alerts[0].Type)

	byProduct, err := db.ListActiveFavoritesByProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, byProduct, 1)

	require.NoError(t, db.DeactivateFavorite(ctx, u.ID, fav.ID, now))
	assert.ErrorIs(t, db.DeactivateFavorite(ctx, u.ID, fav.ID, now), apperrors.ErrNotFound)

	active, err := db.ListActiveFavorites(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	// a deactivated favorite no longer blocks a new one
	require.NoError(t, db.CreateFavorite(ctx, dup))
}

func TestDeleteProduct_KeepsFavoritesAndNotifications(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	u := createUser(t, db, models.PlanPremium)
	p := insertProduct(t, db, "k", 100, 80)
	now := time.Now()

	fav := models.Favorite{
		ID: uuid.New().String(), UserID: u.ID, ProductID: p.ID,
		Alerts:   []models.AlertRule{{Type: "price_dropped"}},
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, db.CreateFavorite(ctx, fav))
	n := models.Notification{ID: uuid.New().String(), UserID: u.ID, ProductID: p.ID, Message: "m", CreatedAt: now}
	_, err := db.InsertNotification(ctx, n, "")
	require.NoError(t, err)

	require.NoError(t, db.DeleteProduct(ctx, p.ID, now))

	list, err := db.ListNotifications(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].ProductID)

	got, err := db.GetFavorite(ctx, u.ID, fav.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "price_dropped", got.Alerts[0].Type)

	count, err := db.CountActiveFavorites(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestNotifications_IdempotencyKey(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := insertProduct(t, db, "k")

	n := models.Notification{ID: uuid.New().String(), UserID: "u1", ProductID: p.ID, Message: "m", CreatedAt: time.Now()}
	inserted, err := db.InsertNotification(ctx, n, "fav|price_dropped|offer|ts")
	require.NoError(t, err)
	assert.True(t, inserted)

	n2 := n
	n2.ID = uuid.New().String()
	inserted, err = db.InsertNotification(ctx, n2, "fav|price_dropped|offer|ts")
	require.NoError(t, err)
	assert.False(t, inserted)

	// no key, no dedup
	for i := 0; i < 2; i++ {
		n3 := n
		n3.ID = uuid.New().String()
		n3.CreatedAt = n.CreatedAt.Add(time.Duration(i+1) * time.Second)
		inserted, err = db.InsertNotification(ctx, n3, "")
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	list, err := db.ListNotifications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.True(t, list[0].CreatedAt.After(list[2].CreatedAt))

	require.NoError(t, db.MarkNotificationRead(ctx, "u1", n.ID))
	assert.ErrorIs(t, db.MarkNotificationRead(ctx, "someone-else", n.ID), apperrors.ErrNotFound)
}

func TestViewSummaries(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	a := insertProduct(t, db, "a")
	b := insertProduct(t, db, "b")
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordView(ctx, a.ID, "u1", "d1", now))
	require.NoError(t, db.RecordView(ctx, a.ID, "u1", "d1", now))
	require.NoError(t, db.RecordView(ctx, a.ID, "u2", "d2", now.AddDate(0, 0, -5)))
	require.NoError(t, db.RecordView(ctx, a.ID, "u2", "d2", now.AddDate(0, 0, -30)))

	summaries, err := db.ViewSummaries(ctx, now)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, models.ViewSummary{ProductID: a.ID, Last3Days: 2, Last7Days: 3, Total: 4}, summaries[0])
	assert.Equal(t, models.ViewSummary{ProductID: b.ID}, summaries[1])
}

func TestWithTx_MapsUniqueViolationToConflict(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := NewFromConn(sqlx.NewDb(mockDB, "sqlite3"))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO products").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique})
	mock.ExpectRollback()

	err = db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertProduct(ctx, models.Product{ID: "p1"}, "k")
	})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_OtherErrorsAreNotConflicts(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	db := NewFromConn(sqlx.NewDb(mockDB, "sqlite3"))
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO offers").
		WillReturnError(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey})
	mock.ExpectRollback()

	err = db.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertOffer(ctx, "p1", models.Offer{ID: "o1"})
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, apperrors.ErrConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}
