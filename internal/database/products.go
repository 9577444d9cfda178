package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/models"
)

const productColumns = `id, identity_key, brand, model, memory, color, name, category,
	currency, image_url, parent_id, created_at, updated_at`

type productRow struct {
	ID          string         `db:"id"`
	IdentityKey string         `db:"identity_key"`
	Brand       string         `db:"brand"`
	Model       string         `db:"model"`
	Memory      string         `db:"memory"`
	Color       string         `db:"color"`
	Name        string         `db:"name"`
	Category    string         `db:"category"`
	Currency    string         `db:"currency"`
	ImageURL    string         `db:"image_url"`
	ParentID    sql.NullString `db:"parent_id"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (r productRow) toModel() models.Product {
	p := models.Product{
		ID:        r.ID,
		Brand:     r.Brand,
		Model:     r.Model,
		Memory:    r.Memory,
		Color:     r.Color,
		Name:      r.Name,
		Category:  r.Category,
		Currency:  r.Currency,
		ImageURL:  r.ImageURL,
		Offers:    []models.Offer{},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.ParentID.Valid {
		parent := r.ParentID.String
		p.ParentID = &parent
	}
	return p
}

type offerRow struct {
	ID          string    `db:"id"`
	ProductID   string    `db:"product_id"`
	Source      string    `db:"source"`
	URL         string    `db:"url"`
	LastUpdated time.Time `db:"last_updated"`
}

type pricePointRow struct {
	OfferID    string    `db:"offer_id"`
	Value      float64   `db:"value"`
	RecordedAt time.Time `db:"recorded_at"`
}

func nullable(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// FindProductIDByIdentity returns the id of the product with the given
// identity key. found is false when none exists.
func (t *Tx) FindProductIDByIdentity(ctx context.Context, identityKey string) (id string, found bool, err error) {
	err = t.tx.GetContext(ctx, &id, `SELECT id FROM products WHERE identity_key = ?`, identityKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up product identity: %w", err)
	}
	return id, true, nil
}

// InsertProduct inserts the product row only; offers are inserted separately.
func (t *Tx) InsertProduct(ctx context.Context, p models.Product, identityKey string) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO products (`+productColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, identityKey, p.Brand, p.Model, p.Memory, p.Color, p.Name, p.Category,
		p.Currency, p.ImageURL, nullable(p.ParentID), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", mapError(err))
	}
	return nil
}

// TouchProduct sets updated_at and fills category and image url when they
// are still empty.
func (t *Tx) TouchProduct(ctx context.Context, productID string, at time.Time, category, imageURL string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE products SET
			updated_at = ?,
			category = CASE WHEN category = '' THEN ? ELSE category END,
			image_url = CASE WHEN image_url = '' THEN ? ELSE image_url END
		WHERE id = ?`,
		at.UTC(), category, imageURL, productID,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	return nil
}

// FindOffer returns the offer a source holds on a product. found is false
// when the source has not listed the product yet.
func (t *Tx) FindOffer(ctx context.Context, productID, source string) (offerID, url string, found bool, err error) {
	var row offerRow
	err = t.tx.GetContext(ctx, &row,
		`SELECT id, product_id, source, url, last_updated FROM offers WHERE product_id = ? AND source = ?`,
		productID, source,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("failed to look up offer: %w", err)
	}
	return row.ID, row.URL, true, nil
}

// InsertOffer inserts a new offer with no price points.
func (t *Tx) InsertOffer(ctx context.Context, productID string, o models.Offer) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO offers (id, product_id, source, url, last_updated) VALUES (?, ?, ?, ?, ?)`,
		o.ID, productID, o.Source, o.URL, o.LastUpdated.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert offer: %w", mapError(err))
	}
	return nil
}

// UpdateOffer moves the offer url and bumps last_updated.
func (t *Tx) UpdateOffer(ctx context.Context, offerID, url string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE offers SET url = ?, last_updated = ? WHERE id = ?`, url, at.UTC(), offerID)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}
	return nil
}

// AppendPricePoint appends one observation to the offer's history.
func (t *Tx) AppendPricePoint(ctx context.Context, offerID string, pp models.PricePoint) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO price_points (offer_id, value, recorded_at) VALUES (?, ?, ?)`,
		offerID, pp.Value, pp.Date.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append price point: %w", err)
	}
	return nil
}

// LastPriceAt returns the date of the offer's newest price point.
func (t *Tx) LastPriceAt(ctx context.Context, offerID string) (at time.Time, found bool, err error) {
	err = t.tx.GetContext(ctx, &at,
		`SELECT recorded_at FROM price_points WHERE offer_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`, offerID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read last price point: %w", err)
	}
	return at, true, nil
}

// ProductExists reports whether a product with id exists.
func (t *Tx) ProductExists(ctx context.Context, id string) (bool, error) {
	var n int
	if err := t.tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM products WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("failed to check product: %w", err)
	}
	return n > 0, nil
}

// GetProduct loads the aggregate inside the transaction.
func (t *Tx) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return getProduct(ctx, t.tx, id)
}

// GetProduct loads a product with its offers and price history.
func (db *DB) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return getProduct(ctx, db.conn, id)
}

func getProduct(ctx context.Context, q sqlx.ExtContext, id string) (*models.Product, error) {
	products, err := listProducts(ctx, q, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, apperrors.NotFound("product", id)
	}
	return &products[0], nil
}

// listProducts selects products matching where and attaches their offers in
// two bulk queries.
func listProducts(ctx context.Context, q sqlx.ExtContext, where string, args ...any) ([]models.Product, error) {
	var rows []productRow
	query := `SELECT ` + productColumns + ` FROM products ` + where + ` ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}

	products := make([]models.Product, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toModel())
		ids = append(ids, r.ID)
	}
	if len(ids) == 0 {
		return products, nil
	}

	offers, err := loadOffers(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	for i := range products {
		if o, ok := offers[products[i].ID]; ok {
			products[i].Offers = o
		}
	}
	return products, nil
}

func loadOffers(ctx context.Context, q sqlx.ExtContext, productIDs []string) (map[string][]models.Offer, error) {
	query, args, err := sqlx.In(`SELECT id, product_id, source, url, last_updated
		FROM offers WHERE product_id IN (?) ORDER BY rowid`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build offers query: %w", err)
	}
	var offerRows []offerRow
	if err := sqlx.SelectContext(ctx, q, &offerRows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}

	query, args, err = sqlx.In(`SELECT pp.offer_id, pp.value, pp.recorded_at
		FROM price_points pp JOIN offers o ON o.id = pp.offer_id
		WHERE o.product_id IN (?) ORDER BY pp.recorded_at, pp.id`, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build price points query: %w", err)
	}
	var pointRows []pricePointRow
	if err := sqlx.SelectContext(ctx, q, &pointRows, q.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query price points: %w", err)
	}

	points := make(map[string][]models.PricePoint)
	for _, pp := range pointRows {
		points[pp.OfferID] = append(points[pp.OfferID], models.PricePoint{Value: pp.Value, Date: pp.RecordedAt})
	}

	out := make(map[string][]models.Offer)
	for _, r := range offerRows {
		prices := points[r.ID]
		if prices == nil {
			prices = []models.PricePoint{}
		}
		out[r.ProductID] = append(out[r.ProductID], models.Offer{
			ID:          r.ID,
			Source:      r.Source,
			URL:         r.URL,
			Prices:      prices,
			LastUpdated: r.LastUpdated,
		})
	}
	return out, nil
}

// DeleteProduct removes a product with its offers, price points and views.
// Favorites on it are deactivated at at; notifications are kept.
func (db *DB) DeleteProduct(ctx context.Context, id string, at time.Time) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		res, err := tx.tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		if err := requireRow(res, "product", id); err != nil {
			return err
		}
		// favorites and notifications outlive the product
		if _, err := tx.tx.ExecContext(ctx,
			`UPDATE favorites SET is_active = 0, updated_at = ? WHERE product_id = ? AND is_active = 1`,
			at.UTC(), id); err != nil {
			return fmt.Errorf("failed to deactivate favorites: %w", err)
		}
		return nil
	})
}

// CountProducts returns the number of products.
func (db *DB) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.GetContext(ctx, &n, `SELECT COUNT(*) FROM products`); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

// ListUncategorized returns products with no category.
func (db *DB) ListUncategorized(ctx context.Context) ([]models.Product, error) {
	return listProducts(ctx, db.conn, `WHERE category = ''`)
}

// ListByCategory matches category case-insensitively.
func (db *DB) ListByCategory(ctx context.Context, category string) ([]models.Product, error) {
	return listProducts(ctx, db.conn, `WHERE category = ? COLLATE NOCASE`, category)
}

// ListChildren returns the products whose parent is parentID.
func (db *DB) ListChildren(ctx context.Context, parentID string) ([]models.Product, error) {
	return listProducts(ctx, db.conn, `WHERE parent_id = ?`, parentID)
}

// ListProductsByIDs returns the products among ids that exist.
func (db *DB) ListProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}
	where, args, err := sqlx.In(`WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build products query: %w", err)
	}
	return listProducts(ctx, db.conn, db.conn.Rebind(where), args...)
}

// AssignCategory sets category on every listed product and returns how many
// rows changed.
func (db *DB) AssignCategory(ctx context.Context, ids []string, category string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE products SET category = ?, updated_at = ? WHERE id IN (?)`, category, at.UTC(), ids)
	if err != nil {
		return 0, fmt.Errorf("failed to build category update: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, db.conn.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to assign category: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to assign category: %w", err)
	}
	return n, nil
}

// SetParent links or, with a nil parentID, unlinks a product from its family.
func (db *DB) SetParent(ctx context.Context, id string, parentID *string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE products SET parent_id = ?, updated_at = ? WHERE id = ?`,
		nullable(parentID), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set parent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set parent: %w", err)
	}
	if n == 0 {
		return apperrors.NotFound("product", id)
	}
	return nil
}
