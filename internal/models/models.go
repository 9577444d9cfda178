package models

import "time"

// Plan is a user's entitlement tier.
type Plan string

const (
	PlanFreemium Plan = "freemium"
	PlanPremium  Plan = "premium"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	return p == PlanFreemium || p == PlanPremium
}

// User is the subset of the account record the core needs: plan and delivery target.
type User struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Email          string    `json:"email" db:"email"`
	Plan           Plan      `json:"plan" db:"plan_tier"`
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty" db:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PricePoint is one observed price.
type PricePoint struct {
	Value float64   `json:"value"`
	Date  time.Time `json:"date"`
}

// Offer is one source's listing of a product, with its own price history.
type Offer struct {
	ID          string       `json:"id"`
	Source      string       `json:"source"`
	URL         string       `json:"url"`
	Prices      []PricePoint `json:"prices"`
	LastUpdated time.Time    `json:"last_updated"`
}

// LatestPrice returns the most recent price point, if any.
func (o Offer) LatestPrice() (PricePoint, bool) {
	if len(o.Prices) == 0 {
		return PricePoint{}, false
	}
	return o.Prices[len(o.Prices)-1], true
}

// Product is the canonical record for one brand/model/memory/color combination.
type Product struct {
	ID        string    `json:"id"`
	Brand     string    `json:"brand"`
	Model     string    `json:"model"`
	Memory    string    `json:"memory,omitempty"`
	Color     string    `json:"color,omitempty"`
	Name      string    `json:"name"`
	Category  string    `json:"category,omitempty"`
	Currency  string    `json:"currency"`
	ImageURL  string    `json:"image_url,omitempty"`
	ParentID  *string   `json:"parent_id,omitempty"`
	Offers    []Offer   `json:"offers"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OfferBySource returns the offer listed by source, or nil.
func (p *Product) OfferBySource(source string) *Offer {
	for i := range p.Offers {
		if p.Offers[i].Source == source {
			return &p.Offers[i]
		}
	}
	return nil
}

// OfferByID returns the offer with the given id, or nil.
func (p *Product) OfferByID(id string) *Offer {
	for i := range p.Offers {
		if p.Offers[i].ID == id {
			return &p.Offers[i]
		}
	}
	return nil
}

// AllPrices flattens the price history of every offer.
func (p *Product) AllPrices() []PricePoint {
	var out []PricePoint
	for _, o := range p.Offers {
		out = append(out, o.Prices...)
	}
	return out
}

// Candidate is an unreconciled observation of a product's price at one source.
type Candidate struct {
	Brand    string  `json:"brand"`
	Model    string  `json:"model"`
	Memory   string  `json:"memory,omitempty"`
	Color    string  `json:"color,omitempty"`
	Name     string  `json:"name,omitempty"`
	Source   string  `json:"source"`
	URL      string  `json:"url"`
	Price    float64 `json:"price"`
	Category string  `json:"category,omitempty"`
	Currency string  `json:"currency,omitempty"`
	ImageURL string  `json:"image_url,omitempty"`
	ParentID string  `json:"parent_id,omitempty"`
}

// AlertRule is the wire form of a favorite's rule: a type and an optional value.
type AlertRule struct {
	Type  string   `json:"type"`
	Value *float64 `json:"value,omitempty"`
}

// AlertSnapshot archives a replaced rule set.
type AlertSnapshot struct {
	Alerts     []AlertRule `json:"alerts"`
	ReplacedAt time.Time   `json:"replaced_at"`
}

// Favorite is a user's subscription to a product, optionally scoped to one offer.
type Favorite struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	ProductID     string          `json:"product_id"`
	OfferID       string          `json:"offer_id,omitempty"`
	Alerts        []AlertRule     `json:"alerts"`
	AlertsHistory []AlertSnapshot `json:"alerts_history"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ProductSummary is the short form of a product shown next to a favorite.
type ProductSummary struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Brand       string   `json:"brand"`
	ImageURL    string   `json:"image_url,omitempty"`
	LatestPrice *float64 `json:"latest_price,omitempty"`
}

// FavoriteDetails is a favorite with a summary of its product.
type FavoriteDetails struct {
	Favorite
	Product *ProductSummary `json:"product,omitempty"`
}

// Notification is a materialized alert trigger.
type Notification struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	ProductID string    `json:"product_id" db:"product_id"`
	Message   string    `json:"message" db:"message"`
	Read      bool      `json:"read" db:"is_read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TriggerEvent is the output of one rule whose condition held.
type TriggerEvent struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Message   string `json:"message"`

	FavoriteID     string `json:"-"`
	OfferID        string `json:"-"`
	RuleType       string `json:"-"`
	IdempotencyKey string `json:"-"`
}

// PriceStats summarizes a set of prices.
type PriceStats struct {
	Average float64 `json:"average"`
	StdDev  float64 `json:"std_dev"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	P25     float64 `json:"p25"`
	P50     float64 `json:"p50"`
	P75     float64 `json:"p75"`
}

// PriceAnalysis is the read model returned for a product's price history.
type PriceAnalysis struct {
	ProductID    string       `json:"product_id"`
	Stats        PriceStats   `json:"analysis"`
	PriceHistory []PricePoint `json:"price_history"`
}

// ViewSummary aggregates a product's view counters relative to a point in time.
type ViewSummary struct {
	ProductID string `db:"product_id"`
	Last3Days int64  `db:"last_3_days"`
	Last7Days int64  `db:"last_7_days"`
	Total     int64  `db:"total"`
}

// TrendingProduct is a product with its trending score.
type TrendingProduct struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name,omitempty"`
	Score     float64 `json:"score"`
}

// CreateUserRequest is the body for POST /users.
type CreateUserRequest struct {
	Name           string `json:"name"`
	Email          string `json:"email"`
	Plan           Plan   `json:"plan,omitempty"`
	TelegramChatID *int64 `json:"telegram_chat_id,omitempty"`
}

// UpdatePlanRequest is the body for PUT /users/{user_id}/plan.
type UpdatePlanRequest struct {
	Plan Plan `json:"plan"`
}

// CreateFavoriteRequest is the body for POST /users/{user_id}/favorites.
type CreateFavoriteRequest struct {
	ProductID string      `json:"product_id"`
	OfferID   string      `json:"offer_id,omitempty"`
	Alerts    []AlertRule `json:"alerts"`
}

// UpdateFavoriteRequest is the body for PUT /users/{user_id}/favorites/{id}.
type UpdateFavoriteRequest struct {
	Alerts []AlertRule `json:"alerts"`
}

// CountResponse carries a single count.
type CountResponse struct {
	Count int `json:"count"`
}

// BatchReconcileRequest is the body for POST /products/batch.
type BatchReconcileRequest struct {
	Candidates []Candidate `json:"candidates"`
}

// IngestSummary reports the outcome of a batch ingestion.
type IngestSummary struct {
	Reconciled    int      `json:"reconciled"`
	Rejected      int      `json:"rejected"`
	FailedSources []string `json:"failed_sources,omitempty"`
}

// AssignCategoryRequest is the body for POST /products/assign-category.
type AssignCategoryRequest struct {
	ProductIDs []string `json:"product_ids"`
	Category   string   `json:"category"`
}

// UpdateParentRequest is the body for PATCH /products/{id}/parent. A nil
// ParentID clears the link.
type UpdateParentRequest struct {
	ParentID *string `json:"parent_id"`
}

// RecordViewRequest is the body for POST /products/{id}/views.
type RecordViewRequest struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
