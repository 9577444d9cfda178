package service

import (
	"context"

	"github.com/google/uuid"

	"price-tracker-api/internal/database"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/policy"
	"price-tracker-api/internal/rules"
	"price-tracker-api/internal/validation"
)

// CreateFavorite subscribes a user to a product, optionally scoped to one of
// its offers. The user's plan bounds how many favorites and which rules are
// allowed.
func (s *Service) CreateFavorite(ctx context.Context, userID string, req models.CreateFavoriteRequest) (*models.Favorite, error) {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateUUID(req.ProductID, "product_id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateAlertCount(req.Alerts); err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	f := models.Favorite{
		ID:            uuid.New().String(),
		UserID:        userID,
		ProductID:     req.ProductID,
		OfferID:       req.OfferID,
		AlertsHistory: []models.AlertSnapshot{},
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// count and insert share one write transaction so concurrent creates
	// cannot both pass the plan limit
	err = s.db.WithTx(ctx, func(tx *database.Tx) error {
		product, err := tx.GetProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		if req.OfferID != "" && product.OfferByID(req.OfferID) == nil {
			return &validation.ValidationError{Field: "offer_id", Message: "does not belong to the product"}
		}

		active, err := tx.CountActiveFavorites(ctx, userID)
		if err != nil {
			return err
		}
		if err := policy.CheckFavoriteCreate(user.Plan, active); err != nil {
			return err
		}
		parsed, err := policy.CheckRules(user.Plan, req.Alerts)
		if err != nil {
			return err
		}
		f.Alerts = wireRules(parsed)
		return tx.CreateFavorite(ctx, f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// ListFavorites returns the user's active favorites with a summary of each
// product.
func (s *Service) ListFavorites(ctx context.Context, userID string) ([]models.FavoriteDetails, error) {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return nil, err
	}
	if _, err := s.db.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	favs, err := s.db.ListActiveFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(favs))
	for _, f := range favs {
		ids = append(ids, f.ProductID)
	}
	products, err := s.db.ListProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	out := make([]models.FavoriteDetails, 0, len(favs))
	for _, f := range favs {
		d := models.FavoriteDetails{Favorite: f}
		if p, ok := byID[f.ProductID]; ok {
			d.Product = summarize(p)
		}
		out = append(out, d)
	}
	return out, nil
}

// CountFavorites returns how many active favorites the user has.
func (s *Service) CountFavorites(ctx context.Context, userID string) (int, error) {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return 0, err
	}
	return s.db.CountActiveFavorites(ctx, userID)
}

// UpdateFavorite replaces a favorite's rules. The previous set is archived in
// the favorite's history.
func (s *Service) UpdateFavorite(ctx context.Context, userID, id string, req models.UpdateFavoriteRequest) (*models.Favorite, error) {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateUUID(id, "favorite_id"); err != nil {
		return nil, err
	}
	if err := validation.ValidateAlertCount(req.Alerts); err != nil {
		return nil, err
	}

	user, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	f, err := s.db.GetFavorite(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !f.IsActive {
		return nil, &validation.ValidationError{Field: "favorite_id", Message: "favorite is no longer active"}
	}
	parsed, err := policy.CheckRules(user.Plan, req.Alerts)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	f.AlertsHistory = append(f.AlertsHistory, models.AlertSnapshot{Alerts: f.Alerts, ReplacedAt: now})
	f.Alerts = wireRules(parsed)
	f.UpdatedAt = now
	if err := s.db.UpdateFavoriteAlerts(ctx, *f); err != nil {
		return nil, err
	}
	return f, nil
}

// DeleteFavorite deactivates a favorite. Its rules stop being evaluated.
func (s *Service) DeleteFavorite(ctx context.Context, userID, id string) error {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return err
	}
	if err := validation.ValidateUUID(id, "favorite_id"); err != nil {
		return err
	}
	return s.db.DeactivateFavorite(ctx, userID, id, s.now())
}

func summarize(p *models.Product) *models.ProductSummary {
	sum := &models.ProductSummary{
		ID:       p.ID,
		Name:     p.Name,
		Brand:    p.Brand,
		ImageURL: p.ImageURL,
	}
	var latest *models.PricePoint
	for _, o := range p.Offers {
		pp, ok := o.LatestPrice()
		if ok && (latest == nil || pp.Date.After(latest.Date)) {
			latest = &pp
		}
	}
	if latest != nil {
		v := latest.Value
		sum.LatestPrice = &v
	}
	return sum
}

func wireRules(parsed []rules.Rule) []models.AlertRule {
	out := make([]models.AlertRule, len(parsed))
	for i, r := range parsed {
		out[i] = r.Wire()
	}
	return out
}
