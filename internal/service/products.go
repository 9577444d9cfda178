package service

import (
	"context"
	"fmt"

	"price-tracker-api/internal/analysis"
	"price-tracker-api/internal/cache"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/validation"
)

func (s *Service) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if err := validation.ValidateUUID(id, "product_id"); err != nil {
		return nil, err
	}
	return s.db.GetProduct(ctx, id)
}

// DeleteProduct removes a product with its offers and price history.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := validation.ValidateUUID(id, "product_id"); err != nil {
		return err
	}
	if err := s.db.DeleteProduct(ctx, id, s.now()); err != nil {
		return err
	}
	s.invalidate(ctx, cache.AnalysisKey(id))
	s.events.PublishProductDeleted(ctx, id)
	return nil
}

func (s *Service) CountProducts(ctx context.Context) (int, error) {
	return s.db.CountProducts(ctx)
}

func (s *Service) ListUncategorized(ctx context.Context) ([]models.Product, error) {
	return s.db.ListUncategorized(ctx)
}

// ListByCategory matches the category case-insensitively.
func (s *Service) ListByCategory(ctx context.Context, category string) ([]models.Product, error) {
	category = validation.SanitizeString(category)
	if category == "" {
		return nil, &validation.ValidationError{Field: "category", Message: "is required"}
	}
	return s.db.ListByCategory(ctx, category)
}

// AssignCategory sets the category of every listed product and returns how
// many products were updated. Unknown ids are skipped.
func (s *Service) AssignCategory(ctx context.Context, req models.AssignCategoryRequest) (int64, error) {
	category := validation.StripMarkup(req.Category)
	if category == "" {
		return 0, &validation.ValidationError{Field: "category", Message: "is required"}
	}
	if len(req.ProductIDs) == 0 {
		return 0, &validation.ValidationError{Field: "product_ids", Message: "at least one product id is required"}
	}
	for i, id := range req.ProductIDs {
		if err := validation.ValidateUUID(id, fmt.Sprintf("product_ids[%d]", i)); err != nil {
			return 0, err
		}
	}
	return s.db.AssignCategory(ctx, req.ProductIDs, category, s.now())
}

// SetParent links a product to its family product, or unlinks it when
// parentID is nil.
func (s *Service) SetParent(ctx context.Context, id string, parentID *string) (*models.Product, error) {
	if err := validation.ValidateUUID(id, "product_id"); err != nil {
		return nil, err
	}
	if parentID != nil {
		if err := validation.ValidateUUID(*parentID, "parent_id"); err != nil {
			return nil, err
		}
		if *parentID == id {
			return nil, &validation.ValidationError{Field: "parent_id", Message: "a product cannot be its own parent"}
		}
		if _, err := s.db.GetProduct(ctx, *parentID); err != nil {
			return nil, notFoundAs(err, "parent_id", "parent product does not exist")
		}
	}
	if err := s.db.SetParent(ctx, id, parentID, s.now()); err != nil {
		return nil, err
	}
	return s.db.GetProduct(ctx, id)
}

// ListChildren returns the products linked to the given family product.
func (s *Service) ListChildren(ctx context.Context, parentID string) ([]models.Product, error) {
	if err := validation.ValidateUUID(parentID, "product_id"); err != nil {
		return nil, err
	}
	if _, err := s.db.GetProduct(ctx, parentID); err != nil {
		return nil, err
	}
	return s.db.ListChildren(ctx, parentID)
}

// RecordView counts one view of a product for today.
func (s *Service) RecordView(ctx context.Context, productID string, req models.RecordViewRequest) error {
	if err := validation.ValidateUUID(productID, "product_id"); err != nil {
		return err
	}
	userID := validation.SanitizeString(req.UserID)
	deviceID := validation.SanitizeString(req.DeviceID)
	if userID == "" && deviceID == "" {
		return &validation.ValidationError{Field: "device_id", Message: "user_id or device_id is required"}
	}
	if _, err := s.db.GetProduct(ctx, productID); err != nil {
		return err
	}
	return s.db.RecordView(ctx, productID, userID, deviceID, s.now())
}

// Trending returns the n products with the highest trending score. n <= 0
// uses the default.
func (s *Service) Trending(ctx context.Context, n int) ([]models.TrendingProduct, error) {
	if n <= 0 {
		n = defaultTrendingLimit
	}
	if n > maxTrendingLimit {
		return nil, &validation.ValidationError{Field: "limit", Message: fmt.Sprintf("must be at most %d", maxTrendingLimit)}
	}

	key := cache.TrendingKey(n)
	var out []models.TrendingProduct
	if s.cached(ctx, key, &out) {
		return out, nil
	}

	summaries, err := s.db.ViewSummaries(ctx, s.now())
	if err != nil {
		return nil, err
	}
	out = analysis.Trending(summaries, n)

	ids := make([]string, len(out))
	for i, t := range out {
		ids[i] = t.ProductID
	}
	products, err := s.db.ListProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(products))
	for _, p := range products {
		names[p.ID] = p.Name
	}
	for i := range out {
		out[i].Name = names[out[i].ProductID]
	}

	s.store(ctx, key, out)
	return out, nil
}

// Analysis returns price statistics and the chronological price history of
// a product. A product without price points cannot be analysed.
func (s *Service) Analysis(ctx context.Context, productID string) (*models.PriceAnalysis, error) {
	if err := validation.ValidateUUID(productID, "product_id"); err != nil {
		return nil, err
	}

	key := cache.AnalysisKey(productID)
	var a models.PriceAnalysis
	if s.cached(ctx, key, &a) {
		return &a, nil
	}

	p, err := s.db.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	a, ok := analysis.Analyze(p)
	if !ok {
		return nil, &validation.ValidationError{Field: "product_id", Message: "product has no price history"}
	}

	s.store(ctx, key, a)
	return &a, nil
}
