// Package alerts evaluates the rules of every favorite interested in a
// product against a committed price transition, persists the
// resulting notifications and hands them to a dispatcher.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/events"
	"price-tracker-api/internal/features"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/metrics"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/notify"
	"price-tracker-api/internal/policy"
	"price-tracker-api/internal/rules"
	"price-tracker-api/internal/tracing"
)

// Store is the persistence the evaluator reads and writes.
type Store interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	ListActiveFavoritesByProduct(ctx context.Context, productID string) ([]models.Favorite, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	InsertNotification(ctx context.Context, n models.Notification, idempotencyKey string) (bool, error)
}

// Evaluator runs alert rules after a committed price write.
type Evaluator struct {
	store      Store
	dispatcher notify.Dispatcher
	flags      *features.Manager
	events     *events.Manager
	metrics    *metrics.Metrics
	tracer     *tracing.Tracer
	logger     logger.Logger
	now        func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithFeatures(f *features.Manager) Option { return func(e *Evaluator) { e.flags = f } }
func WithEvents(m *events.Manager) Option     { return func(e *Evaluator) { e.events = m } }
func WithTracer(t *tracing.Tracer) Option     { return func(e *Evaluator) { e.tracer = t } }
func WithClock(now func() time.Time) Option   { return func(e *Evaluator) { e.now = now } }

func NewEvaluator(store Store, dispatcher notify.Dispatcher, m *metrics.Metrics, log logger.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:      store,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates the offer of productID that was updated most recently.
func (e *Evaluator) Evaluate(ctx context.Context, productID string, newPrice float64) ([]models.TriggerEvent, error) {
	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	var latest *models.Offer
	for i := range product.Offers {
		o := &product.Offers[i]
		if latest == nil || o.LastUpdated.After(latest.LastUpdated) {
			latest = o
		}
	}
	if latest == nil {
		return nil, nil
	}
	return e.evaluate(ctx, product, latest, len(latest.Prices)-1, newPrice)
}

// EvaluateOffer evaluates the transition into point on offerID. Points
// appended after it are ignored.
func (e *Evaluator) EvaluateOffer(ctx context.Context, productID, offerID string, point models.PricePoint) ([]models.TriggerEvent, error) {
	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	offer := product.OfferByID(offerID)
	if offer == nil {
		return nil, apperrors.NotFound("offer", offerID)
	}
	idx := pointIndex(offer.Prices, point)
	if idx < 0 {
		e.logger.Warn("Price point not in offer history",
			logger.String("product_id", productID),
			logger.String("offer_id", offerID),
			logger.Time("at", point.Date),
		)
		return nil, nil
	}
	return e.evaluate(ctx, product, offer, idx, point.Value)
}

// pointIndex finds the latest entry of prices equal to point.
func pointIndex(prices []models.PricePoint, point models.PricePoint) int {
	for i := len(prices) - 1; i >= 0; i-- {
		if prices[i].Date.Equal(point.Date) && prices[i].Value == point.Value {
			return i
		}
	}
	return -1
}

// evaluate checks the transition from prices[idx-1] to prices[idx]. It
// returns every trigger whose rule held, including ones whose notification
// already existed. Notification persistence errors are collected and
// returned after the whole batch is processed.
func (e *Evaluator) evaluate(ctx context.Context, product *models.Product, offer *models.Offer, idx int, newPrice float64) ([]models.TriggerEvent, error) {
	ctx, span := e.tracer.StartSpan(ctx, "alerts.Evaluate",
		attribute.String("product_id", product.ID),
		attribute.String("offer_id", offer.ID),
	)
	defer span.End()

	if idx < 1 {
		return nil, nil
	}
	history := make([]float64, idx+1)
	for i, pp := range offer.Prices[:idx+1] {
		history[i] = pp.Value
	}
	transition := rules.Transition{
		ProductName: product.Name,
		OldPrice:    history[idx-1],
		NewPrice:    newPrice,
		History:     history,
	}
	pointAt := offer.Prices[idx].Date

	favorites, err := e.store.ListActiveFavoritesByProduct(ctx, product.ID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}

	plans := make(map[string]models.Plan)
	var triggered []models.TriggerEvent
	for _, fav := range favorites {
		if fav.OfferID != "" && fav.OfferID != offer.ID {
			continue
		}
		plan, err := e.planOf(ctx, fav.UserID, plans)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}

		for _, wire := range fav.Alerts {
			rule, err := rules.Parse(wire)
			if err != nil {
				e.logger.Warn("Skipping malformed stored rule",
					logger.String("favorite_id", fav.ID),
					logger.String("rule", wire.Type),
					logger.Error(err),
				)
				continue
			}
			// rule type only; a downgrade keeps rules already on the favorite
			if !policy.AllowsRuleType(plan, rule.Type()) {
				continue
			}
			fires, message := rule.Evaluate(transition)
			if !fires {
				continue
			}

			ev := models.TriggerEvent{
				UserID:     fav.UserID,
				ProductID:  product.ID,
				Message:    message,
				FavoriteID: fav.ID,
				OfferID:    offer.ID,
				RuleType:   string(rule.Type()),
			}
			if e.flags.IsEnabled(features.FeatureNotificationDedup) {
				ev.IdempotencyKey = IdempotencyKey(fav.ID, rule.Type(), offer.ID, pointAt)
			}
			e.metrics.AlertsTriggered.WithLabelValues(ev.RuleType).Inc()
			triggered = append(triggered, ev)
		}
	}

	var errs []error
	for _, ev := range triggered {
		if err := e.deliver(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	err = errors.Join(errs...)
	tracing.RecordError(span, err)
	span.SetAttributes(attribute.Int("triggered", len(triggered)))
	return triggered, err
}

// planOf resolves a user's plan once per evaluation. Users that no longer
// exist are treated as freemium.
func (e *Evaluator) planOf(ctx context.Context, userID string, cache map[string]models.Plan) (models.Plan, error) {
	if plan, ok := cache[userID]; ok {
		return plan, nil
	}
	plan := models.PlanFreemium
	user, err := e.store.GetUser(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
	case err != nil:
		return "", fmt.Errorf("failed to load user %s: %w", userID, err)
	default:
		plan = user.Plan
	}
	cache[userID] = plan
	return plan, nil
}

// deliver persists ev and, if it is new, dispatches it. Dispatch failures are
// logged and swallowed.
func (e *Evaluator) deliver(ctx context.Context, ev models.TriggerEvent) error {
	n := models.Notification{
		ID:        uuid.New().String(),
		UserID:    ev.UserID,
		ProductID: ev.ProductID,
		Message:   ev.Message,
		CreatedAt: e.now().UTC(),
	}
	inserted, err := e.store.InsertNotification(ctx, n, ev.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("failed to persist notification for favorite %s: %w", ev.FavoriteID, err)
	}
	if !inserted {
		e.metrics.NotificationsDeduplicated.Inc()
		e.logger.Debug("Notification already delivered",
			logger.String("favorite_id", ev.FavoriteID),
			logger.String("rule", ev.RuleType),
		)
		return nil
	}
	e.events.PublishNotificationCreated(ctx, n)

	if err := e.dispatcher.Dispatch(ctx, ev); err != nil {
		e.metrics.DispatchFailures.Inc()
		e.logger.Warn("Notification dispatch failed",
			logger.String("user_id", ev.UserID),
			logger.String("product_id", ev.ProductID),
			logger.String("rule", ev.RuleType),
			logger.Error(err),
		)
	}
	return nil
}

// IdempotencyKey identifies one (favorite, rule, offer, price point) trigger.
func IdempotencyKey(favoriteID string, ruleType rules.Type, offerID string, pointAt time.Time) string {
	return strings.Join([]string{
		favoriteID,
		string(ruleType),
		offerID,
		pointAt.UTC().Format(time.RFC3339Nano),
	}, "|")
}
