// Package catalog merges candidate records into the canonical
// product/offer/price-point graph.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/database"
	"price-tracker-api/internal/events"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/metrics"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/normalize"
	"price-tracker-api/internal/tracing"
	"price-tracker-api/internal/validation"
)

// DefaultMaxAttempts bounds the create-conflict retry loop.
const DefaultMaxAttempts = 3

// Evaluator is run after every committed price point.
type Evaluator interface {
	EvaluateOffer(ctx context.Context, productID, offerID string, point models.PricePoint) ([]models.TriggerEvent, error)
}

// Store is the transactional persistence the reconciler writes through.
type Store interface {
	WithTx(ctx context.Context, fn func(tx *database.Tx) error) error
}

// Reconciler finds or creates the product a candidate describes and records
// the candidate's price on that product's offer for the candidate's source.
type Reconciler struct {
	store       Store
	evaluator   Evaluator
	events      *events.Manager
	metrics     *metrics.Metrics
	tracer      *tracing.Tracer
	logger      logger.Logger
	maxAttempts int
	now         func() time.Time
}

// Config carries the reconciler's collaborators. Evaluator, Events and Tracer
// are optional.
type Config struct {
	Store       Store
	Evaluator   Evaluator
	Events      *events.Manager
	Metrics     *metrics.Metrics
	Tracer      *tracing.Tracer
	Logger      logger.Logger
	MaxAttempts int
	Now         func() time.Time
}

func NewReconciler(cfg Config) *Reconciler {
	r := &Reconciler{
		store:       cfg.Store,
		evaluator:   cfg.Evaluator,
		events:      cfg.Events,
		metrics:     cfg.Metrics,
		tracer:      cfg.Tracer,
		logger:      cfg.Logger,
		maxAttempts: cfg.MaxAttempts,
		now:         cfg.Now,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = DefaultMaxAttempts
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.logger == nil {
		r.logger = logger.NewNop()
	}
	return r
}

type writeResult struct {
	product *models.Product
	offerID string
	point   models.PricePoint
	created bool
}

// Reconcile merges c into the catalog and returns the persisted product.
//
// Lookup and write happen in one transaction. If a concurrent reconciliation
// creates the same identity (or the same offer) first, the unique index
// rejects this write and the whole find-or-create is retried, now taking the
// update path. After the commit the evaluator runs; its failure is logged and
// does not undo the price write.
func (r *Reconciler) Reconcile(ctx context.Context, c models.Candidate) (*models.Product, error) {
	started := time.Now()
	ctx, span := r.tracer.StartSpan(ctx, "catalog.Reconcile", attribute.String("source", c.Source))
	defer span.End()

	c = validation.SanitizeCandidate(c)
	if err := validation.ValidateCandidate(c); err != nil {
		r.metrics.ObserveReconcile(metrics.OutcomeRejected, started)
		return nil, err
	}
	url, err := normalize.URL(c.URL)
	if err != nil {
		r.metrics.ObserveReconcile(metrics.OutcomeRejected, started)
		return nil, &validation.ValidationError{Field: "url", Message: err.Error()}
	}
	identity := normalize.NewIdentity(c.Brand, c.Model, c.Memory, c.Color)

	var res writeResult
	for attempt := 1; ; attempt++ {
		res, err = r.write(ctx, c, identity, url)
		if err == nil {
			break
		}
		if !errors.Is(err, apperrors.ErrConflict) {
			r.metrics.ObserveReconcile(metrics.OutcomeFailed, started)
			tracing.RecordError(span, err)
			return nil, err
		}
		r.metrics.ReconcileConflicts.Inc()
		r.logger.Warn("Reconcile conflict, retrying",
			logger.String("source", c.Source),
			logger.Int("attempt", attempt),
			logger.Error(err),
		)
		if attempt >= r.maxAttempts {
			r.metrics.ObserveReconcile(metrics.OutcomeFailed, started)
			err = fmt.Errorf("%w: reconcile gave up after %d conflicting attempts: %v",
				apperrors.ErrDependencyUnavailable, attempt, err)
			tracing.RecordError(span, err)
			return nil, err
		}
	}

	outcome := metrics.OutcomeUpdated
	if res.created {
		outcome = metrics.OutcomeCreated
	}
	r.metrics.ObserveReconcile(outcome, started)
	span.SetAttributes(attribute.String("product_id", res.product.ID), attribute.Bool("created", res.created))

	r.events.PublishPriceRecorded(ctx, events.PriceRecordedData{
		ProductID: res.product.ID,
		OfferID:   res.offerID,
		Source:    c.Source,
		Price:     c.Price,
		Created:   res.created,
	})

	if r.evaluator != nil {
		if _, err := r.evaluator.EvaluateOffer(ctx, res.product.ID, res.offerID, res.point); err != nil {
			r.logger.Error("Alert evaluation failed after price write",
				logger.String("product_id", res.product.ID),
				logger.String("source", c.Source),
				logger.Error(err),
			)
		}
	}

	return res.product, nil
}

func (r *Reconciler) write(ctx context.Context, c models.Candidate, identity normalize.Identity, url string) (writeResult, error) {
	var res writeResult
	key := identity.Key()

	err := r.store.WithTx(ctx, func(tx *database.Tx) error {
		// taken after the write lock so concurrent appends stay ordered
		now := r.now().UTC()

		productID, found, err := tx.FindProductIDByIdentity(ctx, key)
		if err != nil {
			return err
		}

		if !found {
			p, err := r.newProduct(ctx, tx, c, identity, now)
			if err != nil {
				return err
			}
			if err := tx.InsertProduct(ctx, p, key); err != nil {
				return err
			}
			productID = p.ID
			res.created = true
		} else if err := tx.TouchProduct(ctx, productID, now, c.Category, c.ImageURL); err != nil {
			return err
		}

		offerID, currentURL, offerFound, err := tx.FindOffer(ctx, productID, c.Source)
		if err != nil {
			return err
		}
		if !offerFound {
			offerID = uuid.New().String()
			offer := models.Offer{ID: offerID, Source: c.Source, URL: url, LastUpdated: now}
			if err := tx.InsertOffer(ctx, productID, offer); err != nil {
				return err
			}
		} else {
			last, ok, err := tx.LastPriceAt(ctx, offerID)
			if err != nil {
				return err
			}
			if ok && last.After(now) {
				now = last
			}
			if currentURL != url {
				r.logger.Debug("Offer url moved",
					logger.String("product_id", productID),
					logger.String("source", c.Source),
				)
			}
			if err := tx.UpdateOffer(ctx, offerID, url, now); err != nil {
				return err
			}
		}

		if err := tx.AppendPricePoint(ctx, offerID, models.PricePoint{Value: c.Price, Date: now}); err != nil {
			return err
		}

		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		res.product = product
		res.offerID = offerID
		if o := product.OfferByID(offerID); o != nil && len(o.Prices) > 0 {
			res.point = o.Prices[len(o.Prices)-1]
		}
		return nil
	})
	return res, err
}

func (r *Reconciler) newProduct(ctx context.Context, tx *database.Tx, c models.Candidate, identity normalize.Identity, now time.Time) (models.Product, error) {
	name := c.Name
	if name == "" {
		name = normalize.Title(identity.Brand, c.Model, identity.Memory, identity.Color)
	}
	p := models.Product{
		ID:        uuid.New().String(),
		Brand:     identity.Brand,
		Model:     identity.Model,
		Memory:    identity.Memory,
		Color:     identity.Color,
		Name:      name,
		Category:  c.Category,
		Currency:  c.Currency,
		ImageURL:  c.ImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if c.ParentID != "" {
		exists, err := tx.ProductExists(ctx, c.ParentID)
		if err != nil {
			return p, err
		}
		if exists {
			parent := c.ParentID
			p.ParentID = &parent
		} else {
			r.logger.Warn("Ignoring unknown parent product", logger.String("parent_id", c.ParentID))
		}
	}
	return p, nil
}
