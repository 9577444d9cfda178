package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/cache"
	"price-tracker-api/internal/catalog"
	"price-tracker-api/internal/database"
	"price-tracker-api/internal/events"
	"price-tracker-api/internal/features"
	"price-tracker-api/internal/ingest"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/metrics"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/validation"
)

const (
	defaultCacheTTL      = 5 * time.Minute
	defaultTrendingLimit = 10
	maxTrendingLimit     = 100
	maxBatchCandidates   = 1000
	batchSourceName      = "batch"
)

// Service provides the application operations behind the HTTP API.
type Service struct {
	db         *database.DB
	reconciler *catalog.Reconciler
	ingest     *ingest.Runner
	cache      cache.Cache
	cacheTTL   time.Duration
	features   *features.Manager
	events     *events.Manager
	logger     logger.Logger
	now        func() time.Time
}

// Config carries the service's collaborators. Cache, Features and Events are
// optional.
type Config struct {
	DB                *database.DB
	Reconciler        *catalog.Reconciler
	Metrics           *metrics.Metrics
	Cache             cache.Cache
	CacheTTL          time.Duration
	Features          *features.Manager
	Events            *events.Manager
	Logger            logger.Logger
	IngestConcurrency int
	Now               func() time.Time
}

// NewService creates a new service instance.
func NewService(cfg Config) *Service {
	s := &Service{
		db:         cfg.DB,
		reconciler: cfg.Reconciler,
		cache:      cfg.Cache,
		cacheTTL:   cfg.CacheTTL,
		features:   cfg.Features,
		events:     cfg.Events,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	if s.logger == nil {
		s.logger = logger.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	// batches go through s.Reconcile so cached analyses are invalidated
	s.ingest = ingest.NewRunner(s, cfg.Metrics, s.logger, cfg.IngestConcurrency)
	return s
}

// CreateUser registers a user. The plan defaults to freemium.
func (s *Service) CreateUser(ctx context.Context, req models.CreateUserRequest) (*models.User, error) {
	name := validation.SanitizeString(req.Name)
	if name == "" {
		return nil, &validation.ValidationError{Field: "name", Message: "is required"}
	}
	email := validation.SanitizeString(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, &validation.ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	plan := req.Plan
	if plan == "" {
		plan = models.PlanFreemium
	}
	if !plan.Valid() {
		return nil, &validation.ValidationError{Field: "plan", Message: "must be freemium or premium"}
	}

	u := models.User{
		ID:             uuid.New().String(),
		Name:           name,
		Email:          strings.ToLower(email),
		Plan:           plan,
		TelegramChatID: req.TelegramChatID,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.db.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	if err := validation.ValidateUUID(id, "user_id"); err != nil {
		return nil, err
	}
	return s.db.GetUser(ctx, id)
}

// UpdateUserPlan changes the user's plan. Existing favorites are kept; the
// evaluator applies the new plan from the next evaluation on.
func (s *Service) UpdateUserPlan(ctx context.Context, id string, plan models.Plan) (*models.User, error) {
	if err := validation.ValidateUUID(id, "user_id"); err != nil {
		return nil, err
	}
	if !plan.Valid() {
		return nil, &validation.ValidationError{Field: "plan", Message: "must be freemium or premium"}
	}
	if err := s.db.UpdateUserPlan(ctx, id, plan); err != nil {
		return nil, err
	}
	return s.db.GetUser(ctx, id)
}

// ListNotifications returns the user's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID string) ([]models.Notification, error) {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return nil, err
	}
	return s.db.ListNotifications(ctx, userID)
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *Service) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if err := validation.ValidateUUID(userID, "user_id"); err != nil {
		return err
	}
	if err := validation.ValidateUUID(id, "notification_id"); err != nil {
		return err
	}
	return s.db.MarkNotificationRead(ctx, userID, id)
}

// Reconcile merges one candidate into the catalog and drops the product's
// cached analysis.
func (s *Service) Reconcile(ctx context.Context, c models.Candidate) (*models.Product, error) {
	p, err := s.reconciler.Reconcile(ctx, c)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, cache.AnalysisKey(p.ID))
	return p, nil
}

// ReconcileBatch reconciles a list of candidates. Invalid candidates are
// counted as rejected and do not stop the batch.
func (s *Service) ReconcileBatch(ctx context.Context, candidates []models.Candidate) (models.IngestSummary, error) {
	if len(candidates) == 0 {
		return models.IngestSummary{}, &validation.ValidationError{Field: "candidates", Message: "at least one candidate is required"}
	}
	if len(candidates) > maxBatchCandidates {
		return models.IngestSummary{}, &validation.ValidationError{
			Field:   "candidates",
			Message: fmt.Sprintf("cannot process more than %d candidates per request", maxBatchCandidates),
		}
	}
	src := ingest.StaticSource{SourceName: batchSourceName, Candidates: candidates}
	return s.Ingest(ctx, "", []ingest.Source{src})
}

// Ingest runs query against every source and reconciles the results.
func (s *Service) Ingest(ctx context.Context, query string, sources []ingest.Source) (models.IngestSummary, error) {
	return s.ingest.Run(ctx, query, sources)
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.features.IsEnabled(features.FeatureCacheEnabled)
}

func (s *Service) cached(ctx context.Context, key string, dest any) bool {
	if !s.cacheEnabled() {
		return false
	}
	err := cache.GetJSON(ctx, s.cache, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.logger.Warn("Cache read failed", logger.String("key", key), logger.Error(err))
	}
	return false
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if !s.cacheEnabled() {
		return
	}
	if err := cache.SetJSON(ctx, s.cache, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("Cache write failed", logger.String("key", key), logger.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, keys ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.logger.Warn("Cache invalidation failed", logger.Any("keys", keys), logger.Error(err))
	}
}

func notFoundAs(err error, field, message string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return &validation.ValidationError{Field: field, Message: message}
	}
	return err
}
