package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/config"
	"price-tracker-api/internal/features"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/metrics"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/rules"
)

type fakeStore struct {
	mu            sync.Mutex
	products      map[string]*models.Product
	favorites     []models.Favorite
	users         map[string]*models.User
	notifications []models.Notification
	keys          map[string]bool
	insertErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[string]*models.Product),
		users:    make(map[string]*models.User),
		keys:     make(map[string]bool),
	}
}

func (s *fakeStore) GetProduct(_ context.Context, id string) (*models.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return p, nil
}

func (s *fakeStore) ListActiveFavoritesByProduct(_ context.Context, productID string) ([]models.Favorite, error) {
	var out []models.Favorite
	for _, f := range s.favorites {
		if f.ProductID == productID && f.IsActive {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return u, nil
}

func (s *fakeStore) InsertNotification(_ context.Context, n models.Notification, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return false, s.insertErr
	}
	if key != "" {
		if s.keys[key] {
			return false, nil
		}
		s.keys[key] = true
	}
	s.notifications = append(s.notifications, n)
	return true, nil
}

type recordingDispatcher struct {
	events []models.TriggerEvent
	err    error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, ev models.TriggerEvent) error {
	d.events = append(d.events, ev)
	return d.err
}

var base = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func offerWith(id string, updated time.Time, prices ...float64) models.Offer {
	o := models.Offer{ID: id, Source: id, LastUpdated: updated}
	for i, v := range prices {
		o.Prices = append(o.Prices, models.PricePoint{Value: v, Date: base.Add(time.Duration(i) * time.Hour)})
	}
	return o
}

// pointAt is the i-th point offerWith builds.
func pointAt(i int, v float64) models.PricePoint {
	return models.PricePoint{Value: v, Date: base.Add(time.Duration(i) * time.Hour)}
}

func val(v float64) *float64 { return &v }

type fixture struct {
	store      *fakeStore
	dispatcher *recordingDispatcher
	metrics    *metrics.Metrics
	evaluator  *Evaluator
}

func newFixture(t *testing.T, dedup bool) *fixture {
	t.Helper()
	f := &fixture{
		store:      newFakeStore(),
		dispatcher: &recordingDispatcher{},
		metrics:    metrics.New(prometheus.NewRegistry()),
	}
	flags := features.FromConfig(config.FeaturesConfig{NotificationDedup: dedup})
	f.evaluator = NewEvaluator(f.store, f.dispatcher, f.metrics, logger.NewNop(), WithFeatures(flags))

	f.store.products["p1"] = &models.Product{
		ID:     "p1",
		Name:   "Apple iPhone 15 (128GB) - black",
		Offers: []models.Offer{offerWith("amazon", base, 100, 80)},
	}
	f.store.users["premium"] = &models.User{ID: "premium", Plan: models.PlanPremium}
	f.store.users["free"] = &models.User{ID: "free", Plan: models.PlanFreemium}
	return f
}

func (f *fixture) favorite(id, user, offerID string, alerts ...models.AlertRule) {
	f.store.favorites = append(f.store.favorites, models.Favorite{
		ID: id, UserID: user, ProductID: "p1", OfferID: offerID, Alerts: alerts, IsActive: true,
	})
}

func TestEvaluateOffer_RuleCorrectness(t *testing.T) {
	f := newFixture(t, true)
	f.favorite("f1", "premium", "",
		models.AlertRule{Type: "price_dropped"},
		models.AlertRule{Type: "price_dropped_percent", Value: val(15)},
		models.AlertRule{Type: "price_below", Value: val(90)},
		models.AlertRule{Type: "price_above", Value: val(90)},
	)

	events, err := f.evaluator.EvaluateOffer(context.Background(), "p1", "amazon", pointAt(1, 80))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "price_dropped", events[0].RuleType)
	assert.Equal(t, "Apple iPhone 15 (128GB) - black dropped from 100.00 to 80.00", events[0].Message)
	assert.Equal(t, "price_dropped_percent", events[1].RuleType)
	assert.Equal(t, "price_below", events[2].RuleType)
	for _, ev := range events {
		assert.Equal(t, "premium", ev.UserID)
		assert.Equal(t, "p1", ev.ProductID)
	}

	assert.Len(t, f.store.notifications, 3)
	assert.Len(t, f.dispatcher.events, 3)
}

func TestEvaluateOffer_NeedsTwoPricePoints(t *testing.T) {
	f := newFixture(t, true)
	f.store.products["p1"].Offers = []models.Offer{offerWith("amazon", base, 100)}
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_changed"})

	events, err := f.evaluator.EvaluateOffer(context.Background(), "p1", "amazon", pointAt(0, 100))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, f.store.notifications)
}

func TestEvaluateOffer_PlanGateAppliedDefensively(t *testing.T) {
	f := newFixture(t, true)
	// stored before a downgrade; freemium may no longer use price_below
	f.favorite("f1", "free", "", models.AlertRule{Type: "price_below", Value: val(90)})
	f.favorite("f2", "ghost", "", models.AlertRule{Type: "price_below", Value: val(90)}, models.AlertRule{Type: "price_dropped"})

	events, err := f.evaluator.EvaluateOffer(context.Background(), "p1", "amazon", pointAt(1, 80))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ghost", events[0].UserID)
	assert.Equal(t, "price_dropped", events[0].RuleType)
}

func TestEvaluateOffer_OfferScopedFavorites(t *testing.T) {
	f := newFixture(t, true)
	f.store.products["p1"].Offers = append(f.store.products["p1"].Offers, offerWith("ebay", base, 50, 60))
	f.favorite("f1", "premium", "ebay", models.AlertRule{Type: "price_changed"})
	f.favorite("f2", "free", "amazon", models.AlertRule{Type: "price_changed"})

	events, err := f.evaluator.EvaluateOffer(context.Background(), "p1", "amazon", pointAt(1, 80))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "f2", events[0].FavoriteID)
	assert.Equal(t, "amazon", events[0].OfferID)
}

func TestEvaluateOffer_DeduplicatesRepeatedEvaluation(t *testing.T) {
	f := newFixture(t, true)
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_dropped"})
	ctx := context.Background()

	first, err := f.evaluator.EvaluateOffer(ctx, "p1", "amazon", pointAt(1, 80))
	require.NoError(t, err)
	second, err := f.evaluator.EvaluateOffer(ctx, "p1", "amazon", pointAt(1, 80))
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].IdempotencyKey, second[0].IdempotencyKey)
	assert.Equal(t, "f1|price_dropped|amazon|2024-03-01T11:00:00Z", first[0].IdempotencyKey)

	assert.Len(t, f.store.notifications, 1)
	assert.Len(t, f.dispatcher.events, 1)
}

func TestEvaluateOffer_DelayedEvaluationsUseTheirOwnPoint(t *testing.T) {
	f := newFixture(t, true)
	f.store.products["p1"].Offers = []models.Offer{offerWith("amazon", base, 100, 80, 70)}
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_below", Value: val(90)}, models.AlertRule{Type: "price_dropped"})
	ctx := context.Background()

	// both appends committed before either evaluation runs
	first, err := f.evaluator.EvaluateOffer(ctx, "p1", "amazon", pointAt(1, 80))
	require.NoError(t, err)
	second, err := f.evaluator.EvaluateOffer(ctx, "p1", "amazon", pointAt(2, 70))
	require.NoError(t, err)

	require.Len(t, first, 2)
	require.Len(t, second, 2)
	assert.Equal(t, "Apple iPhone 15 (128GB) - black dropped from 100.00 to 80.00", first[1].Message)
	assert.Equal(t, "Apple iPhone 15 (128GB) - black dropped from 80.00 to 70.00", second[1].Message)
	assert.Equal(t, "f1|price_below|amazon|2024-03-01T11:00:00Z", first[0].IdempotencyKey)
	assert.Equal(t, "f1|price_below|amazon|2024-03-01T12:00:00Z", second[0].IdempotencyKey)

	assert.Len(t, f.store.notifications, 4)
	assert.Len(t, f.dispatcher.events, 4)
}

func TestEvaluateOffer_UnknownPointIsSkipped(t *testing.T) {
	f := newFixture(t, true)
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_changed"})

	events, err := f.evaluator.EvaluateOffer(context.Background(), "p1", "amazon", pointAt(5, 80))
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Empty(t, f.store.notifications)
}

func TestEvaluateOffer_WithoutDedupEveryEvaluationNotifies(t *testing.T) {
	f := newFixture(t, false)
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_dropped"})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		events, err := f.evaluator.EvaluateOffer(ctx, "p1", "amazon", pointAt(1, 80))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Empty(t, events[0].IdempotencyKey)
	}
	assert.Len(t, f.store.notifications, 2)
	assert.Len(t, f.dispatcher.events, 2)
}

func TestEvaluateOffer_DispatchFailureKeepsNotification(t *testing.T) {
	f := newFixture(t, true)
	f.dispatcher.err = errors.New("push gateway down")
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_dropped"}, models.AlertRule{Type: "price_changed"})

	events, err := f.evaluator.EvaluateOffer(context.Background(), "p1", "amazon", pointAt(1, 80))
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Len(t, f.store.notifications, 2)
	assert.Len(t, f.dispatcher.events, 2)
}

func TestEvaluateOffer_PersistenceFailureIsReturned(t *testing.T) {
	f := newFixture(t, true)
	f.store.insertErr = errors.New("disk full")
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_dropped"})

	events, err := f.evaluator.EvaluateOffer(context.Background(), "p1", "amazon", pointAt(1, 80))
	assert.Error(t, err)
	assert.Len(t, events, 1)
	assert.Empty(t, f.dispatcher.events)
}

func TestEvaluate_UsesMostRecentlyUpdatedOffer(t *testing.T) {
	f := newFixture(t, true)
	f.store.products["p1"].Offers = []models.Offer{
		offerWith("amazon", base, 100, 80),
		offerWith("ebay", base.Add(time.Hour), 50, 60),
	}
	f.favorite("f1", "premium", "", models.AlertRule{Type: "price_increased"}, models.AlertRule{Type: "price_dropped"})

	events, err := f.evaluator.Evaluate(context.Background(), "p1", 60)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "price_increased", events[0].RuleType)
	assert.Equal(t, "ebay", events[0].OfferID)
}

func TestEvaluate_UnknownProductOrOffer(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.evaluator.Evaluate(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.evaluator.EvaluateOffer(context.Background(), "p1", "missing", pointAt(1, 10))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIdempotencyKey(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 600, time.FixedZone("X", 3600))
	assert.Equal(t, "f|price_changed|o|2024-01-02T02:04:05.0000006Z", IdempotencyKey("f", rules.TypeChanged, "o", at))
}
