package events

import (
	"context"
	"sync"
	"time"

	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventPriceRecorded is emitted after a price point is committed.
	EventPriceRecorded EventType = "price.recorded"
	// EventNotificationCreated is emitted after a notification is persisted.
	EventNotificationCreated EventType = "notification.created"
	// EventProductDeleted is emitted after a product is removed.
	EventProductDeleted EventType = "product.deleted"
)

// Event represents an event in the system.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      any
}

// PriceRecordedData describes a committed price observation.
type PriceRecordedData struct {
	ProductID string
	OfferID   string
	Source    string
	Price     float64
	Created   bool
}

// NotificationCreatedData carries the persisted notification.
type NotificationCreatedData struct {
	Notification models.Notification
}

// ProductDeletedData names the removed product.
type ProductDeletedData struct {
	ProductID string
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   logger.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager. A disabled manager drops every
// subscription and publish.
func NewManager(enabled bool, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   log,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.enabled {
		return
	}
	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish runs every handler of eventType in its own goroutine. Handler
// errors are logged. The handlers get a context detached from ctx's
// cancellation, since the publishing request usually ends first.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data any) {
	if m == nil {
		return
	}

	m.mu.RLock()
	if !m.enabled {
		m.mu.RUnlock()
		return
	}
	handlers := m.handlers[eventType]
	m.wg.Add(len(handlers))
	m.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	hctx := context.WithoutCancel(ctx)

	for _, handler := range handlers {
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.Warn("Event handler failed",
					logger.String("event", string(eventType)),
					logger.Error(err),
				)
			}
		}(handler)
	}
}

// PublishPriceRecorded publishes a price recorded event.
func (m *Manager) PublishPriceRecorded(ctx context.Context, data PriceRecordedData) {
	m.Publish(ctx, EventPriceRecorded, data)
}

// PublishNotificationCreated publishes a notification created event.
func (m *Manager) PublishNotificationCreated(ctx context.Context, n models.Notification) {
	m.Publish(ctx, EventNotificationCreated, NotificationCreatedData{Notification: n})
}

// PublishProductDeleted publishes a product deleted event.
func (m *Manager) PublishProductDeleted(ctx context.Context, productID string) {
	m.Publish(ctx, EventProductDeleted, ProductDeletedData{ProductID: productID})
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
