package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"price-tracker-api/internal/apperrors"
	"price-tracker-api/internal/features"
	"price-tracker-api/internal/logger"
	"price-tracker-api/internal/models"
	"price-tracker-api/internal/policy"
	"price-tracker-api/internal/service"
	"price-tracker-api/internal/validation"
)

// Handler provides HTTP handlers for the API.
type Handler struct {
	service     *service.Service
	features    *features.Manager
	logger      logger.Logger
	maxBodySize int64
}

// NewHandlerOptions holds options for creating a handler.
type NewHandlerOptions struct {
	MaxBodySize int64
	Features    *features.Manager
	Logger      logger.Logger
}

// DefaultHandlerOptions returns default handler options.
func DefaultHandlerOptions() NewHandlerOptions {
	return NewHandlerOptions{
		MaxBodySize: 10 << 20, // 10MB default
	}
}

// NewHandler creates a new handler instance.
func NewHandler(svc *service.Service) *Handler {
	return NewHandlerWithOptions(svc, DefaultHandlerOptions())
}

// NewHandlerWithOptions creates a new handler instance with custom options.
func NewHandlerWithOptions(svc *service.Service, opts NewHandlerOptions) *Handler {
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultHandlerOptions().MaxBodySize
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	return &Handler{
		service:     svc,
		features:    opts.Features,
		logger:      opts.Logger,
		maxBodySize: opts.MaxBodySize,
	}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Route("/{user_id}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Put("/plan", h.UpdatePlan)

			r.Get("/favorites", h.ListFavorites)
			r.Post("/favorites", h.CreateFavorite)
			r.Get("/favorites/count", h.CountFavorites)
			r.Put("/favorites/{favorite_id}", h.UpdateFavorite)
			r.Delete("/favorites/{favorite_id}", h.DeleteFavorite)

			r.Get("/notifications", h.ListNotifications)
			r.Post("/notifications/{notification_id}/read", h.MarkNotificationRead)
		})
	})

	r.Route("/products", func(r chi.Router) {
		r.Post("/reconcile", h.ReconcileProduct)
		r.Post("/batch", h.ReconcileBatch)
		r.Post("/assign-category", h.AssignCategory)
		r.Get("/count", h.CountProducts)
		r.Get("/uncategorized", h.ListUncategorized)
		r.Get("/trending", h.Trending)
		r.Get("/category/{category}", h.ListByCategory)

		r.Route("/{product_id}", func(r chi.Router) {
			r.Get("/", h.GetProduct)
			r.Delete("/", h.DeleteProduct)
			r.Patch("/parent", h.UpdateParent)
			r.Get("/children", h.ListChildren)
			r.Get("/analysis", h.GetAnalysis)
			r.Post("/views", h.RecordView)
		})
	})

	r.Get("/features", h.ListFeatures)
}

// CreateUser handles POST /users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.service.CreateUser(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, u)
}

// GetUser handles GET /users/{user_id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.GetUser(r.Context(), urlParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, u)
}

// UpdatePlan handles PUT /users/{user_id}/plan
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req models.UpdatePlanRequest
	if !h.decode(w, r, &req) {
		return
	}
	u, err := h.service.UpdateUserPlan(r.Context(), urlParam(r, "user_id"), req.Plan)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, u)
}

// ListFavorites handles GET /users/{user_id}/favorites
func (h *Handler) ListFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := h.service.ListFavorites(r.Context(), urlParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, favs)
}

// CreateFavorite handles POST /users/{user_id}/favorites
func (h *Handler) CreateFavorite(w http.ResponseWriter, r *http.Request) {
	var req models.CreateFavoriteRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.ProductID = validation.SanitizeString(req.ProductID)
	req.OfferID = validation.SanitizeString(req.OfferID)

	f, err := h.service.CreateFavorite(r.Context(), urlParam(r, "user_id"), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, f)
}

// CountFavorites handles GET /users/{user_id}/favorites/count
func (h *Handler) CountFavorites(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CountFavorites(r.Context(), urlParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.CountResponse{Count: n})
}

// UpdateFavorite handles PUT /users/{user_id}/favorites/{favorite_id}
func (h *Handler) UpdateFavorite(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateFavoriteRequest
	if !h.decode(w, r, &req) {
		return
	}
	f, err := h.service.UpdateFavorite(r.Context(), urlParam(r, "user_id"), urlParam(r, "favorite_id"), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, f)
}

// DeleteFavorite handles DELETE /users/{user_id}/favorites/{favorite_id}
func (h *Handler) DeleteFavorite(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteFavorite(r.Context(), urlParam(r, "user_id"), urlParam(r, "favorite_id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotifications handles GET /users/{user_id}/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.ListNotifications(r.Context(), urlParam(r, "user_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, notes)
}

// MarkNotificationRead handles POST /users/{user_id}/notifications/{notification_id}/read
func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	err := h.service.MarkNotificationRead(r.Context(), urlParam(r, "user_id"), urlParam(r, "notification_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReconcileProduct handles POST /products/reconcile
func (h *Handler) ReconcileProduct(w http.ResponseWriter, r *http.Request) {
	var c models.Candidate
	if !h.decode(w, r, &c) {
		return
	}
	p, err := h.service.Reconcile(r.Context(), c)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// ReconcileBatch handles POST /products/batch
func (h *Handler) ReconcileBatch(w http.ResponseWriter, r *http.Request) {
	var req models.BatchReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	summary, err := h.service.ReconcileBatch(r.Context(), req.Candidates)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

// AssignCategory handles POST /products/assign-category
func (h *Handler) AssignCategory(w http.ResponseWriter, r *http.Request) {
	var req models.AssignCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	n, err := h.service.AssignCategory(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.CountResponse{Count: int(n)})
}

// CountProducts handles GET /products/count
func (h *Handler) CountProducts(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.CountProducts(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, models.CountResponse{Count: n})
}

// ListUncategorized handles GET /products/uncategorized
func (h *Handler) ListUncategorized(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListUncategorized(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

// Trending handles GET /products/trending?limit=n
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(validation.SanitizeString(raw))
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid 'limit' parameter, must be a non-negative integer")
			return
		}
		limit = n
	}
	top, err := h.service.Trending(r.Context(), limit)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, top)
}

// ListByCategory handles GET /products/category/{category}
func (h *Handler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListByCategory(r.Context(), urlParam(r, "category"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

// GetProduct handles GET /products/{product_id}
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.GetProduct(r.Context(), urlParam(r, "product_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// DeleteProduct handles DELETE /products/{product_id}
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteProduct(r.Context(), urlParam(r, "product_id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateParent handles PATCH /products/{product_id}/parent
func (h *Handler) UpdateParent(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateParentRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.SetParent(r.Context(), urlParam(r, "product_id"), req.ParentID)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, p)
}

// ListChildren handles GET /products/{product_id}/children
func (h *Handler) ListChildren(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListChildren(r.Context(), urlParam(r, "product_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

// GetAnalysis handles GET /products/{product_id}/analysis
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := h.service.Analysis(r.Context(), urlParam(r, "product_id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, a)
}

// RecordView handles POST /products/{product_id}/views
func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	var req models.RecordViewRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.RecordView(r.Context(), urlParam(r, "product_id"), req); err != nil {
		h.respondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListFeatures handles GET /features
func (h *Handler) ListFeatures(w http.ResponseWriter, r *http.Request) {
	if h.features == nil {
		h.respondJSON(w, http.StatusOK, []features.FeatureFlag{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.features.List())
}

func urlParam(r *http.Request, name string) string {
	return validation.SanitizeString(chi.URLParam(r, name))
}

// decode reads a JSON body into dst, answering 400 itself when it cannot.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	// Limit request body size to prevent abuse
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			h.respondError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		h.respondError(w, http.StatusBadRequest, "invalid JSON in request body")
		return false
	}
	return true
}

// respondServiceError maps the service error taxonomy onto HTTP statuses.
func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var (
		vErr   *validation.ValidationError
		denied *policy.DeniedError
	)
	switch {
	case errors.As(err, &vErr):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &denied):
		h.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperrors.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrDuplicate):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrDependencyUnavailable):
		h.logger.Error("Dependency unavailable", logger.Error(err))
		h.respondError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		h.logger.Error("Request failed", logger.Error(err))
		h.respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// respondJSON sends a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to encode response", logger.Error(err))
	}
}

// respondError sends an error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, models.ErrorResponse{Error: message})
}
