package stories

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/rolegate/rolegate/internal/platform/httpx"
	"github.com/rolegate/rolegate/internal/rbac"
	"github.com/rolegate/rolegate/internal/shared"
)

// Handler exposes story endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers story routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireLevel(rbac.LevelUser)).Get("/", h.list)
	r.With(h.rbac.RequireLevel(rbac.LevelUser)).Post("/", h.create)
	r.With(h.rbac.RequireLevel(rbac.LevelUser)).Delete("/{id}", h.delete)
}

type listResponse struct {
	Stories    []Story           `json:"stories"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	stories, page, err := h.service.List(r.Context(), shared.PaginationFromRequest(r))
	if err != nil {
		h.fail(w, "list stories", err)
		return
	}
	httpx.JSON(w, http.StatusOK, listResponse{Stories: stories, Pagination: page})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	story, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, "create story", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, story)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "story id must be a positive integer")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete story", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, rbac.ErrForbidden), errors.Is(err, rbac.ErrUnauthorized):
		httpx.RespondError(w, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
