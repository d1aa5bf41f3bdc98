package payroll

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/horizon-pm/horizon/internal/platform/httpx"
	"github.com/horizon-pm/horizon/internal/rbac"
	"github.com/horizon-pm/horizon/internal/shared"
)

type cycleService interface {
	Create(ctx context.Context, in CreateCycleInput) (Cycle, error)
	Get(ctx context.Context, id uuid.UUID) (Cycle, error)
	List(ctx context.Context, page, perPage int) ([]Cycle, shared.Pagination, error)
	UpdateDates(ctx context.Context, in UpdateCycleInput) (Cycle, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Process(ctx context.Context, id uuid.UUID) (Cycle, error)
}

// Handler wires the payroll cycle HTTP endpoints.
type Handler struct {
	logger   *slog.Logger
	service  cycleService
	validate *validator.Validate
	rbac     rbac.Middleware
}

// NewHandler constructs a payroll HTTP handler.
func NewHandler(logger *slog.Logger, service cycleService, gate rbac.Middleware) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
		rbac:     gate,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateCycleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	from, to, err := parseWindow(req.FromDate, req.ToDate)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	cycle, err := h.service.Create(r.Context(), CreateCycleInput{FromDate: from, ToDate: to})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "payroll cycle created", toCycleResponse(cycle))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))

	cycles, meta, err := h.service.List(r.Context(), page, perPage)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.SuccessMeta(w, http.StatusOK, "payroll cycles", toCycleResponses(cycles), meta)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	cycle, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "payroll cycle", toCycleResponse(cycle))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	var req UpdateCycleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	from, to, err := parseWindow(req.FromDate, req.ToDate)
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	cycle, err := h.service.UpdateDates(r.Context(), UpdateCycleInput{ID: id, FromDate: from, ToDate: to})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "payroll cycle updated", toCycleResponse(cycle))
}

func (h *Handler) process(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	cycle, err := h.service.Process(r.Context(), id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "payroll cycle processing", toCycleResponse(cycle))
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondErr(w, err)
		return
	}
	httpx.Success(w, http.StatusOK, "payroll cycle deleted", nil)
}

// parseWindow parses the request dates. The datetime validator tag runs
// before this, so a failure here means the tag and dateLayout drifted apart.
func parseWindow(fromDate, toDate string) (time.Time, time.Time, error) {
	from, err := time.Parse(dateLayout, fromDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := time.Parse(dateLayout, toDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return from, to, nil
}

func (h *Handler) cycleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid cycle id")
		return uuid.Nil, false
	}
	return id, true
}

// respondErr classifies domain errors under the httpx sentinels and lets
// httpx.RespondError pick the RFC7807 response.
func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	var overlapErr *OverlapError
	var staleErr *StaleCycleError
	switch {
	case errors.Is(err, ErrCycleNotFound):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrNotFound, err))
	case errors.As(err, &overlapErr), errors.As(err, &staleErr), errors.Is(err, ErrInvalidInterval):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrValidation, err))
	case errors.Is(err, ErrCycleProcessed),
		errors.Is(err, ErrCycleProcessing),
		errors.Is(err, ErrCycleNotProcessing),
		errors.Is(err, ErrPayDateNotReached),
		errors.Is(err, ErrCycleNotDeletable),
		errors.Is(err, ErrCycleNotEditable):
		httpx.RespondError(w, httpx.Wrap(httpx.ErrConflict, err))
	default:
		h.logger.Error("payroll handler", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
