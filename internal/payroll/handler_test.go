package payroll

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/horizon-pm/horizon/internal/rbac"
	"github.com/horizon-pm/horizon/internal/shared"
)

type stubService struct {
	createFn  func(ctx context.Context, in CreateCycleInput) (Cycle, error)
	getFn     func(ctx context.Context, id uuid.UUID) (Cycle, error)
	listFn    func(ctx context.Context, page, perPage int) ([]Cycle, shared.Pagination, error)
	updateFn  func(ctx context.Context, in UpdateCycleInput) (Cycle, error)
	deleteFn  func(ctx context.Context, id uuid.UUID) error
	processFn func(ctx context.Context, id uuid.UUID) (Cycle, error)
}

func (s *stubService) Create(ctx context.Context, in CreateCycleInput) (Cycle, error) {
	return s.createFn(ctx, in)
}
func (s *stubService) Get(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return s.getFn(ctx, id)
}
func (s *stubService) List(ctx context.Context, page, perPage int) ([]Cycle, shared.Pagination, error) {
	return s.listFn(ctx, page, perPage)
}
func (s *stubService) UpdateDates(ctx context.Context, in UpdateCycleInput) (Cycle, error) {
	return s.updateFn(ctx, in)
}
func (s *stubService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.deleteFn(ctx, id)
}
func (s *stubService) Process(ctx context.Context, id uuid.UUID) (Cycle, error) {
	return s.processFn(ctx, id)
}

type grantAll struct{}

func (grantAll) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return shared.PayrollScopes(), nil
}

type grantNone struct{}

func (grantNone) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return nil, nil
}

func newTestRouter(svc cycleService, resolver rbac.PermissionResolver) http.Handler {
	h := NewHandler(testLogger(), svc, rbac.Middleware{Resolver: resolver, Logger: testLogger()})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func authed(req *http.Request) *http.Request {
	req.Header.Set(rbac.UserIDHeader, "7")
	return req
}

func TestCreateCycleEndpoint(t *testing.T) {
	var captured CreateCycleInput
	svc := &stubService{
		createFn: func(ctx context.Context, in CreateCycleInput) (Cycle, error) {
			captured = in
			return Cycle{
				ID:       uuid.New(),
				FromDate: in.FromDate,
				ToDate:   in.ToDate,
				State:    StatePending,
			}, nil
		},
	}
	router := newTestRouter(svc, grantAll{})

	body := `{"fromDate":"2024-01-01","toDate":"2024-01-31"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/payroll-cycles", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, date(2024, 1, 1), captured.FromDate)

	var envelope struct {
		Message    string        `json:"message"`
		StatusCode int           `json:"statusCode"`
		Data       CycleResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	require.Equal(t, http.StatusCreated, envelope.StatusCode)
	require.Equal(t, "2024-01-01", envelope.Data.FromDate)
	require.Equal(t, StatePending, envelope.Data.State)
	require.False(t, envelope.Data.Processed)
}

func TestCreateCycleValidatesPayload(t *testing.T) {
	svc := &stubService{
		createFn: func(ctx context.Context, in CreateCycleInput) (Cycle, error) {
			t.Fatal("service must not be reached")
			return Cycle{}, nil
		},
	}
	router := newTestRouter(svc, grantAll{})

	body := `{"fromDate":"01/01/2024","toDate":"2024-01-31"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/payroll-cycles", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestCreateCycleOverlapConflictBody(t *testing.T) {
	conflictID := uuid.New()
	svc := &stubService{
		createFn: func(ctx context.Context, in CreateCycleInput) (Cycle, error) {
			return Cycle{}, &OverlapError{
				ConflictID:   conflictID,
				ConflictFrom: date(2024, 1, 1),
				ConflictTo:   date(2024, 1, 31),
			}
		},
	}
	router := newTestRouter(svc, grantAll{})

	body := `{"fromDate":"2024-01-15","toDate":"2024-02-15"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/payroll-cycles", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), conflictID.String())
}

func TestProcessEndpointGuardConflict(t *testing.T) {
	svc := &stubService{
		processFn: func(ctx context.Context, id uuid.UUID) (Cycle, error) {
			return Cycle{}, ErrPayDateNotReached
		},
	}
	router := newTestRouter(svc, grantAll{})

	req := authed(httptest.NewRequest(http.MethodPatch, "/payroll-cycles/process/"+uuid.NewString(), nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "pay date not yet reached")
}

func TestDeleteEndpointNotFound(t *testing.T) {
	svc := &stubService{
		deleteFn: func(ctx context.Context, id uuid.UUID) error {
			return ErrCycleNotFound
		},
	}
	router := newTestRouter(svc, grantAll{})

	req := authed(httptest.NewRequest(http.MethodDelete, "/payroll-cycles/"+uuid.NewString(), nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEndpointsRejectWithoutPermission(t *testing.T) {
	svc := &stubService{
		createFn: func(ctx context.Context, in CreateCycleInput) (Cycle, error) {
			t.Fatal("authorization must run before the service")
			return Cycle{}, nil
		},
	}
	router := newTestRouter(svc, grantNone{})

	body := `{"fromDate":"2024-01-01","toDate":"2024-01-31"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/payroll-cycles", strings.NewReader(body)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)

	// Missing identity header is also a denial.
	req = httptest.NewRequest(http.MethodPost, "/payroll-cycles", strings.NewReader(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestListEndpointMeta(t *testing.T) {
	svc := &stubService{
		listFn: func(ctx context.Context, page, perPage int) ([]Cycle, shared.Pagination, error) {
			require.Equal(t, 2, page)
			require.Equal(t, 10, perPage)
			return []Cycle{{ID: uuid.New(), FromDate: date(2024, 1, 1), ToDate: date(2024, 1, 31), State: StatePending}},
				shared.NewPagination(page, perPage, 11), nil
		},
	}
	router := newTestRouter(svc, grantAll{})

	req := authed(httptest.NewRequest(http.MethodGet, "/payroll-cycles?page=2&perPage=10", nil))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var envelope struct {
		Data []CycleResponse   `json:"data"`
		Meta shared.Pagination `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 1)
	require.Equal(t, 11, envelope.Meta.Total)
	require.Equal(t, 2, envelope.Meta.TotalPages)
}
