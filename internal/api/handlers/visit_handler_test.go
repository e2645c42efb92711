package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/visitscribe/backend/internal/api/handlers"
	"github.com/visitscribe/backend/internal/application/services"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/repositories"
	apperrors "github.com/visitscribe/backend/pkg/errors"
)

// MockVisitRepository mocks the visit repository
type MockVisitRepository struct {
	mock.Mock
}

func (m *MockVisitRepository) Create(ctx context.Context, visit *entities.Visit) error {
	args := m.Called(ctx, visit)
	return args.Error(0)
}

func (m *MockVisitRepository) GetByID(ctx context.Context, id string) (*entities.Visit, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Visit), args.Error(1)
}

func (m *MockVisitRepository) Update(ctx context.Context, id string, update repositories.VisitUpdate) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockVisitRepository) UpdateWhereProcessingStatus(ctx context.Context, id string, expected entities.ProcessingStatus, update repositories.VisitUpdate) (bool, error) {
	args := m.Called(ctx, id, expected, update)
	return args.Bool(0), args.Error(1)
}

func (m *MockVisitRepository) ListStaleProcessing(ctx context.Context, status entities.ProcessingStatus, cutoff time.Time, limit int) ([]*entities.Visit, error) {
	args := m.Called(ctx, status, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Visit), args.Error(1)
}

func (m *MockVisitRepository) ListPostCommitDue(ctx context.Context, now time.Time, limit int) ([]*entities.Visit, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Visit), args.Error(1)
}

func (m *MockVisitRepository) ListEscalated(ctx context.Context, cursor string, limit int) ([]*entities.Visit, string, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]*entities.Visit), args.String(1), args.Error(2)
}

// MockRetryService mocks the manual retry entry point
type MockRetryService struct {
	mock.Mock
}

func (m *MockRetryService) RequestManualRetry(ctx context.Context, visitID string) (*services.RetryOutcome, error) {
	args := m.Called(ctx, visitID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.RetryOutcome), args.Error(1)
}

// MockNotificationLister mocks the delivery history lookup
type MockNotificationLister struct {
	mock.Mock
}

func (m *MockNotificationLister) ListByVisit(ctx context.Context, visitID string) ([]entities.VisitNotification, error) {
	args := m.Called(ctx, visitID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.VisitNotification), args.Error(1)
}

func TestVisitHandler_CreateVisit(t *testing.T) {
	t.Run("creates a pending visit", func(t *testing.T) {
		repo := new(MockVisitRepository)
		handler := handlers.NewVisitHandler(repo, new(MockRetryService), new(MockNotificationLister))

		repo.On("Create", mock.Anything, mock.MatchedBy(func(v *entities.Visit) bool {
			return v.UserID == "user-1" &&
				v.PatientName == "Rosa" &&
				v.ProcessingStatus == entities.ProcessingStatusPending &&
				v.Status == entities.VisitStatusRecording
		})).Return(nil)

		body, _ := json.Marshal(map[string]interface{}{
			"user_id":          "user-1",
			"patient_name":     "Rosa",
			"caregiver_emails": []string{"kin@example.com"},
		})
		req := httptest.NewRequest("POST", "/api/visits", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		handler.CreateVisit(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		repo.AssertExpectations(t)
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		handler := handlers.NewVisitHandler(new(MockVisitRepository), new(MockRetryService), new(MockNotificationLister))

		req := httptest.NewRequest("POST", "/api/visits", bytes.NewBufferString(`{"user_id":"user-1"}`))
		w := httptest.NewRecorder()

		handler.CreateVisit(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestVisitHandler_GetVisit(t *testing.T) {
	t.Run("returns the visit", func(t *testing.T) {
		repo := new(MockVisitRepository)
		handler := handlers.NewVisitHandler(repo, new(MockRetryService), new(MockNotificationLister))

		repo.On("GetByID", mock.Anything, "visit-1").Return(&entities.Visit{
			ID:               "visit-1",
			ProcessingStatus: entities.ProcessingStatusCompleted,
		}, nil)

		req := httptest.NewRequest("GET", "/api/visits/visit-1", nil)
		req.SetPathValue("id", "visit-1")
		w := httptest.NewRecorder()

		handler.GetVisit(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("maps not found", func(t *testing.T) {
		repo := new(MockVisitRepository)
		handler := handlers.NewVisitHandler(repo, new(MockRetryService), new(MockNotificationLister))

		repo.On("GetByID", mock.Anything, "nope").
			Return(nil, apperrors.NewNotFoundError("visit with id nope not found"))

		req := httptest.NewRequest("GET", "/api/visits/nope", nil)
		req.SetPathValue("id", "nope")
		w := httptest.NewRecorder()

		handler.GetVisit(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestVisitHandler_ListVisitNotifications(t *testing.T) {
	t.Run("returns delivery history", func(t *testing.T) {
		repo := new(MockVisitRepository)
		lister := new(MockNotificationLister)
		handler := handlers.NewVisitHandler(repo, new(MockRetryService), lister)

		repo.On("GetByID", mock.Anything, "visit-1").Return(&entities.Visit{ID: "visit-1"}, nil)
		lister.On("ListByVisit", mock.Anything, "visit-1").Return([]entities.VisitNotification{
			{ID: "n-1", VisitID: "visit-1", Status: entities.NotificationStatusSent},
		}, nil)

		req := httptest.NewRequest("GET", "/api/visits/visit-1/notifications", nil)
		req.SetPathValue("id", "visit-1")
		w := httptest.NewRecorder()

		handler.ListVisitNotifications(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(1), resp["count"])
	})

	t.Run("unknown visit returns 404", func(t *testing.T) {
		repo := new(MockVisitRepository)
		handler := handlers.NewVisitHandler(repo, new(MockRetryService), new(MockNotificationLister))

		repo.On("GetByID", mock.Anything, "nope").
			Return(nil, apperrors.NewNotFoundError("visit with id nope not found"))

		req := httptest.NewRequest("GET", "/api/visits/nope/notifications", nil)
		req.SetPathValue("id", "nope")
		w := httptest.NewRecorder()

		handler.ListVisitNotifications(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestVisitHandler_RetryVisit(t *testing.T) {
	newRequest := func() (*httptest.ResponseRecorder, *http.Request) {
		req := httptest.NewRequest("POST", "/api/visits/visit-1/retry", nil)
		req.SetPathValue("id", "visit-1")
		return httptest.NewRecorder(), req
	}

	t.Run("accepted retry returns 202 with path", func(t *testing.T) {
		retry := new(MockRetryService)
		handler := handlers.NewVisitHandler(new(MockVisitRepository), retry, new(MockNotificationLister))

		retry.On("RequestManualRetry", mock.Anything, "visit-1").
			Return(&services.RetryOutcome{Accepted: true, Path: services.RetryPathSummarize}, nil)

		w, req := newRequest()
		handler.RetryVisit(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var resp map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "summarize", resp["path"])
	})

	t.Run("throttled retry returns 429 with wait_seconds", func(t *testing.T) {
		retry := new(MockRetryService)
		handler := handlers.NewVisitHandler(new(MockVisitRepository), retry, new(MockNotificationLister))

		retry.On("RequestManualRetry", mock.Anything, "visit-1").
			Return(nil, apperrors.NewRateLimitedError("retry requested too soon, wait 20 seconds", 20))

		w, req := newRequest()
		handler.RetryVisit(w, req)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		var resp map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(20), resp["wait_seconds"])
	})

	t.Run("already processing returns 409", func(t *testing.T) {
		retry := new(MockRetryService)
		handler := handlers.NewVisitHandler(new(MockVisitRepository), retry, new(MockNotificationLister))

		retry.On("RequestManualRetry", mock.Anything, "visit-1").
			Return(&services.RetryOutcome{AlreadyProcessing: true}, nil)

		w, req := newRequest()
		handler.RetryVisit(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}
