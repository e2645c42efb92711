package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/visitscribe/backend/internal/api/handlers"
	"github.com/visitscribe/backend/internal/application/services"
	"github.com/visitscribe/backend/internal/domain/entities"
)

// MockEscalationWorkflow mocks the operator escalation workflow
type MockEscalationWorkflow struct {
	mock.Mock
}

func (m *MockEscalationWorkflow) List(ctx context.Context, cursor string, limit int) ([]services.EscalationSummary, string, error) {
	args := m.Called(ctx, cursor, limit)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]services.EscalationSummary), args.String(1), args.Error(2)
}

func (m *MockEscalationWorkflow) Acknowledge(ctx context.Context, visitID, operator string) (*entities.Visit, error) {
	args := m.Called(ctx, visitID, operator)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Visit), args.Error(1)
}

func (m *MockEscalationWorkflow) Resolve(ctx context.Context, visitID, operator, note string) (*entities.Visit, error) {
	args := m.Called(ctx, visitID, operator, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Visit), args.Error(1)
}

func (m *MockEscalationWorkflow) Reopen(ctx context.Context, visitID string) (*entities.Visit, error) {
	args := m.Called(ctx, visitID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Visit), args.Error(1)
}

func TestEscalationHandler_ListEscalations(t *testing.T) {
	service := new(MockEscalationWorkflow)
	handler := handlers.NewEscalationHandler(service)

	service.On("List", mock.Anything, "", 20).
		Return([]services.EscalationSummary{{Visit: &entities.Visit{ID: "visit-1"}}}, "cursor-2", nil)

	req := httptest.NewRequest("GET", "/api/escalations", nil)
	w := httptest.NewRecorder()

	handler.ListEscalations(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["count"])
	assert.Equal(t, "cursor-2", resp["next_cursor"])
}

func TestEscalationHandler_AcknowledgeEscalation(t *testing.T) {
	t.Run("requires operator header", func(t *testing.T) {
		handler := handlers.NewEscalationHandler(new(MockEscalationWorkflow))

		req := httptest.NewRequest("POST", "/api/escalations/visit-1/acknowledge", nil)
		req.SetPathValue("id", "visit-1")
		w := httptest.NewRecorder()

		handler.AcknowledgeEscalation(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("acknowledges with operator identity", func(t *testing.T) {
		service := new(MockEscalationWorkflow)
		handler := handlers.NewEscalationHandler(service)

		service.On("Acknowledge", mock.Anything, "visit-1", "ops-jamie").
			Return(&entities.Visit{ID: "visit-1"}, nil)

		req := httptest.NewRequest("POST", "/api/escalations/visit-1/acknowledge", nil)
		req.SetPathValue("id", "visit-1")
		req.Header.Set("X-Operator-ID", "ops-jamie")
		w := httptest.NewRecorder()

		handler.AcknowledgeEscalation(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		service.AssertExpectations(t)
	})
}

func TestEscalationHandler_ResolveEscalation(t *testing.T) {
	t.Run("requires a note", func(t *testing.T) {
		handler := handlers.NewEscalationHandler(new(MockEscalationWorkflow))

		req := httptest.NewRequest("POST", "/api/escalations/visit-1/resolve",
			bytes.NewBufferString(`{}`))
		req.SetPathValue("id", "visit-1")
		req.Header.Set("X-Operator-ID", "ops-jamie")
		w := httptest.NewRecorder()

		handler.ResolveEscalation(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("resolves with a note", func(t *testing.T) {
		service := new(MockEscalationWorkflow)
		handler := handlers.NewEscalationHandler(service)

		service.On("Resolve", mock.Anything, "visit-1", "ops-jamie", "emails sent manually").
			Return(&entities.Visit{ID: "visit-1"}, nil)

		req := httptest.NewRequest("POST", "/api/escalations/visit-1/resolve",
			bytes.NewBufferString(`{"note":"emails sent manually"}`))
		req.SetPathValue("id", "visit-1")
		req.Header.Set("X-Operator-ID", "ops-jamie")
		w := httptest.NewRecorder()

		handler.ResolveEscalation(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		service.AssertExpectations(t)
	})
}

func TestEscalationHandler_ReopenEscalation(t *testing.T) {
	service := new(MockEscalationWorkflow)
	handler := handlers.NewEscalationHandler(service)

	service.On("Reopen", mock.Anything, "visit-1").
		Return(&entities.Visit{ID: "visit-1"}, nil)

	req := httptest.NewRequest("POST", "/api/escalations/visit-1/reopen", nil)
	req.SetPathValue("id", "visit-1")
	w := httptest.NewRecorder()

	handler.ReopenEscalation(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	service.AssertExpectations(t)
}
