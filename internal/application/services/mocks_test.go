package services_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/repositories"
)

// MockVisitRepository mocks repositories.VisitRepository
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

// MockTranscriptionProvider mocks providers.TranscriptionProvider
type MockTranscriptionProvider struct {
	mock.Mock
}

func (m *MockTranscriptionProvider) Submit(ctx context.Context, audioURL, callbackURL string) (string, error) {
	args := m.Called(ctx, audioURL, callbackURL)
	return args.String(0), args.Error(1)
}

func (m *MockTranscriptionProvider) Poll(ctx context.Context, jobID string) (*entities.TranscriptionResult, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.TranscriptionResult), args.Error(1)
}

func (m *MockTranscriptionProvider) Delete(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// MockSummarizationProvider mocks providers.SummarizationProvider
type MockSummarizationProvider struct {
	mock.Mock
}

func (m *MockSummarizationProvider) Summarize(ctx context.Context, transcriptText string) (*entities.VisitSummary, error) {
	args := m.Called(ctx, transcriptText)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.VisitSummary), args.Error(1)
}

// MockLockProvider mocks providers.LockProvider
type MockLockProvider struct {
	mock.Mock
}

func (m *MockLockProvider) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, name, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockLockProvider) Release(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// MockPostCommitOperation mocks a single post-commit operation
type MockPostCommitOperation struct {
	mock.Mock
	name string
}

func (m *MockPostCommitOperation) Name() string { return m.name }

func (m *MockPostCommitOperation) Execute(ctx context.Context, visit *entities.Visit) error {
	args := m.Called(ctx, visit)
	return args.Error(0)
}

// MockPushSender mocks providers.PushSender
type MockPushSender struct {
	mock.Mock
}

func (m *MockPushSender) SendPush(ctx context.Context, deviceToken, title, body string) (string, error) {
	args := m.Called(ctx, deviceToken, title, body)
	return args.String(0), args.Error(1)
}

// MockEmailSender mocks providers.EmailSender
type MockEmailSender struct {
	mock.Mock
}

func (m *MockEmailSender) SendEmail(ctx context.Context, to, subject, body string) (string, error) {
	args := m.Called(ctx, to, subject, body)
	return args.String(0), args.Error(1)
}
