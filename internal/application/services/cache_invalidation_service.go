package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/visitscribe/backend/internal/domain/entities"
	"github.com/visitscribe/backend/internal/domain/providers"
)

// CacheInvalidationService drops cached visit responses when the pipeline
// changes a visit's state. Visit reads carry a short HTTP cache TTL; evicting
// on status events keeps polled clients from seeing a stale stage after a
// transition lands.
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	logger   zerolog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus, logger zerolog.Logger) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "cache_invalidation").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins listening for visit events and invalidating cache
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelVisitUpdates)
	if err != nil {
		return fmt.Errorf("failed to subscribe to visit updates: %w", err)
	}

	go s.processEvents(eventChan)
	s.logger.Info().Msg("cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	s.logger.Info().Msg("cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.VisitEvent) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-eventChan:
			if event == nil {
				continue
			}
			s.handleEvent(event)
		}
	}
}

func (s *CacheInvalidationService) handleEvent(event *entities.VisitEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.InvalidateVisitCache(ctx, event.VisitID); err != nil {
		s.logger.Warn().Err(err).Str("visit_id", event.VisitID).Msg("failed to invalidate visit cache")
	}

	// The escalation queue changes when a visit escalates or an operator
	// resolves one; both paths publish a status event.
	if event.Type == entities.VisitEventFailed || event.Type == entities.VisitEventCompleted {
		if err := s.InvalidateEscalationCache(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("failed to invalidate escalation cache")
		}
	}
}

// InvalidateVisitCache drops every cached response for a specific visit,
// including the retry and notifications sub-resources.
func (s *CacheInvalidationService) InvalidateVisitCache(ctx context.Context, visitID string) error {
	pattern := fmt.Sprintf("http:cache:*visits/%s*", visitID)
	if err := s.cache.DeletePattern(ctx, pattern); err != nil {
		return fmt.Errorf("failed to invalidate visit cache: %w", err)
	}
	return nil
}

// InvalidateEscalationCache drops cached escalation queue pages.
func (s *CacheInvalidationService) InvalidateEscalationCache(ctx context.Context) error {
	if err := s.cache.DeletePattern(ctx, "http:cache:*escalations*"); err != nil {
		return fmt.Errorf("failed to invalidate escalation cache: %w", err)
	}
	return nil
}
