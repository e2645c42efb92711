package routes

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/visitscribe/backend/internal/api/handlers"
	"github.com/visitscribe/backend/internal/api/middleware"
	"github.com/visitscribe/backend/internal/infrastructure/observability"
)

// Router holds all route handlers

type Router struct {
	mux *http.ServeMux

	visitHandler *handlers.VisitHandler

	webhookHandler *handlers.WebhookHandler

	escalationHandler *handlers.EscalationHandler

	cacheMiddleware *middleware.CacheMiddleware
	metrics         *observability.Metrics
	logger          zerolog.Logger
}

// NewRouter creates a new router

func NewRouter(

	visitHandler *handlers.VisitHandler,

	webhookHandler *handlers.WebhookHandler,

	escalationHandler *handlers.EscalationHandler,

	cacheMiddleware *middleware.CacheMiddleware,

	metrics *observability.Metrics,

	logger zerolog.Logger,

) *Router {

	return &Router{

		mux: http.NewServeMux(),

		visitHandler: visitHandler,

		webhookHandler: webhookHandler,

		escalationHandler: escalationHandler,

		cacheMiddleware: cacheMiddleware,
		metrics:         metrics,
		logger:          logger,
	}

}

// SetupRoutes configures all application routes

func (r *Router) SetupRoutes() http.Handler {

	// Health check endpoint

	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {

		w.WriteHeader(http.StatusOK)

		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}

	})

	// Visit endpoints

	r.mux.HandleFunc("POST /api/visits", r.visitHandler.CreateVisit)

	r.mux.HandleFunc("GET /api/visits/{id}", r.visitHandler.GetVisit)

	r.mux.HandleFunc("POST /api/visits/{id}/retry", r.visitHandler.RetryVisit)

	r.mux.HandleFunc("GET /api/visits/{id}/notifications", r.visitHandler.ListVisitNotifications)

	// Webhook endpoints

	r.mux.HandleFunc("POST /api/webhooks/storage/finalize", r.webhookHandler.HandleStorageFinalize)

	r.mux.HandleFunc("POST /api/webhooks/transcription", r.webhookHandler.HandleTranscriptionWebhook)

	// Escalation endpoints

	r.mux.HandleFunc("GET /api/escalations", r.escalationHandler.ListEscalations)

	r.mux.HandleFunc("POST /api/escalations/{id}/acknowledge", r.escalationHandler.AcknowledgeEscalation)

	r.mux.HandleFunc("POST /api/escalations/{id}/resolve", r.escalationHandler.ResolveEscalation)

	r.mux.HandleFunc("POST /api/escalations/{id}/reopen", r.escalationHandler.ReopenEscalation)

	// Apply middleware in reverse order (last middleware wraps first)
	// CORS must be outermost so cached responses also get CORS headers.

	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(r.logger)(handler)

	// Apply cache middleware if available
	if r.cacheMiddleware != nil {
		handler = r.cacheMiddleware.Middleware(handler)
	}

	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)

	// Apply HTTP performance optimizations (compression, ETag, cache headers)
	handler = middleware.ResponseOptimization(handler)

	// CORS wraps everything so headers are set even on cache HITs
	handler = middleware.CORSMiddleware(handler)

	return handler
}
