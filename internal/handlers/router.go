package handlers

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/private-symposium-go/internal/config"
	"github.com/private-symposium-go/internal/i18n"
	"github.com/private-symposium-go/internal/middleware"
	"github.com/private-symposium-go/internal/persona"
	"github.com/private-symposium-go/internal/services/cache"
	"github.com/private-symposium-go/internal/services/conversation"
	"github.com/private-symposium-go/internal/services/quota"
	"github.com/private-symposium-go/internal/services/storage"
	"github.com/private-symposium-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

type contextKey int

const requestIDKey contextKey = iota

// Dependencies are the services the HTTP API is built on
type Dependencies struct {
	Config        *config.Config
	Turns         TurnRunner
	Conversations *conversation.Store
	Ledger        *quota.Ledger
	Personas      *persona.Registry
	Storage       storage.Store
	Idempotency   cache.Service
	RateLimiter   middleware.RateLimiter
	Localizer     *i18n.Localizer
	Metrics       *middleware.Metrics
	Logger        *logrus.Logger
}

// NewRouter creates the HTTP router with all API routes
func NewRouter(deps Dependencies) *mux.Router {
	rs := &responder{
		localizer:  deps.Localizer,
		production: deps.Config.Server.IsProduction(),
		logger:     deps.Logger,
	}

	router := mux.NewRouter()

	// Global middlewares
	router.Use(requestID)
	router.Use(recovery(rs))
	router.Use(observe(deps.Metrics, deps.Logger))
	router.Use(cors)

	chatHandler := NewChatHandler(deps.Turns, deps.Personas, deps.Idempotency, deps.RateLimiter, deps.Metrics, rs)
	conversationHandler := NewConversationHandler(deps.Conversations, deps.Personas, rs)
	userHandler := NewUserHandler(deps.Ledger, rs)
	healthHandler := NewHealthHandler(deps.Storage, deps.Config.Server.Version)

	router.HandleFunc("/health", healthHandler.CheckHealth).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/chat", chatHandler.HandleChat).Methods(http.MethodPost, http.MethodOptions)

	router.HandleFunc("/conversation", conversationHandler.GetConversation).Methods(http.MethodGet)
	router.HandleFunc("/conversation", conversationHandler.SaveConversation).Methods(http.MethodPost, http.MethodOptions)

	router.HandleFunc("/user", userHandler.GetUser).Methods(http.MethodGet)
	router.HandleFunc("/user", userHandler.UpdateUser).Methods(http.MethodPost, http.MethodOptions)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.writeMessage(w, r, http.StatusNotFound, "NOT_FOUND", i18n.MsgNotFound)
	})

	return router
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestLogger(log *logrus.Logger, r *http.Request) *logrus.Entry {
	id, _ := r.Context().Value(requestIDKey).(string)
	return logger.WithRequest(log, id, r.Method, r.URL.Path)
}

// recovery turns a handler panic into a 500
func recovery(rs *responder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					requestLogger(rs.logger, r).WithFields(logrus.Fields{
						"panic": rec,
						"stack": string(debug.Stack()),
					}).Error("Panic recovered")
					rs.writeMessage(w, r, http.StatusInternalServerError, CodeInternal, i18n.MsgInternal)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// observe logs each request and records it in metrics
func observe(metrics *middleware.Metrics, log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			duration := time.Since(started)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tpl, err := current.GetPathTemplate(); err == nil {
					route = tpl
				}
			}
			if metrics != nil {
				metrics.RecordHTTPRequest(route, r.Method, rec.status, duration)
			}

			requestLogger(log, r).WithFields(logrus.Fields{
				"status":   rec.status,
				"duration": duration.String(),
			}).Debug("Request served")
		})
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept-Language, Idempotency-Key, "+RequestIDHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
