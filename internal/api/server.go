// Package api exposes the HTTP surface: the WebSocket upgrade endpoint,
// the internal collaborator endpoints that trigger fan-out after a
// successful write, and the health/metrics/journal ops endpoints.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"linkdesk/internal/journal"
	"linkdesk/internal/metrics"
	"linkdesk/internal/notify"
	"linkdesk/pkg/types"
)

// ConnectionCounter reports how many connections are registered; the
// websocket registry implements it.
type ConnectionCounter interface {
	Len() int
}

// Server routes HTTP traffic. Notification endpoints are fire-and-forget
// for the caller: they return 202 with the delivery counts, and a zero
// count is still a 202 (recipient offline is the normal case).
type Server struct {
	router        chi.Router
	notifier      *notify.Notifier
	connections   ConnectionCounter
	journal       *journal.Journal
	internalToken string
	log           zerolog.Logger
}

// NewServer assembles the router. wsHandler is mounted at wsPath; jrnl may
// be nil when the journal is disabled.
func NewServer(
	notifier *notify.Notifier,
	connections ConnectionCounter,
	jrnl *journal.Journal,
	m *metrics.Metrics,
	wsPath string,
	wsHandler http.Handler,
	internalToken string,
	log zerolog.Logger,
) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		notifier:      notifier,
		connections:   connections,
		journal:       jrnl,
		internalToken: internalToken,
		log:           log.With().Str("component", "api").Logger(),
	}

	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	s.router.Handle(wsPath, wsHandler)

	s.router.Route("/internal", func(r chi.Router) {
		r.Use(s.requireInternalToken)
		r.Post("/events/order-status", s.handleOrderStatusEvent)
		r.Post("/events/comment", s.handleCommentEvent)
		r.Post("/events/message", s.handleMessageEvent)
		r.Get("/journal", s.handleJournal)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requireInternalToken guards the collaborator surface with a static
// bearer token. An empty configured token disables the check for trusted
// network deployments.
func (s *Server) requireInternalToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.internalToken != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.internalToken {
				s.writeError(w, http.StatusUnauthorized, "invalid internal token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

type orderStatusRequest struct {
	OrderID          int64  `json:"orderId"`
	Status           string `json:"status"`
	OrderOwnerUserID int64  `json:"orderOwnerUserId"`
}

func (s *Server) handleOrderStatusEvent(w http.ResponseWriter, r *http.Request) {
	var req orderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OrderID <= 0 || req.Status == "" || req.OrderOwnerUserID <= 0 {
		s.writeError(w, http.StatusBadRequest, "orderId, status and orderOwnerUserId are required")
		return
	}

	res := s.notifier.OrderStatusUpdate(r.Context(), req.OrderID, req.Status, req.OrderOwnerUserID)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"delivered": res})
}

type commentRequest struct {
	OrderID          int64         `json:"orderId"`
	Comment          types.Comment `json:"comment"`
	OrderOwnerUserID int64         `json:"orderOwnerUserId"`
}

func (s *Server) handleCommentEvent(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OrderID <= 0 || req.OrderOwnerUserID <= 0 {
		s.writeError(w, http.StatusBadRequest, "orderId and orderOwnerUserId are required")
		return
	}
	if req.Comment.AuthorID() == 0 {
		s.writeError(w, http.StatusBadRequest, "comment author is required")
		return
	}

	res := s.notifier.NewComment(r.Context(), req.OrderID, req.Comment, req.OrderOwnerUserID)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"delivered": res})
}

type messageRequest struct {
	RecipientUserID int64             `json:"recipientUserId"`
	Message         types.ChatMessage `json:"message"`
}

func (s *Server) handleMessageEvent(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RecipientUserID <= 0 || req.Message.SenderName == "" {
		s.writeError(w, http.StatusBadRequest, "recipientUserId and message.senderName are required")
		return
	}

	res := s.notifier.DirectMessage(r.Context(), req.RecipientUserID, req.Message)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{"delivered": res})
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.journal.Recent(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("journal query failed")
		s.writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.connections.Len(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
