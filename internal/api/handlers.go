package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"chat-service/internal/auth"
	"chat-service/internal/chat"
	"chat-service/internal/middleware"
	"chat-service/internal/models"
	"chat-service/internal/repository"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const requestTimeout = 5 * time.Second
const publicHistoryLimit = 500

// RelayStatus is what the health endpoint needs from the relay, nothing more.
type RelayStatus interface {
	Connected() bool
}

type Server struct {
	repo   repository.MessageRepo
	hub    *chat.Hub
	router *chat.Router
	relay  RelayStatus
}

func NewServer(repo repository.MessageRepo, hub *chat.Hub, router *chat.Router, relay RelayStatus) *Server {
	return &Server{repo: repo, hub: hub, router: router, relay: relay}
}

// Routes mounts the REST surface. The destructive endpoints sit behind the
// ticket middleware; everything else is open, matching the original service.
func (s *Server) Routes(wsHandler http.HandlerFunc) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/ws", wsHandler)

	r.HandleFunc("/api/messages", s.handlePublicHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/messages/private/{username}", s.handlePrivateHistory).Methods(http.MethodGet)
	r.HandleFunc("/api/users/active", s.handleActiveUsers).Methods(http.MethodGet)
	r.HandleFunc("/api/users/conversations/{username}", s.handleConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/ticket", s.handleTicket).Methods(http.MethodPost)

	r.Handle("/api/messages/{id}", middleware.RequireTicket(http.HandlerFunc(s.handleDeleteMessage))).Methods(http.MethodDelete)
	r.Handle("/api/messages", middleware.RequireTicket(http.HandlerFunc(s.handleClear))).Methods(http.MethodDelete)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return r
}

func (s *Server) handlePublicHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	messages, err := s.repo.FindPublic(ctx, publicHistoryLimit)
	if err != nil {
		log.Printf("[API] Public history failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handlePrivateHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	username := mux.Vars(r)["username"]
	other := r.URL.Query().Get("with")
	if other == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'with' is required")
		return
	}

	messages, err := s.repo.FindPrivateBetween(ctx, username, other)
	if err != nil {
		log.Printf("[API] Private history failed for %s/%s: %v", username, other, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleActiveUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"activeUsers": s.hub.Roster()})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	username := mux.Vars(r)["username"]
	summaries, err := s.repo.Conversations(ctx, username)
	if err != nil {
		log.Printf("[API] Conversations failed for %s: %v", username, err)
		writeError(w, http.StatusInternalServerError, "failed to load conversations")
		return
	}
	if summaries == nil {
		summaries = []*models.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleTicket stands in for the upstream user service at the trust boundary:
// it signs a short-lived ticket for a username without verifying credentials.
// Deployments that need real authentication front this with the user service.
func (s *Server) handleTicket(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payload.Username = strings.TrimSpace(payload.Username)
	if payload.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	ticket, err := auth.IssueTicket(payload.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue ticket")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ticket": ticket})
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	id := mux.Vars(r)["id"]
	requester := middleware.RequesterFrom(r.Context())

	if err := s.router.DeleteMessage(ctx, id, requester); err != nil {
		if errors.Is(err, chat.ErrNotOwner) {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		log.Printf("[API] Delete failed for %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Message deleted"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	requester := middleware.RequesterFrom(r.Context())
	log.Printf("[API] AUDIT: clear-all requested by %s", requester)

	if err := s.router.ClearAll(ctx); err != nil {
		log.Printf("[API] Clear failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to clear messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat cleared"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	relayState := "disconnected"
	if s.relay != nil && s.relay.Connected() {
		relayState = "connected"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"service":   "chat-service",
		"relay":     relayState,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Response encode failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
