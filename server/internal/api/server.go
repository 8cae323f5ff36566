// Package api provides the REST endpoints of the room server and mounts the
// real-time WebSocket handler.
package api

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/huddle-chat/huddle/server/internal/auth"
	"github.com/huddle-chat/huddle/server/internal/config"
	"github.com/huddle-chat/huddle/server/internal/realtime"
	"github.com/huddle-chat/huddle/server/internal/store"
)

const (
	roomCodeLength     = 8
	roomCodeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	createRoomAttempts = 5
)

// Server is the HTTP API server.
type Server struct {
	store        store.Store
	auth         *auth.Service
	hub          *realtime.Hub
	logger       *slog.Logger
	mux          *chi.Mux
	startTime    time.Time
	maxBodyBytes int64
	rl           *rateLimiter
	newCode      func() (string, error)
}

// NewServer creates a new API server.
func NewServer(s store.Store, authSvc *auth.Service, hub *realtime.Hub, cfg *config.Config, logger *slog.Logger) *Server {
	srv := &Server{
		store:        s,
		auth:         authSvc,
		hub:          hub,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
		maxBodyBytes: cfg.Server.MaxBodyBytes,
		rl:           newRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		newCode:      generateRoomCode,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(securityHeadersMiddleware)
	mux.Use(makeCORSMiddleware(cfg.Server.AllowedOrigins))

	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	mux.Group(func(r chi.Router) {
		r.Use(ipRateLimitMiddleware(srv.rl))
		r.Post("/auth/login", srv.handleLogin)
		r.Post("/create_room", srv.handleCreateRoom)
		r.Post("/room_code_check", srv.handleRoomCodeCheck)
	})

	// Auth handled inside.
	mux.Get("/ws", hub.HandleWS)

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks starts periodic cleanup of rate limiter buckets.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.rl.StartCleanup(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Auth ---

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := s.auth.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidLogin) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("login failed", "provider", req.Provider, "error", err)
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	s.logger.Info("user logged in", "user_id", user.ID, "provider", user.Provider)
	writeJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"user_id":  user.ID,
		"username": user.Name,
	})
}

// --- Rooms ---

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		Name string `json:"name"`
	}
	// The body is optional.
	_ = json.NewDecoder(r.Body).Decode(&req)

	for attempt := 0; attempt < createRoomAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			s.logger.Error("generate room code failed", "error", err)
			writeError(w, http.StatusInternalServerError, "could not create room")
			return
		}
		err = s.store.CreateRoom(r.Context(), &store.Room{
			Code:      code,
			Name:      strings.TrimSpace(req.Name),
			CreatedAt: time.Now(),
		})
		if errors.Is(err, store.ErrConflict) {
			s.logger.Debug("room code collision", "room", code)
			continue
		}
		if err != nil {
			s.logger.Error("create room failed", "error", err)
			writeError(w, http.StatusInternalServerError, "could not create room")
			return
		}
		s.logger.Info("room created", "room", code)
		writeJSON(w, http.StatusOK, map[string]string{"room_code": code})
		return
	}

	writeError(w, http.StatusServiceUnavailable, "could not allocate a room code")
}

func (s *Server) handleRoomCodeCheck(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req struct {
		RoomCode string `json:"room_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.RoomCode))
	if code == "" {
		writeError(w, http.StatusBadRequest, "room_code is required")
		return
	}

	room, err := s.store.GetRoom(r.Context(), code)
	if err != nil {
		s.logger.Error("room lookup failed", "room", code, "error", err)
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": room != nil})
}

// generateRoomCode returns a random code drawn uniformly from roomCodeAlphabet.
func generateRoomCode() (string, error) {
	size := big.NewInt(int64(len(roomCodeAlphabet)))
	var b strings.Builder
	b.Grow(roomCodeLength)
	for i := 0; i < roomCodeLength; i++ {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b.WriteByte(roomCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// --- Health ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	stats := s.hub.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
		"peers":  stats.Peers,
		"rooms":  stats.Rooms,
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
