// Package api serves the JSON HTTP surface: sessions, room creation, nearby discovery and join checks.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nearby/cmd/internal/room"
	"nearby/cmd/internal/session"

	"github.com/go-playground/validator/v10"
)

// SessionService is the subset of session.Manager the handlers use.
type SessionService interface {
	Create(ctx context.Context, username string) (session.Session, error)
	Validate(ctx context.Context, sessionID string) (session.Session, bool, error)
	Delete(ctx context.Context, sessionID string) (bool, error)
}

// RoomService is the subset of room.Registry the handlers use.
type RoomService interface {
	Create(ctx context.Context, name string, lat, lng float64) (room.Room, error)
	FindNearby(ctx context.Context, lat, lng, radiusKm float64) ([]room.Room, error)
	Join(ctx context.Context, roomID string) (room.JoinAck, error)
}

// Handler wires HTTP endpoints to the session and room services.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions SessionService
	rooms    RoomService

	validate *validator.Validate
	throttle *createThrottle
	now      func() time.Time
}

// NewHandler constructs a Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions SessionService, rooms RoomService) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		rooms:    rooms,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		throttle: newCreateThrottle(cfg.CreateMax, cfg.CreateWindow),
		now:      time.Now,
	}
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /session", h.handleCreateSession)
	mux.HandleFunc("GET /session/{sessionId}", h.handleGetSession)
	mux.HandleFunc("DELETE /session/{sessionId}", h.handleDeleteSession)
	// {sessionId} never matches an empty segment; answer those here instead of the mux's 404/405.
	mux.HandleFunc("GET /session/", h.handleMissingSessionID)
	mux.HandleFunc("DELETE /session/", h.handleMissingSessionID)
	mux.HandleFunc("POST /rooms", h.handleCreateRoom)
	mux.HandleFunc("GET /rooms/nearby", h.handleNearby)
	mux.HandleFunc("POST /rooms/{roomId}/join", h.handleJoin)
}

// ---- sessions ----

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !h.allowCreate(w, r) {
		return
	}

	var req createSessionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "username is required")
		return
	}

	s, err := h.sessions.Create(r.Context(), req.Username)
	if err != nil {
		writeDomainError(w, h.log, "api.session.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) handleMissingSessionID(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusBadRequest, "invalid_input", "sessionId is required")
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("sessionId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "sessionId is required")
		return
	}

	s, ok, err := h.sessions.Validate(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.log, "api.session.get", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("sessionId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "sessionId is required")
		return
	}

	deleted, err := h.sessions.Delete(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.log, "api.session.delete", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	writeJSON(w, http.StatusOK, deleteSessionResponse{Status: "deleted"})
}

// ---- rooms ----

func (h *Handler) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	if !h.allowCreate(w, r) {
		return
	}

	var req createRoomRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "name, lat and lng are required")
		return
	}

	rm, err := h.rooms.Create(r.Context(), req.Name, *req.Lat, *req.Lng)
	if err != nil {
		writeDomainError(w, h.log, "api.room.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, rm)
}

func (h *Handler) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(q.Get("lat")), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(q.Get("lng")), 64)
	if errLat != nil || errLng != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "lat and lng query parameters are required")
		return
	}
	if err := h.validate.Struct(nearbyQuery{Lat: lat, Lng: lng}); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "lat must be within [-90,90] and lng within [-180,180]")
		return
	}

	rooms, err := h.rooms.FindNearby(r.Context(), lat, lng, h.cfg.RadiusKm)
	if err != nil {
		writeDomainError(w, h.log, "api.room.nearby", err)
		return
	}
	if rooms == nil {
		rooms = []room.Room{}
	}
	writeJSON(w, http.StatusOK, rooms)
}

func (h *Handler) handleJoin(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("roomId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "roomId is required")
		return
	}

	ack, err := h.rooms.Join(r.Context(), id)
	if err != nil {
		writeDomainError(w, h.log, "api.room.join", err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) allowCreate(w http.ResponseWriter, r *http.Request) bool {
	ok, retryAfter := h.throttle.allow(clientIP(r, h.cfg.TrustProxy), h.now())
	if !ok {
		h.log.Info("api.throttle", "path", r.URL.Path, "retry_after", retryAfter)
		writeRateLimited(w, retryAfter)
	}
	return ok
}
