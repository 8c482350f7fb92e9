package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"collab-app/internal/auth"
	"collab-app/internal/collab"
	"collab-app/internal/database"
	"collab-app/internal/models"
	"collab-app/pkg/logger"
)

const chatHistoryLimit = 50

// CollabHandlers serves the REST surface next to the live session: chat
// history and whiteboard snapshots. Every endpoint requires a valid token
// and appointment eligibility.
type CollabHandlers struct {
	authService *auth.Service
	gate        *collab.Gate
	chats       database.ChatStore
	whiteboards database.WhiteboardStore
}

func NewCollabHandlers(authService *auth.Service, gate *collab.Gate, chats database.ChatStore, whiteboards database.WhiteboardStore) *CollabHandlers {
	return &CollabHandlers{
		authService: authService,
		gate:        gate,
		chats:       chats,
		whiteboards: whiteboards,
	}
}

func (h *CollabHandlers) GetChatHistory(w http.ResponseWriter, r *http.Request) {
	_, appointmentID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	messages, err := h.chats.ListChatMessages(r.Context(), appointmentID, chatHistoryLimit)
	if err != nil {
		logger.Error("Chat history error for %s: %v", appointmentID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*models.ChatMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(messages)
}

func (h *CollabHandlers) GetWhiteboardSnapshot(w http.ResponseWriter, r *http.Request) {
	_, appointmentID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	snapshot, err := h.whiteboards.GetSnapshot(r.Context(), appointmentID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			http.Error(w, "no snapshot", http.StatusNotFound)
			return
		}
		logger.Error("Snapshot read error for %s: %v", appointmentID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snapshot)
}

type saveSnapshotRequest struct {
	Image string `json:"image"`
}

func (h *CollabHandlers) SaveWhiteboardSnapshot(w http.ResponseWriter, r *http.Request) {
	_, appointmentID, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var req saveSnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Image == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.whiteboards.SaveSnapshot(r.Context(), appointmentID, req.Image); err != nil {
		logger.Error("Snapshot write error for %s: %v", appointmentID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// authorize authenticates the request and checks appointment eligibility.
// On failure it writes the response itself and returns ok=false.
func (h *CollabHandlers) authorize(w http.ResponseWriter, r *http.Request) (*models.Principal, string, bool) {
	principal, err := h.authService.Principal(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, "", false
	}

	appointmentID, err := appointmentIDFromPath(r)
	if err != nil {
		http.Error(w, "invalid appointment ID", http.StatusBadRequest)
		return nil, "", false
	}

	if err := h.gate.CheckEligibility(r.Context(), principal.UserID, appointmentID); err != nil {
		if errors.Is(err, collab.ErrRoomNotFound) {
			http.Error(w, "appointment not found", http.StatusNotFound)
		} else {
			http.Error(w, "forbidden", http.StatusForbidden)
		}
		return nil, "", false
	}

	return principal, appointmentID, true
}

// appointmentIDFromPath extracts {id} from /appointments/{id}/...
func appointmentIDFromPath(r *http.Request) (string, error) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 || parts[2] == "" {
		return "", fmt.Errorf("invalid path")
	}
	return parts[2], nil
}
