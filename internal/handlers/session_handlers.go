package handlers

import (
	"net/http"
	"strings"

	"collab-app/internal/auth"
	"collab-app/internal/collab"
	"collab-app/internal/docsync"
	"collab-app/pkg/logger"

	"github.com/gorilla/websocket"
)

// SessionHandlers serves the two WebSocket protocols: the session protocol
// (presence, whiteboard, chat, signaling) and the opaque document-sync
// channel.
type SessionHandlers struct {
	authService  *auth.Service
	router       *collab.Router
	collaborator docsync.Collaborator
	upgrader     websocket.Upgrader
}

func NewSessionHandlers(authService *auth.Service, router *collab.Router, collaborator docsync.Collaborator) *SessionHandlers {
	return &SessionHandlers{
		authService:  authService,
		router:       router,
		collaborator: collaborator,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleSession authenticates the handshake and, on success, hands the
// connection to the event router. Authentication failure refuses the
// connection before any room-scoped behavior is reachable.
func (h *SessionHandlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	principal, err := h.authService.Principal(r.URL.Query().Get("token"))
	if err != nil {
		logger.Info("Session handshake refused: %v", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := collab.NewClient(conn, *principal, h.router)
	h.router.Connect(client)

	go client.WritePump()
	go client.ReadPump()
}

// HandleDocument upgrades a document-sync connection and hands the raw
// stream to the CRDT collaborator. The document name is the path segment
// after the protocol prefix; the protocol itself is never parsed here.
func (h *SessionHandlers) HandleDocument(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := h.authService.Principal(r.URL.Query().Get("token")); err != nil {
			logger.Info("Document handshake refused: %v", err)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		document := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if document == "" || strings.Contains(document, "/") {
			http.Error(w, "missing document name", http.StatusBadRequest)
			return
		}

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Upgrade error: %v", err)
			return
		}

		go h.collaborator.ServeDocument(conn, document)
	}
}
