package main

import (
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"collab-app/internal/auth"
	"collab-app/internal/collab"
	"collab-app/internal/config"
	"collab-app/internal/database"
	"collab-app/internal/docsync"
	"collab-app/internal/handlers"
	"collab-app/pkg/logger"
)

const (
	sessionPrefix  = "/ws/session"
	documentPrefix = "/ws/doc"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize services
	authService := auth.NewService(cfg)
	registry := collab.NewRegistry()
	gate := collab.NewGate(db, db, cfg.Collab.DefaultRoomCapacity, cfg.Collab.StoreTimeout)
	router := collab.NewRouter(registry, gate, db, cfg.Collab.MaxChatLength, cfg.Collab.StoreTimeout)
	relay := docsync.NewRelay()

	// Initialize handlers
	sessionHandlers := handlers.NewSessionHandlers(authService, router, relay)
	collabHandlers := handlers.NewCollabHandlers(authService, gate, db, db)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, sessionHandlers, collabHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 Session endpoint: ws://localhost%s%s", cfg.Server.Port, sessionPrefix)
	logger.Info("📄 Document endpoint: ws://localhost%s%s/{document}", cfg.Server.Port, documentPrefix)
	printAPIEndpoints()

	// Graceful shutdown
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")
}

func setupRoutes(mux *http.ServeMux, sessionHandlers *handlers.SessionHandlers, collabHandlers *handlers.CollabHandlers) {
	// WebSocket upgrade routes: both protocols share the listener, split
	// by the upgrade mux before any protocol bytes flow.
	wsMux := handlers.NewUpgradeMux()
	wsMux.Handle(sessionPrefix, http.HandlerFunc(sessionHandlers.HandleSession))
	wsMux.Handle(documentPrefix, sessionHandlers.HandleDocument(documentPrefix))
	mux.Handle("/ws/", wsMux)

	// Appointment sub-routes
	mux.HandleFunc("/appointments/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		if len(parts) < 4 || parts[2] == "" {
			http.Error(w, "invalid path", http.StatusBadRequest)
			return
		}

		// /appointments/{id}/chat
		if parts[3] == "chat" && r.Method == http.MethodGet {
			collabHandlers.GetChatHistory(w, r)
			return
		}

		// /appointments/{id}/whiteboard
		if parts[3] == "whiteboard" {
			switch r.Method {
			case http.MethodGet:
				collabHandlers.GetWhiteboardSnapshot(w, r)
			case http.MethodPut:
				collabHandlers.SaveWhiteboardSnapshot(w, r)
			default:
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			}
			return
		}

		http.Error(w, "endpoint not found", http.StatusNotFound)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   GET  /appointments/{id}/chat")
	logger.Info("   GET  /appointments/{id}/whiteboard")
	logger.Info("   PUT  /appointments/{id}/whiteboard")
}
