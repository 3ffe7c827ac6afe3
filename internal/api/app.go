package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/bizdocs/collabhub/internal/config"
	"github.com/bizdocs/collabhub/internal/database"
	"github.com/bizdocs/collabhub/internal/hub"
	"github.com/bizdocs/collabhub/internal/notification"
	"github.com/bizdocs/collabhub/internal/token"
)

type CollabApp struct {
	log            *log.Logger
	db             database.Repository
	mux            *http.Server
	hub            *hub.Hub
	issuer         *token.Issuer
	notifications  *notification.Service
	signingKey     []byte
	allowedOrigins []string
}

func NewCollabApp(mux *http.ServeMux, logger *log.Logger, h *hub.Hub, issuer *token.Issuer,
	notifications *notification.Service, db database.Repository, cfg *config.Config) *CollabApp {
	s := &CollabApp{
		log:            logger,
		db:             db,
		hub:            h,
		issuer:         issuer,
		notifications:  notifications,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/realtime/token", s.authMiddleware(s.connectionToken))
	mux.Handle("POST /api/notifications", s.authMiddleware(s.createNotification))
	mux.Handle("GET /api/notifications", s.authMiddleware(s.listNotifications))
	mux.Handle("GET /api/notifications/unread-count", s.authMiddleware(s.unreadCount))
	mux.Handle("POST /api/notifications/read", s.authMiddleware(s.markNotificationRead))
	mux.Handle("POST /api/notifications/read-all", s.authMiddleware(s.markAllNotificationsRead))
	mux.HandleFunc("GET /ws", s.serveWs)

	handler := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	handler = s.errorHandler(handler)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handler,
	}

	s.mux = srv
	return s
}

func (s *CollabApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *CollabApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
