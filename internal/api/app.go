package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/Realm-101/unbuilt-collab/internal/auth"
	"github.com/Realm-101/unbuilt-collab/internal/collab"
	"github.com/Realm-101/unbuilt-collab/internal/config"
	"github.com/Realm-101/unbuilt-collab/internal/database"
	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"
)

type CollabApp struct {
	log            *log.Logger
	db             database.AccountRepository
	mux            *http.Server
	cs             *collab.CollabServer
	signingKey     []byte
	allowedOrigins []string
	authenticator  auth.Authenticator
	// overridable in tests
	generateSessionId func() (string, error)
}

func NewCollabApp(mux *http.ServeMux, logger *log.Logger, cs *collab.CollabServer, db database.AccountRepository, cfg *config.Config) *CollabApp {
	s := &CollabApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		// bearer collab tokens first, then the legacy session cookie
		authenticator: auth.Chain{
			&auth.TokenAuthenticator{SigningKey: cfg.SigningKey, DB: db},
			&auth.SessionAuthenticator{SigningKey: cfg.SigningKey, DB: db},
		},
		generateSessionId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRooms))
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
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
