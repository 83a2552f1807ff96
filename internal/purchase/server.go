package purchase

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Server handles HTTP requests for purchases
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Enabled reports whether credentials are configured
func (a BasicAuth) Enabled() bool {
	return a.Username != "" || a.Password != ""
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if !s.basicAuth.Enabled() {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Purchase Tracker"`)
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/purchases/preview", s.requireAuth(s.handlePreview))
	s.mux.HandleFunc("GET /api/purchases/export.xlsx", s.requireAuth(s.handleExport))
	s.mux.HandleFunc("DELETE /api/purchases/filtered", s.requireAuth(s.handleDeleteFiltered))

	s.mux.HandleFunc("GET /api/purchases/{id}/document", s.requireAuth(s.handleGetDocument))
	s.mux.HandleFunc("GET /api/purchases/{id}", s.requireAuth(s.handleGetPurchase))
	s.mux.HandleFunc("PUT /api/purchases/{id}", s.requireAuth(s.handleUpdatePurchase))
	s.mux.HandleFunc("DELETE /api/purchases/{id}", s.requireAuth(s.handleDeletePurchase))

	s.mux.HandleFunc("GET /api/purchases", s.requireAuth(s.handleListPurchases))
	s.mux.HandleFunc("POST /api/purchases", s.requireAuth(s.handleCreatePurchase))
	s.mux.HandleFunc("DELETE /api/purchases", s.requireAuth(s.handleDeleteAll))

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /{$}", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
}

// ServeHTTP wraps the mux with CORS handling
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	// Handle preflight OPTIONS requests
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
