package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/gharbills/bill-tracker/internal/tracker"
)

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// Server exposes the bill pipeline and record store as a JSON API for the
// dashboard.
type Server struct {
	service   *tracker.Service
	basicAuth BasicAuth
	cache     *listCache
	mux       *http.ServeMux
	httpSrv   *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *tracker.Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *tracker.Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		cache:     &listCache{},
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /api/bills", s.protect(s.handleProcessBill))
	s.mux.HandleFunc("POST /api/bills/batch", s.protect(s.handleProcessBatch))
	s.mux.HandleFunc("GET /api/expenditures", s.protect(s.handleListExpenditures))
	s.mux.HandleFunc("PUT /api/expenditures/{id}", s.protect(s.handleUpdateExpenditure))
	s.mux.HandleFunc("DELETE /api/expenditures/{id}", s.protect(s.handleDeleteExpenditure))
	s.mux.HandleFunc("GET /api/summary", s.protect(s.handleSummary))
	s.mux.HandleFunc("OPTIONS /", s.corsPreflight)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 180 * time.Second, // extraction can take a while
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// Handler returns the underlying mux, for tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// protect wraps a handler with CORS headers and basic auth
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Bill Tracker"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) corsPreflight(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	w.WriteHeader(http.StatusNoContent)
}

// authenticate checks basic auth credentials; no auth configured means open
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}
