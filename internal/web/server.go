package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/flybot/flybot/internal/debug"
	"github.com/flybot/flybot/internal/params"
	"github.com/flybot/flybot/internal/telemetry"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, broadcaster *StatusBroadcaster, store *params.Store, state *telemetry.Snapshot, flush FlushFunc) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	handlers := NewHandlers(broadcaster, store, state, flush, subFS)

	return &Server{
		addr:     addr,
		handlers: handlers,
	}
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /state", s.handlers.HandleState)
	mux.HandleFunc("GET /config.json", s.handlers.HandleConfig)
	mux.HandleFunc("POST /config_value", s.handlers.HandleConfigValue)
	mux.HandleFunc("POST /config_restore", s.handlers.HandleConfigRestore)
	mux.HandleFunc("GET /ws", s.handlers.HandleWebSocket)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(s.handlers.staticFS))))
	mux.HandleFunc("GET /{$}", s.handlers.ServeIndex) // exact match for root only

	return mux
}

// Session returns the id announced to telemetry clients.
func (s *Server) Session() string { return s.handlers.Session.String() }

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		debug.Info("web server listening on %s (session %s)", s.addr, s.Session())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
