// Package web provides an HTTP status server for the brain daemon.
package web

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/evencrop/brain/internal/status"
)

// TramlineFunc applies a tramline change coming from the web UI.
// off=true suppresses the unit, off=false restores it.
type TramlineFunc func(unit int, off bool) error

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	tramline   TramlineFunc
}

// New creates a Server that reads state from the given tracker. tramline
// may be nil, in which case POST /tramline returns 503.
func New(addr string, tracker *status.Tracker, tramline TramlineFunc) *Server {
	s := &Server{tracker: tracker, tramline: tramline}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/tramline", s.handleTramline)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleTramline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.tramline == nil {
		http.Error(w, "tramline control unavailable", http.StatusServiceUnavailable)
		return
	}

	unit, err := strconv.Atoi(r.FormValue("unit"))
	if err != nil || unit < 1 {
		http.Error(w, "invalid unit", http.StatusBadRequest)
		return
	}
	off, err := strconv.ParseBool(r.FormValue("off"))
	if err != nil {
		http.Error(w, "invalid off value", http.StatusBadRequest)
		return
	}

	if err := s.tramline(unit, off); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Browser form posts go back to the status page.
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
