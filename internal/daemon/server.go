package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"time"
)

// Controller is what the control server exposes.
type Controller interface {
	Status() StatusResponse
	Trigger(TriggerRequest) TriggerResponse
}

// Server is the daemon's HTTP API over a Unix socket.
type Server struct {
	sockPath   string
	ctl        Controller
	server     *http.Server
	listener   net.Listener
	startedAt  time.Time
	onShutdown func()
}

// NewServer creates a control server that will listen on sockPath.
func NewServer(sockPath string, ctl Controller) *Server {
	s := &Server{
		sockPath:  sockPath,
		ctl:       ctl,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/trigger", s.handleTrigger)
	mux.HandleFunc("POST /v1/shutdown", s.handleShutdown)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetOnShutdown sets the callback invoked when shutdown is requested.
func (s *Server) SetOnShutdown(fn func()) { s.onShutdown = fn }

// Start listens on the socket. A stale socket file is removed first; the
// daemon lock guarantees no live daemon owns it.
func (s *Server) Start() error {
	os.Remove(s.sockPath)
	listener, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.sockPath, 0o600); err != nil {
		listener.Close()
		return err
	}
	s.listener = listener
	s.startedAt = time.Now()
	go func() { _ = s.server.Serve(listener) }()
	return nil
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	os.Remove(s.sockPath)
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		PID:        os.Getpid(),
		Repository: s.ctl.Status().Repository,
		StartedAt:  s.startedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Status())
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req TriggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
			return
		}
	}
	resp := s.ctl.Trigger(req)
	status := http.StatusAccepted
	if !resp.Queued {
		status = http.StatusConflict
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleShutdown(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	if s.onShutdown != nil {
		go s.onShutdown()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
