package daemon

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type stubController struct {
	mu       sync.Mutex
	triggers []TriggerRequest
	accept   bool
}

func (s *stubController) Status() StatusResponse {
	return StatusResponse{Repository: "/srv/restic", Runs: 4, Dropped: 1}
}

func (s *stubController) Trigger(req TriggerRequest) TriggerResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triggers = append(s.triggers, req)
	return TriggerResponse{Queued: s.accept, Dropped: !s.accept}
}

func startServer(t *testing.T, ctl Controller) (*Server, *Client, string) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(sock, ctl)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return srv, NewClient(sock), sock
}

func TestServer_Health(t *testing.T) {
	_, client, sock := startServer(t, &stubController{})

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", health.PID, os.Getpid())
	}
	if health.Repository != "/srv/restic" {
		t.Errorf("Repository = %q", health.Repository)
	}
	if health.StartedAt == "" {
		t.Error("expected non-empty started_at")
	}

	info, err := os.Stat(sock)
	if err != nil {
		t.Fatalf("socket missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("socket mode = %o, want 600", perm)
	}
}

func TestServer_Status(t *testing.T) {
	_, client, _ := startServer(t, &stubController{})

	st, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Runs != 4 || st.Dropped != 1 {
		t.Errorf("Status = %+v", st)
	}
}

func TestServer_Trigger(t *testing.T) {
	ctl := &stubController{accept: true}
	_, client, _ := startServer(t, ctl)

	resp, err := client.Trigger(context.Background(), TriggerRequest{Message: "before upgrade", Tags: []string{"pre-upgrade"}})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if !resp.Queued {
		t.Error("expected trigger to be queued")
	}
	ctl.mu.Lock()
	if len(ctl.triggers) != 1 || ctl.triggers[0].Message != "before upgrade" {
		t.Errorf("controller saw %+v", ctl.triggers)
	}
	ctl.accept = false
	ctl.mu.Unlock()

	resp, err = client.Trigger(context.Background(), TriggerRequest{})
	if err != nil {
		t.Fatalf("a dropped trigger is not an error: %v", err)
	}
	if resp.Queued || !resp.Dropped {
		t.Errorf("resp = %+v, want dropped", resp)
	}
}

func TestServer_TriggerInvalidJSON(t *testing.T) {
	_, _, sock := startServer(t, &stubController{})
	hc := NewClient(sock).httpClient

	resp, err := hc.Post("http://daemon/v1/trigger", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestServer_Shutdown(t *testing.T) {
	srv, client, _ := startServer(t, &stubController{})
	called := make(chan struct{})
	srv.SetOnShutdown(func() { close(called) })

	if err := client.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestServer_StopRemovesSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(sock, &stubController{})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Errorf("socket should be removed, stat err = %v", err)
	}

	if _, err := NewClient(sock).Health(context.Background()); err == nil {
		t.Error("expected an error talking to a stopped server")
	}
}
