package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tunnelgate/cmd/internal/access"
	"tunnelgate/cmd/internal/auth/session"
)

func newTestApp(t *testing.T, dir string) *App {
	t.Helper()

	cfg := Config{
		StorageDir: dir,
		LogLevel:   "error",
		LogFormat:  "json",
		Session:    session.DefaultConfig(),
	}
	a, err := New(context.Background(), cfg, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestNew_CreatesStorageLayout(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "storage")
	newTestApp(t, dir)

	if st, err := os.Stat(filepath.Join(dir, SessionsDir)); err != nil || !st.IsDir() {
		t.Fatalf("sessions dir missing: %v", err)
	}
}

func TestHandler_OpsEndpoints(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, t.TempDir())
	h := a.Handler()

	get := func(path string) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		return rr
	}

	if rr := get("/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("/healthz status=%d", rr.Code)
	}
	if rr := get("/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz before Run status=%d want 503", rr.Code)
	}

	a.ready.Store(true)
	if rr := get("/readyz"); rr.Code != http.StatusOK {
		t.Fatalf("/readyz status=%d", rr.Code)
	}

	rr := get("/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"tunnelgate_session_table_size", "tunnelgate_access_cache_hits_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Fatalf("/metrics missing %s", want)
		}
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !a.ready.Load() {
		if time.Now().After(deadline) {
			t.Fatalf("app never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	if a.ready.Load() {
		t.Fatalf("ready flag still set after stop")
	}
}

func TestApp_ManagerRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()
	a := newTestApp(t, dir)

	rec, err := a.Manager().Tokens().Create(ctx, now, access.CreateParams{MaxClientCount: 2})
	if err != nil {
		t.Fatalf("Create token: %v", err)
	}
	res, err := a.Manager().SessionCreate(ctx, now, session.Request{TokenID: rec.TokenID, ClientInfo: session.ClientInfo{ClientID: "c"}})
	if err != nil || res.ErrorCode != session.CodeOk {
		t.Fatalf("SessionCreate: res=%+v err=%v", res, err)
	}

	// A second App on the same storage sees the token and the session.
	b := newTestApp(t, dir)
	if _, ok := b.Manager().Sessions().Get(res.SessionID); !ok {
		t.Fatalf("session %d not reloaded", res.SessionID)
	}
	if _, err := b.Manager().Tokens().Get(ctx, rec.TokenID); err != nil {
		t.Fatalf("token not reloaded: %v", err)
	}
}
