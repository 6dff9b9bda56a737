package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/schaermu/tidyout/internal/config"
)

// mockRunner records the environments it was run for
type mockRunner struct {
	mu   sync.Mutex
	envs []string
}

func (m *mockRunner) Run(_ context.Context, env string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envs = append(m.envs, env)
	return nil
}

func (m *mockRunner) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.envs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestConfig(t *testing.T) (config.ServeConfig, string) {
	t.Helper()

	tmpDir := t.TempDir()

	secretPath := filepath.Join(tmpDir, "webhook_secret")
	secret := "test-secret-key"
	if err := os.WriteFile(secretPath, []byte(secret+"\n"), 0600); err != nil {
		t.Fatalf("failed to write secret file: %v", err)
	}

	cfg := config.ServeConfig{
		Enabled:     true,
		ListenAddr:  "127.0.0.1:0",
		SecretFile:  secretPath,
		AllowedEnvs: []string{"staging", "production"},
	}

	return cfg, secret
}

func newTestServer(t *testing.T, cfg config.ServeConfig, runner Runner) *Server {
	t.Helper()
	server, err := NewServer(cfg, runner, testLogger())
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	return server
}

func computeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func postNotification(server *Server, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	rec := httptest.NewRecorder()
	server.handleNotification(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	server := newTestServer(t, cfg, &mockRunner{})

	if string(server.secret) != "test-secret-key" {
		t.Errorf("expected secret to be 'test-secret-key', got %q", string(server.secret))
	}
}

func TestNewServer_MissingSecretFile(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	cfg.SecretFile = "/nonexistent/secret"

	if _, err := NewServer(cfg, &mockRunner{}, testLogger()); err == nil {
		t.Fatal("expected error for missing secret file, got nil")
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	t.Setenv("LISTEN_PID", "")
	server := newTestServer(t, cfg, &mockRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned error after cancel: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}

func TestStart_ListenError(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	cfg.ListenAddr = "256.0.0.1:99999"
	t.Setenv("LISTEN_PID", "")
	server := newTestServer(t, cfg, &mockRunner{})

	if err := server.Start(context.Background()); err == nil {
		t.Fatal("expected error for invalid listen address")
	}
}

func TestVerifySignature(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	server := newTestServer(t, cfg, &mockRunner{})

	body := []byte(`{"env":"production"}`)

	tests := []struct {
		name      string
		body      []byte
		signature string
		want      bool
	}{
		{name: "valid signature", body: body, signature: computeSignature(body, secret), want: true},
		{name: "invalid signature", body: body, signature: "sha256=invalid", want: false},
		{name: "missing sha256 prefix", body: body, signature: "notsha256", want: false},
		{name: "empty signature", body: body, signature: "", want: false},
		{name: "wrong body", body: []byte(`{"env":"staging"}`), signature: computeSignature(body, secret), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := server.verifySignature(tt.body, tt.signature); got != tt.want {
				t.Errorf("verifySignature() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEnvAllowed(t *testing.T) {
	cfg, _ := setupTestConfig(t)

	tests := []struct {
		name    string
		allowed []string
		env     string
		want    bool
	}{
		{name: "allowed env", allowed: []string{"staging", "production"}, env: "production", want: true},
		{name: "disallowed env", allowed: []string{"production"}, env: "local", want: false},
		{name: "no filter (allow all)", allowed: nil, env: "anything", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.AllowedEnvs = tt.allowed
			server := newTestServer(t, cfg, &mockRunner{})
			if got := server.isEnvAllowed(tt.env); got != tt.want {
				t.Errorf("isEnvAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHandleNotification_ValidRequest(t *testing.T) {
	cfg, secret := setupTestConfig(t)
	runner := &mockRunner{}
	server := newTestServer(t, cfg, runner)
	server.delay = 10 * time.Millisecond

	body := []byte(`{"env":"production","build":"42"}`)
	rec := postNotification(server, body, computeSignature(body, secret))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("Tidy triggered")) {
		t.Errorf("expected 'Tidy triggered' message, got: %s", rec.Body.String())
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(runner.calls()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := runner.calls(); len(got) != 1 || got[0] != "production" {
		t.Errorf("expected one run for production, got %v", got)
	}
}

func TestHandleNotification_Rejections(t *testing.T) {
	cfg, secret := setupTestConfig(t)

	tests := []struct {
		name        string
		method      string
		contentType string
		body        []byte
		sign        bool
		wantStatus  int
		wantBody    string
	}{
		{name: "invalid method", method: http.MethodGet, wantStatus: http.StatusMethodNotAllowed},
		{name: "invalid content type", method: http.MethodPost, contentType: "text/plain", body: []byte("{}"), wantStatus: http.StatusBadRequest},
		{name: "invalid signature", method: http.MethodPost, contentType: "application/json", body: []byte(`{"env":"production"}`), wantStatus: http.StatusForbidden},
		{name: "invalid payload", method: http.MethodPost, contentType: "application/json", body: []byte(`{env`), sign: true, wantStatus: http.StatusBadRequest},
		{name: "missing env", method: http.MethodPost, contentType: "application/json", body: []byte(`{"build":"1"}`), sign: true, wantStatus: http.StatusBadRequest},
		{name: "unconfigured env", method: http.MethodPost, contentType: "application/json", body: []byte(`{"env":"local"}`), sign: true, wantStatus: http.StatusOK, wantBody: "Environment not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockRunner{}
			server := newTestServer(t, cfg, runner)

			req := httptest.NewRequest(tt.method, "/", bytes.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			if tt.sign {
				req.Header.Set(SignatureHeader, computeSignature(tt.body, secret))
			} else {
				req.Header.Set(SignatureHeader, "sha256=invalid")
			}

			rec := httptest.NewRecorder()
			server.handleNotification(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantBody != "" && !bytes.Contains(rec.Body.Bytes(), []byte(tt.wantBody)) {
				t.Errorf("expected %q message, got: %s", tt.wantBody, rec.Body.String())
			}

			time.Sleep(10 * time.Millisecond)
			if got := runner.calls(); len(got) != 0 {
				t.Errorf("expected no runs, got %v", got)
			}
		})
	}
}

func TestDebouncer(t *testing.T) {
	var callCount int
	var mu sync.Mutex
	d := &debouncer{delay: 50 * time.Millisecond}

	// Trigger multiple times rapidly
	for i := 0; i < 5; i++ {
		d.trigger(func() {
			mu.Lock()
			callCount++
			mu.Unlock()
		})
		time.Sleep(10 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	count := callCount
	mu.Unlock()

	if count != 1 {
		t.Errorf("expected callback to be called once, got %d", count)
	}
}

func TestDebouncerFor_PerEnvironment(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	server := newTestServer(t, cfg, &mockRunner{})

	if server.debouncerFor("staging") != server.debouncerFor("staging") {
		t.Error("expected the same debouncer for the same environment")
	}
	if server.debouncerFor("staging") == server.debouncerFor("production") {
		t.Error("expected separate debouncers per environment")
	}
}

// blockingRunner blocks the first run until proceed is closed.
type blockingRunner struct {
	mockRunner
	started chan struct{}
	proceed chan struct{}
	once    sync.Once
}

func (b *blockingRunner) Run(ctx context.Context, env string) error {
	b.once.Do(func() {
		close(b.started)
		<-b.proceed
	})
	return b.mockRunner.Run(ctx, env)
}

// TestPerformRun_SingleFlight verifies that concurrent performRun calls use
// single-flight semantics: one run at a time, one queued re-run per
// environment, serviced after the current run.
func TestPerformRun_SingleFlight(t *testing.T) {
	cfg, _ := setupTestConfig(t)
	runner := &blockingRunner{
		started: make(chan struct{}),
		proceed: make(chan struct{}),
	}
	server := newTestServer(t, cfg, runner)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.performRun(ctx, "production")
	}()

	<-runner.started

	var wg sync.WaitGroup
	for _, env := range []string{"staging", "staging", "production", "staging"} {
		wg.Add(1)
		go func(env string) {
			defer wg.Done()
			server.performRun(ctx, env)
		}(env)
	}
	wg.Wait()

	server.runMu.Lock()
	pending := len(server.pending)
	server.runMu.Unlock()

	if pending != 2 {
		t.Errorf("expected 2 pending environments, got %d", pending)
	}

	close(runner.proceed)
	<-done // performRun only returns once all pending runs have completed

	server.runMu.Lock()
	stillRunning := server.running
	stillPending := len(server.pending)
	server.runMu.Unlock()

	if stillRunning {
		t.Error("expected running to be false after all runs completed")
	}
	if stillPending != 0 {
		t.Error("expected no pending runs after they were serviced")
	}

	want := []string{"production", "production", "staging"}
	got := runner.calls()
	if len(got) != len(want) {
		t.Fatalf("expected runs %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("run %d = %s, want %s", i, got[i], want[i])
		}
	}
}
