// Package webhook receives build-finished notifications over HTTP, for
// builds that run on another machine or in CI.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/schaermu/tidyout/internal/activation"
	"github.com/schaermu/tidyout/internal/config"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Tidyout-Signature-256"

// Notification is the payload a build posts when it finished.
type Notification struct {
	Env   string `json:"env"`
	Build string `json:"build"`
}

// Runner runs the post-build pipeline for one environment.
type Runner interface {
	Run(ctx context.Context, env string) error
}

// RunnerFunc adapts a plain function to a Runner.
type RunnerFunc func(ctx context.Context, env string) error

// Run calls f(ctx, env).
func (f RunnerFunc) Run(ctx context.Context, env string) error {
	return f(ctx, env)
}

// Server implements the notification HTTP server
type Server struct {
	cfg    config.ServeConfig
	runner Runner
	logger *slog.Logger
	secret []byte
	delay  time.Duration

	runMu      sync.Mutex      // guards running and pending
	running    bool            // whether a run is currently in progress
	pending    map[string]bool // environments to re-run after the current one
	debounceMu sync.Mutex
	debouncers map[string]*debouncer
}

// debouncer implements debouncing for notifications
type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	delay    time.Duration
	callback func()
}

// NewServer creates a new notification server
func NewServer(cfg config.ServeConfig, runner Runner, logger *slog.Logger) (*Server, error) {
	secret, err := os.ReadFile(cfg.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook secret: %w", err)
	}

	// Trim any whitespace/newlines from secret
	secret = []byte(strings.TrimSpace(string(secret)))

	return &Server{
		cfg:        cfg,
		runner:     runner,
		logger:     logger,
		secret:     secret,
		delay:      2 * time.Second,
		pending:    make(map[string]bool),
		debouncers: make(map[string]*debouncer),
	}, nil
}

// Start serves notifications until ctx is canceled. A socket passed in by
// systemd is preferred over listening on the configured address.
func (s *Server) Start(ctx context.Context) error {
	listener, err := activation.Listener()
	if err != nil {
		return fmt.Errorf("socket activation: %w", err)
	}
	if listener == nil {
		listener, err = net.Listen("tcp", s.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleNotification)

	server := &http.Server{
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("notification server starting", "addr", listener.Addr().String())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down notification server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleNotification handles incoming build notifications
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.logger.Warn("rejecting non-POST request", "method", r.Method)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" {
		s.logger.Warn("rejecting request with invalid content type", "content_type", contentType)
		http.Error(w, "Invalid content type", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MB limit
	if err != nil {
		s.logger.Error("failed to read request body", "error", err)
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if !s.verifySignature(body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("rejecting request with invalid signature")
		http.Error(w, "Invalid signature", http.StatusForbidden)
		return
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		s.logger.Error("failed to parse notification payload", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if n.Env == "" {
		http.Error(w, "Missing env", http.StatusBadRequest)
		return
	}

	if !s.isEnvAllowed(n.Env) {
		s.logger.Info("ignoring notification for unconfigured environment", "env", n.Env)
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "Environment not configured\n")
		return
	}

	s.logger.Info("notification accepted", "env", n.Env, "build", n.Build)

	env := n.Env
	s.debouncerFor(env).trigger(func() {
		s.performRun(context.Background(), env)
	})

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "Tidy triggered\n")
}

// verifySignature verifies the HMAC signature of the body
func (s *Server) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}

	// Signature format: sha256=<hex>
	if !strings.HasPrefix(signature, "sha256=") {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	// Constant-time comparison
	return hmac.Equal([]byte(signature), []byte(expected))
}

// isEnvAllowed checks if the environment may trigger runs
func (s *Server) isEnvAllowed(env string) bool {
	if len(s.cfg.AllowedEnvs) == 0 {
		return true // no filter configured
	}
	return slices.Contains(s.cfg.AllowedEnvs, env)
}

func (s *Server) debouncerFor(env string) *debouncer {
	s.debounceMu.Lock()
	defer s.debounceMu.Unlock()
	d, ok := s.debouncers[env]
	if !ok {
		d = &debouncer{delay: s.delay}
		s.debouncers[env] = d
	}
	return d
}

// performRun runs the pipeline for env with single-flight semantics.
// Requests arriving while a run is in progress are queued once per
// environment and serviced in name order when the current run finished.
func (s *Server) performRun(ctx context.Context, env string) {
	s.runMu.Lock()
	if s.running {
		s.pending[env] = true
		s.runMu.Unlock()
		s.logger.Info("run already in progress, queuing pending re-run", "env", env)
		return
	}
	s.running = true
	s.runMu.Unlock()

	for {
		s.logger.Info("running post-build pipeline", "env", env)
		if err := s.runner.Run(ctx, env); err != nil {
			s.logger.Error("post-build pipeline failed", "env", env, "error", err)
		} else {
			s.logger.Info("post-build pipeline completed", "env", env)
		}

		s.runMu.Lock()
		if len(s.pending) == 0 {
			s.running = false
			s.runMu.Unlock()
			break
		}
		next := make([]string, 0, len(s.pending))
		for e := range s.pending {
			next = append(next, e)
		}
		sort.Strings(next)
		env = next[0]
		delete(s.pending, env)
		s.runMu.Unlock()

		s.logger.Info("re-running pipeline due to pending request", "env", env)
	}
}

// trigger schedules the callback to run after the debounce delay
func (d *debouncer) trigger(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.callback = callback

	if d.timer != nil {
		d.timer.Stop()
	}

	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		cb := d.callback
		d.mu.Unlock()

		if cb != nil {
			cb()
		}
	})
}
