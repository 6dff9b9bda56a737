// Package gate binds the tidy engine to a host build: it waits for the
// build-done signal, checks the environment allow-list and runs the tidier
// once on the resolved roots.
package gate

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/schaermu/tidyout/internal/config"
	"github.com/schaermu/tidyout/internal/hooks"
	"github.com/schaermu/tidyout/internal/paths"
	"github.com/schaermu/tidyout/internal/tidy"
)

const (
	// Owner is the name the gate taps host hooks with.
	Owner    = "tidyout"
	hookName = hooks.BuildDone
)

// State is the activation state of a Gate.
type State int

const (
	// Idle means the build-done signal has not fired yet.
	Idle State = iota
	// Evaluating means the signal fired and the gate ran.
	Evaluating
)

func (s State) String() string {
	if s == Evaluating {
		return "evaluating"
	}
	return "idle"
}

// Gate runs the tidier exactly once per build.
type Gate struct {
	cfg      *config.Config
	resolver *paths.Resolver
	tidier   *tidy.Tidier
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a gate for cfg. base is the directory relative input and
// output locations are resolved against. Diagnostics go to logger only
// when cfg.Verbose is set.
func New(cfg *config.Config, fs billy.Filesystem, base string, transform tidy.Transformer, logger *slog.Logger) *Gate {
	if !cfg.Verbose {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("plugin", Owner)

	return &Gate{
		cfg:      cfg,
		resolver: paths.NewResolver(fs, base),
		tidier:   tidy.New(fs, cfg, transform, logger),
		logger:   logger,
	}
}

// Allowed reports whether env passes the allow-list.
func Allowed(env string, allowed config.AllowList) bool {
	return allowed.Allows(env)
}

// Apply registers the gate with host. It fails right away when the host
// has no build-done hook, since the gate could never fire.
func (g *Gate) Apply(host hooks.Host) error {
	hook, ok := host.Hook(hookName)
	if !ok {
		return ErrIncompatibleHost
	}
	hook.Tap(Owner, g.onBuildDone)
	return nil
}

// State returns the current activation state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

func (g *Gate) onBuildDone(ctx context.Context) error {
	g.mu.Lock()
	if g.state == Evaluating {
		g.mu.Unlock()
		g.logger.Debug("build-done signal already handled, ignoring")
		return nil
	}
	g.state = Evaluating
	g.mu.Unlock()

	if !Allowed(g.cfg.Env, g.cfg.AllowedEnvs) {
		g.logger.Info("tidying skipped, environment is excluded from the allowed list",
			"env", g.cfg.Env,
			"allowed_envs", g.cfg.AllowedEnvs.String())
		return nil
	}

	g.logger.Info("starting to tidy output", "env", g.cfg.Env)

	inDir, ok := g.resolver.Input(g.cfg)
	if !ok {
		err := &InputNotFoundError{Location: paths.InputLocation(g.cfg)}
		g.logger.Warn(err.Error())
		return err
	}

	outDir, ok := g.resolver.Output(g.cfg, inDir)
	if !ok {
		err := &OutputNotFoundError{Location: g.cfg.OutputRoot}
		g.logger.Warn(err.Error())
		return err
	}

	stats, err := g.tidier.Tidy(ctx, inDir, outDir)
	if err != nil {
		return err
	}

	g.logger.Info("tidy complete",
		"input", inDir,
		"output", outDir,
		"dirs", stats.Dirs,
		"files", stats.Files,
		"tidied", stats.Tidied)
	return nil
}
