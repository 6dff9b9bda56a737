// Package buildhost is the command-line host: it runs the site build and
// fires the build-done signal when the build succeeded.
package buildhost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/schaermu/tidyout/internal/hooks"
)

// EnvVar carries the build environment name to the build command.
const EnvVar = "TIDYOUT_ENV"

// Host runs a build command and owns the lifecycle hooks post-build steps
// tap into.
type Host struct {
	*hooks.Registry
	command []string
	dir     string
	env     string
	logger  *slog.Logger
}

// New creates a host. An empty command skips the build and only fires the
// hooks, for sites built by an earlier step.
func New(command []string, dir, env string, logger *slog.Logger) *Host {
	return &Host{
		Registry: hooks.NewRegistry(hooks.BuildDone),
		command:  command,
		dir:      dir,
		env:      env,
		logger:   logger,
	}
}

// Build runs the build command and then fires BuildDone. A failed build
// never fires the hook. Errors from hook callbacks are returned as is.
func (h *Host) Build(ctx context.Context) error {
	if len(h.command) > 0 {
		h.logger.Info("running build", "command", strings.Join(h.command, " "), "dir", h.dir, "env", h.env)

		cmd := exec.CommandContext(ctx, h.command[0], h.command[1:]...)
		cmd.Dir = h.dir
		cmd.Env = append(os.Environ(), EnvVar+"="+h.env)
		if err := runCommand(cmd); err != nil {
			return fmt.Errorf("build command failed: %w", err)
		}
	}

	hook, _ := h.Hook(hooks.BuildDone)
	h.logger.Debug("build finished, firing hook", "hook", hook.Name(), "taps", len(hook.Owners()))
	return hook.Call(ctx)
}

// runCommand executes a command and returns an error with its output on failure
func runCommand(cmd *exec.Cmd) error {
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}
