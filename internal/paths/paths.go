// Package paths resolves the input and output roots of a tidy run.
package paths

import (
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/schaermu/tidyout/internal/config"
)

// Resolver checks candidate locations on a filesystem. Relative candidates
// are taken relative to base.
type Resolver struct {
	fs   billy.Filesystem
	base string
}

// NewResolver creates a resolver for fs rooted at base.
func NewResolver(fs billy.Filesystem, base string) *Resolver {
	return &Resolver{fs: fs, base: base}
}

// Resolve returns the cleaned absolute form of candidate when it exists.
// Symlinks are kept as written.
func (r *Resolver) Resolve(candidate string) (string, bool) {
	if candidate == "" {
		return "", false
	}
	p := candidate
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.base, p)
	}
	p = filepath.Clean(p)

	if _, err := r.fs.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// InputLocation is the input root as the user sees it, before resolution.
func InputLocation(cfg *config.Config) string {
	if cfg.InputRoot != "" {
		return cfg.InputRoot
	}
	return config.DefaultInput(cfg.Env)
}

// Input resolves the configured input root, or build_<env> by default.
func (r *Resolver) Input(cfg *config.Config) (string, bool) {
	return r.Resolve(InputLocation(cfg))
}

// Output resolves the configured output root. Without one it returns the
// already resolved input root.
func (r *Resolver) Output(cfg *config.Config, input string) (string, bool) {
	if cfg.OutputRoot == "" {
		return input, true
	}
	return r.Resolve(cfg.OutputRoot)
}
