// Package tidy mirrors a build tree into an output tree, rewriting every
// matching file through a Transformer.
package tidy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/schaermu/tidyout/internal/config"
	"github.com/schaermu/tidyout/internal/match"
	"github.com/schaermu/tidyout/internal/pretty"
	"golang.org/x/text/encoding"
)

// maxLinks bounds symlink resolution of output paths.
const maxLinks = 40

// ErrNoChmod is returned when the filesystem cannot set the permissions of
// written files.
var ErrNoChmod = errors.New("filesystem does not support changing file permissions")

// Transformer rewrites the contents of one file.
type Transformer interface {
	Transform(source string, rules pretty.Rules) (string, error)
}

// TransformFunc adapts a plain function to a Transformer.
type TransformFunc func(source string, rules pretty.Rules) (string, error)

// Transform calls f(source, rules).
func (f TransformFunc) Transform(source string, rules pretty.Rules) (string, error) {
	return f(source, rules)
}

// Stats summarizes one Tidy call.
type Stats struct {
	Dirs   int // directories listed
	Files  int // files read
	Tidied int // files transformed and written
}

// Tidier walks an input tree and writes transformed copies of matching
// files into a mirrored output tree.
type Tidier struct {
	fs        billy.Filesystem
	match     match.Predicate
	codec     encoding.Encoding
	rules     pretty.Rules
	transform Transformer
	logger    *slog.Logger
}

// New creates a Tidier using the predicate, encoding and rules of cfg.
func New(fs billy.Filesystem, cfg *config.Config, transform Transformer, logger *slog.Logger) *Tidier {
	return &Tidier{
		fs:        fs,
		match:     cfg.Match,
		codec:     cfg.Codec,
		rules:     cfg.Rules,
		transform: transform,
		logger:    logger,
	}
}

// Tidy processes inDir recursively and returns once the whole tree is
// done. Files of a directory are handled in listing order before its
// subdirectories are entered. Output directories are created when the
// first file is written into them, so branches without matches leave no
// trace. The first error stops the walk and is returned unmodified; files
// written before it stay in place.
func (t *Tidier) Tidy(ctx context.Context, inDir, outDir string) (Stats, error) {
	var stats Stats
	err := t.tidyDir(ctx, inDir, outDir, &stats)
	return stats, err
}

func (t *Tidier) tidyDir(ctx context.Context, inDir, outDir string, stats *Stats) error {
	entries, err := t.fs.ReadDir(inDir)
	if err != nil {
		return err
	}
	stats.Dirs++

	slices.SortFunc(entries, func(a, b os.FileInfo) int {
		return strings.Compare(a.Name(), b.Name())
	})

	var subdirs []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		inPath := t.fs.Join(inDir, entry.Name())
		info, err := t.follow(inPath, entry)
		if err != nil {
			return err
		}
		if info.IsDir() {
			subdirs = append(subdirs, entry.Name())
			continue
		}

		if err := t.tidyFile(inPath, outDir, entry.Name(), info.Mode().Perm(), stats); err != nil {
			return err
		}
	}

	for _, name := range subdirs {
		if err := t.tidyDir(ctx, t.fs.Join(inDir, name), t.fs.Join(outDir, name), stats); err != nil {
			return err
		}
	}

	return nil
}

// follow returns the info of the symlink target for linked entries, so
// linked directories are walked and linked files keep their target's mode.
func (t *Tidier) follow(path string, entry os.FileInfo) (os.FileInfo, error) {
	if entry.Mode()&os.ModeSymlink == 0 {
		return entry, nil
	}
	return t.fs.Stat(path)
}

func (t *Tidier) tidyFile(inPath, outDir, name string, perm os.FileMode, stats *Stats) error {
	source, err := t.readFile(inPath)
	if err != nil {
		return err
	}
	stats.Files++

	if !t.match.Match(inPath) {
		return nil
	}

	t.logger.Debug("tidying file", "path", inPath)

	result, err := t.transform.Transform(source, t.rules)
	if err != nil {
		return err
	}

	if err := t.writeFile(outDir, name, result, perm); err != nil {
		return err
	}
	stats.Tidied++
	return nil
}

// readFile reads path and decodes it with the configured encoding.
func (t *Tidier) readFile(path string) (string, error) {
	f, err := t.fs.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = f.Close()
	}()

	raw, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}

	decoded, err := t.codec.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// writeFile encodes content and replaces dir/name atomically through a
// temp file in the same directory. When dir/name is a symlink the link is
// kept and its target is replaced instead.
func (t *Tidier) writeFile(dir, name, content string, perm os.FileMode) error {
	encoded, err := t.codec.NewEncoder().String(content)
	if err != nil {
		return err
	}

	dir, name, err = t.destination(dir, name)
	if err != nil {
		return err
	}

	// Ensure the mirrored directory exists
	if err := t.fs.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmpFile, err := t.fs.TempFile(dir, ".tidyout-tmp-")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = t.fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := io.WriteString(tmpFile, encoded); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Temp files are created 0600; carry over the source permissions
	ch, ok := t.fs.(billy.Change)
	if !ok {
		return ErrNoChmod
	}
	if err := ch.Chmod(tmpPath, perm); err != nil {
		return err
	}

	// Atomic rename
	return t.fs.Rename(tmpPath, t.fs.Join(dir, name))
}

// destination resolves symlinks at dir/name to the file they point to.
// Paths that do not exist yet are returned unchanged.
func (t *Tidier) destination(dir, name string) (string, string, error) {
	links, ok := t.fs.(billy.Symlink)
	if !ok {
		return dir, name, nil
	}

	for range maxLinks {
		p := t.fs.Join(dir, name)
		info, err := links.Lstat(p)
		if errors.Is(err, os.ErrNotExist) {
			return dir, name, nil
		}
		if err != nil {
			return "", "", err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return dir, name, nil
		}

		target, err := links.Readlink(p)
		if err != nil {
			return "", "", err
		}
		if !filepath.IsAbs(target) {
			target = t.fs.Join(dir, target)
		}
		dir, name = filepath.Dir(target), filepath.Base(target)
	}
	return "", "", fmt.Errorf("%s: too many levels of symbolic links", t.fs.Join(dir, name))
}
