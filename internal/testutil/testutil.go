// Package testutil holds helpers shared by tests that need a built site on disk.
package testutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// FindProjectRoot walks up the directory tree from the caller's file to find go.mod
func FindProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}

	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// SiteFixture returns the path of the sample site build under testdata.
func SiteFixture(t *testing.T) string {
	t.Helper()
	root, err := FindProjectRoot()
	if err != nil {
		t.Fatalf("failed to find project root: %v", err)
	}
	return filepath.Join(root, "testdata", "site")
}

// CopyTree copies the directory src from the OS filesystem to dst on fs,
// keeping file modes.
func CopyTree(t *testing.T, fs billy.Filesystem, src, dst string) {
	t.Helper()

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			_ = in.Close()
		}()

		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		return util.WriteFile(fs, target, data, info.Mode().Perm())
	})
	if err != nil {
		t.Fatalf("failed to copy %s to %s: %v", src, dst, err)
	}
}
