// Package download manages the request-scoped temporary directory that media is downloaded and transcoded in.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/alanbriolat/post-archiver"
)

type workspaceConfig struct {
	baseTempDir string
	pattern     string
}

type Option func(*workspaceConfig)

// WithTempDir sets the directory the workspace is created in; empty means os.TempDir().
func WithTempDir(dir string) Option {
	return func(c *workspaceConfig) {
		if dir != "" {
			c.baseTempDir = dir
		}
	}
}

// Workspace is a private temporary directory. Everything in it is deleted by Close.
type Workspace struct {
	dir string
}

func NewWorkspace(opts ...Option) (*Workspace, error) {
	config := workspaceConfig{
		baseTempDir: os.TempDir(),
		pattern:     "post-archiver-*",
	}
	for _, opt := range opts {
		opt(&config)
	}
	if err := os.MkdirAll(config.baseTempDir, 0755); err != nil {
		return nil, err
	}
	dir, err := os.MkdirTemp(config.baseTempDir, config.pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{dir: dir}, nil
}

func (w *Workspace) Dir() string {
	return w.dir
}

// CreateTemp creates a new file in the workspace, see os.CreateTemp.
func (w *Workspace) CreateTemp(pattern string) (*os.File, error) {
	return os.CreateTemp(w.dir, pattern)
}

// ReserveTemp is like CreateTemp, but returns only the path of the new (empty, closed) file, for external tools to
// overwrite.
func (w *Workspace) ReserveTemp(pattern string) (string, error) {
	f, err := w.CreateTemp(pattern)
	if err != nil {
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// SaveStream copies stream into a new file in the workspace, returning its path and size. A partially written file is
// removed before returning an error.
func (w *Workspace) SaveStream(ctx context.Context, pattern string, stream io.Reader) (path string, size int64, err error) {
	f, err := w.CreateTemp(pattern)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open target file: %w", err)
	}
	path = f.Name()
	defer func() {
		if closeErr := f.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(path)
			path, size = "", 0
		}
	}()
	size, err = io.Copy(f, post_archiver.ContextReader(ctx, stream))
	if err != nil {
		return path, size, fmt.Errorf("failed to save stream: %w", err)
	}
	return path, size, nil
}

// Remove deletes a file from the workspace if it still exists.
func (w *Workspace) Remove(path string) error {
	if path == "" || filepath.Dir(path) != w.dir {
		return fmt.Errorf("%s is not in the workspace", path)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (w *Workspace) Close() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	return nil
}

// CloseLogged is Close for use with defer, logging any failure.
func (w *Workspace) CloseLogged(ctx context.Context) {
	if err := w.Close(); err != nil {
		post_archiver.Logger(ctx).Warn("Failed to clean up workspace", zap.String("dir", w.dir), zap.Error(err))
	}
}
