package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// FileInfo describes a workspace entry.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	IsDir   bool      `json:"is_dir"`
	ModTime time.Time `json:"mod_time"`
}

// FileSystem is the workspace file store. Paths are workspace-relative.
type FileSystem interface {
	Stat(path string) (FileInfo, error)
	Read(path string) ([]byte, error)
	// Write replaces the file, creating parent directories as needed.
	Write(path string, data []byte) error
	CreateDir(path string) error
	// Delete removes a file. Deleting a missing file is not an error.
	Delete(path string) error
}

// IsNotExist reports whether err means the path does not exist.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// LocalFS is a FileSystem rooted at a directory on the local disk.
type LocalFS struct {
	root string
}

// NewLocalFS creates a LocalFS rooted at root. An empty root means the
// current working directory.
func NewLocalFS(root string) (*LocalFS, error) {
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("workspace: resolve working directory: %w", err)
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve root %q: %w", root, err)
	}
	return &LocalFS{root: abs}, nil
}

// Root returns the absolute workspace root.
func (l *LocalFS) Root() string {
	return l.root
}

func (l *LocalFS) resolve(path string) (string, string, error) {
	rel, err := SanitizeRelativePath(path)
	if err != nil {
		return "", "", err
	}
	return rel, filepath.Join(l.root, filepath.FromSlash(rel)), nil
}

func (l *LocalFS) Stat(path string) (FileInfo, error) {
	rel, abs, err := l.resolve(path)
	if err != nil {
		return FileInfo{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return FileInfo{}, fmt.Errorf("stat %s: %w", rel, err)
	}
	return FileInfo{Path: rel, Size: info.Size(), IsDir: info.IsDir(), ModTime: info.ModTime()}, nil
}

func (l *LocalFS) Read(path string) ([]byte, error) {
	rel, abs, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

func (l *LocalFS) Write(path string, data []byte) error {
	rel, abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("write %s: create directory: %w", rel, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

func (l *LocalFS) CreateDir(path string) error {
	rel, abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", rel, err)
	}
	return nil
}

func (l *LocalFS) Delete(path string) error {
	rel, abs, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}
