package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultExclude skips dependency and VCS directories during search.
const DefaultExclude = "**/{node_modules,vendor,.git}/**"

// FileSearch finds workspace files by glob.
type FileSearch interface {
	// Find returns up to limit workspace-relative file paths matching
	// include and not matching exclude. A limit <= 0 means no limit.
	Find(ctx context.Context, include, exclude string, limit int) ([]string, error)
}

// LocalSearch walks a directory tree with doublestar patterns.
type LocalSearch struct {
	fsys fs.FS
}

// NewLocalSearch creates a LocalSearch over root.
func NewLocalSearch(root string) *LocalSearch {
	return &LocalSearch{fsys: os.DirFS(root)}
}

var errLimitReached = errors.New("limit reached")

func (s *LocalSearch) Find(ctx context.Context, include, exclude string, limit int) ([]string, error) {
	if include == "" {
		include = "**/*"
	}
	if !doublestar.ValidatePattern(include) {
		return nil, fmt.Errorf("invalid glob %q", include)
	}
	if exclude != "" && !doublestar.ValidatePattern(exclude) {
		return nil, fmt.Errorf("invalid exclude glob %q", exclude)
	}

	var out []string
	err := fs.WalkDir(s.fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == "." {
			return nil
		}
		if d.IsDir() {
			if exclude != "" && excludesDir(exclude, path) {
				return fs.SkipDir
			}
			return nil
		}
		if ok, _ := doublestar.Match(include, path); !ok {
			return nil
		}
		if exclude != "" {
			if skip, _ := doublestar.Match(exclude, path); skip {
				return nil
			}
		}
		out = append(out, path)
		if limit > 0 && len(out) >= limit {
			return errLimitReached
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return out, fmt.Errorf("glob %s: %w", include, err)
	}
	return out, nil
}

// excludesDir reports whether exclude names dir itself or, for patterns
// ending in "/**", everything beneath it.
func excludesDir(exclude, dir string) bool {
	if ok, _ := doublestar.Match(exclude, dir); ok {
		return true
	}
	prefix, ok := strings.CutSuffix(exclude, "/**")
	if !ok {
		return false
	}
	ok, _ = doublestar.Match(prefix, dir)
	return ok
}
