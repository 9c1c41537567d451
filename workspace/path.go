package workspace

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrUnsafePath is wrapped by every SanitizeRelativePath rejection.
var ErrUnsafePath = errors.New("unsafe workspace path")

var drivePrefix = regexp.MustCompile(`^[a-zA-Z]:/`)

// SanitizeRelativePath normalises a model-supplied path to forward slashes
// and rejects anything that could leave the workspace: empty paths,
// absolute paths, drive-letter paths and any ".." segment.
func SanitizeRelativePath(p string) (string, error) {
	norm := strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	switch {
	case norm == "":
		return "", fmt.Errorf("%w: empty path", ErrUnsafePath)
	case strings.HasPrefix(norm, "/"):
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, p)
	case drivePrefix.MatchString(norm):
		return "", fmt.Errorf("%w: drive path %q", ErrUnsafePath, p)
	}
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: parent segment in %q", ErrUnsafePath, p)
		}
	}
	return norm, nil
}
