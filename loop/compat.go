package loop

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/martinemde/ralphloop/workspace"
)

// Edit is one whole-file overwrite from an <edits> block.
type Edit struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// CompatEditError means an <edits> block was malformed, named an unsafe
// path, or could not be written. Edits before the failing one stay applied.
type CompatEditError struct {
	Path string
	Err  error
}

func (e *CompatEditError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("edits block: %v", e.Err)
	}
	return fmt.Sprintf("edit %s: %v", e.Path, e.Err)
}

func (e *CompatEditError) Unwrap() error { return e.Err }

var editsBlock = regexp.MustCompile(`(?is)<edits>(.*?)</edits>`)

// ExtractEdits finds the first <edits>...</edits> block (tag match is
// case-insensitive) and decodes the JSON array inside it. Entries that are
// not objects or have no path are skipped. It returns nil without error
// when there is no block or the block is empty.
func ExtractEdits(text string) ([]Edit, error) {
	m := editsBlock.FindStringSubmatch(text)
	if m == nil {
		return nil, nil
	}
	inner := strings.TrimSpace(m[1])
	if inner == "" {
		return nil, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal([]byte(inner), &items); err != nil {
		return nil, &CompatEditError{Err: fmt.Errorf("expected a JSON array of {path, content}: %w", err)}
	}
	var edits []Edit
	for _, item := range items {
		var fields map[string]interface{}
		if err := json.Unmarshal(item, &fields); err != nil || fields == nil {
			continue
		}
		path, _ := fields["path"].(string)
		if path == "" {
			continue
		}
		content, _ := fields["content"].(string)
		edits = append(edits, Edit{Path: path, Content: content})
	}
	return edits, nil
}

// ApplyEdits writes edits in order and stops at the first unsafe path or
// write failure. It returns the sanitised paths written before stopping.
func ApplyEdits(fs workspace.FileSystem, edits []Edit) ([]string, error) {
	var written []string
	for _, e := range edits {
		safe, err := workspace.SanitizeRelativePath(e.Path)
		if err != nil {
			return written, &CompatEditError{Path: e.Path, Err: err}
		}
		if err := fs.Write(safe, []byte(e.Content)); err != nil {
			return written, &CompatEditError{Path: safe, Err: err}
		}
		written = append(written, safe)
	}
	return written, nil
}
