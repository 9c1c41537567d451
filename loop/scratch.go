package loop

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/martinemde/ralphloop/workspace"
)

// DefaultScratchPath is where the scratch record lives, relative to the
// workspace root.
const DefaultScratchPath = ".ralph/loop.local.yaml"

// ScratchRecord is rewritten before every iteration so other processes can
// see what the loop is doing. The loop never reads it back.
type ScratchRecord struct {
	RunID             string    `yaml:"run_id"`
	PID               int       `yaml:"pid"`
	StartedAt         time.Time `yaml:"started_at"`
	Iteration         int       `yaml:"iteration"`
	MaxIterations     int       `yaml:"max_iterations"`
	CompletionPromise string    `yaml:"completion_promise"`
	Prompt            string    `yaml:"prompt"`
}

// Scratch reads and writes the scratch record through a FileSystem.
type Scratch struct {
	fs   workspace.FileSystem
	path string
}

// NewScratch creates a Scratch at path (DefaultScratchPath when empty).
func NewScratch(fs workspace.FileSystem, path string) *Scratch {
	if path == "" {
		path = DefaultScratchPath
	}
	return &Scratch{fs: fs, path: path}
}

// Path returns the workspace-relative location of the record.
func (s *Scratch) Path() string { return s.path }

// Write replaces the record.
func (s *Scratch) Write(rec ScratchRecord) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode scratch record: %w", err)
	}
	header := []byte("# ralph loop state; deleted when the loop ends\n")
	if err := s.fs.Write(s.path, append(header, data...)); err != nil {
		return fmt.Errorf("write scratch record: %w", err)
	}
	return nil
}

// Read loads the record. A missing record is reported with an error that
// satisfies workspace.IsNotExist.
func (s *Scratch) Read() (*ScratchRecord, error) {
	data, err := s.fs.Read(s.path)
	if err != nil {
		return nil, err
	}
	var rec ScratchRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode scratch record: %w", err)
	}
	return &rec, nil
}

// Delete removes the record. A missing record is not an error.
func (s *Scratch) Delete() error {
	return s.fs.Delete(s.path)
}
