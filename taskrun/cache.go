package taskrun

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const defaultCacheSize = 256

// Key identifies a cached task run.
type Key struct {
	Label     string
	TimeoutMs int64
}

// Entry is a cached task run outcome.
type Entry struct {
	RanAt    time.Time `json:"ranAt"`
	OK       bool      `json:"ok"`
	ExitCode *int      `json:"exitCode,omitempty"`
	Error    string    `json:"error,omitempty"`
	Output   string    `json:"output,omitempty"`
}

// Passed reports whether the task ran and exited zero.
func (e Entry) Passed() bool {
	return e.OK && e.ExitCode != nil && *e.ExitCode == 0
}

// EntryFromResult converts a Result into a cache Entry.
func EntryFromResult(r Result, at time.Time) Entry {
	e := Entry{RanAt: at, OK: r.OK(), Output: r.Output}
	if r.OK() {
		code := r.ExitCode
		e.ExitCode = &code
	} else if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}

// Cache memoises task runs within one loop iteration, so the model's own
// run requests and the verifier's checks share results.
type Cache struct {
	entries *lru.Cache[Key, Entry]
	logger  *zap.Logger
}

// NewCache creates a cache holding at most size entries (<=0 means default).
func NewCache(size int, logger *zap.Logger) *Cache {
	if size <= 0 {
		size = defaultCacheSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, _ := lru.New[Key, Entry](size)
	return &Cache{entries: entries, logger: logger}
}

// Run returns the cached entry for (label, timeout) unless force is set or
// there is none, in which case it runs the task through runner and stores
// the outcome. The bool result reports a cache hit.
func (c *Cache) Run(ctx context.Context, runner Runner, label string, timeout time.Duration, force bool) (Entry, bool) {
	key := Key{Label: label, TimeoutMs: timeout.Milliseconds()}
	if !force {
		if e, ok := c.entries.Get(key); ok {
			c.logger.Debug("task run cache hit", zap.String("label", label), zap.Int64("timeout_ms", key.TimeoutMs))
			return e, true
		}
	}
	res := runner.Run(ctx, label, timeout)
	e := EntryFromResult(res, time.Now())
	c.entries.Add(key, e)
	return e, false
}

// Get looks up an entry without running anything.
func (c *Cache) Get(label string, timeoutMs int64) (Entry, bool) {
	return c.entries.Get(Key{Label: label, TimeoutMs: timeoutMs})
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.entries.Purge()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}
