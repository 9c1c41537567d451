package taskrun

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultOutputLimit is how much trailing output a Result keeps.
const defaultOutputLimit = 16 * 1024

// ShellRunner runs configured tasks through the system shell.
type ShellRunner struct {
	root        string
	tasks       map[string]Task
	order       []string
	bus         *Bus
	logger      *zap.Logger
	outputLimit int
}

// ShellRunnerOption configures a ShellRunner.
type ShellRunnerOption func(*ShellRunner)

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) ShellRunnerOption {
	return func(r *ShellRunner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithBus publishes lifecycle notifications on b instead of a private bus.
func WithBus(b *Bus) ShellRunnerOption {
	return func(r *ShellRunner) {
		if b != nil {
			r.bus = b
		}
	}
}

// WithOutputLimit caps retained output bytes.
func WithOutputLimit(n int) ShellRunnerOption {
	return func(r *ShellRunner) {
		if n > 0 {
			r.outputLimit = n
		}
	}
}

// NewShellRunner creates a runner for tasks rooted at root. Later tasks
// with a duplicate label replace earlier ones.
func NewShellRunner(root string, tasks []Task, opts ...ShellRunnerOption) *ShellRunner {
	r := &ShellRunner{
		root:        root,
		tasks:       make(map[string]Task, len(tasks)),
		bus:         NewBus(),
		logger:      zap.NewNop(),
		outputLimit: defaultOutputLimit,
	}
	for _, t := range tasks {
		if _, dup := r.tasks[t.Label]; !dup {
			r.order = append(r.order, t.Label)
		}
		r.tasks[t.Label] = t
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bus returns the notification bus.
func (r *ShellRunner) Bus() *Bus {
	return r.bus
}

func (r *ShellRunner) List(ctx context.Context) ([]Task, error) {
	out := make([]Task, 0, len(r.order))
	for _, label := range r.order {
		out = append(out, r.tasks[label])
	}
	return out, nil
}

func (r *ShellRunner) labels() []string {
	labels := append([]string(nil), r.order...)
	sort.Strings(labels)
	if len(labels) > maxListedLabels {
		labels = labels[:maxListedLabels]
	}
	return labels
}

// Run starts the task and waits for the first of: launch failure, process
// exit, timeout, or ctx cancellation. Timeout and cancellation kill the
// task's process group.
func (r *ShellRunner) Run(ctx context.Context, label string, timeout time.Duration) Result {
	task, ok := r.tasks[label]
	if !ok {
		return Result{
			Label:    label,
			Outcome:  OutcomeNotFound,
			ExitCode: -1,
			Err:      &NotFoundError{Label: label, Available: r.labels()},
		}
	}
	if timeout <= 0 {
		timeout = time.Duration(DefaultTimeoutMs) * time.Millisecond
	}

	log := r.logger.With(zap.String("label", label))
	ex := newExecution(uuid.NewString(), label)
	out := &tailBuffer{limit: r.outputLimit}
	started := time.Now()

	finish := func(res Result) Result {
		res.Label = label
		res.Output = out.String()
		res.Duration = time.Since(started)
		return res
	}

	ex.onSettle(r.bus.Subscribe(func(n Notification) {
		if n.ExecutionID != ex.id || n.Kind != NotifyProcessExit {
			return
		}
		ex.settle(finish(Result{Outcome: OutcomeExited, ExitCode: n.ExitCode}))
	}))
	ex.onSettle(r.bus.Subscribe(func(n Notification) {
		if n.ExecutionID == ex.id && n.Kind == NotifyEnd {
			log.Debug("task ended", zap.Duration("elapsed", time.Since(started)))
		}
	}))

	cmd := shellCommand(task.Command)
	cmd.Dir = r.taskDir(task)
	cmd.Env = taskEnvironment(task.Env)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = 2 * time.Second

	if err := cmd.Start(); err != nil {
		ex.settle(finish(Result{Outcome: OutcomeLaunchError, ExitCode: -1, Err: &LaunchError{Label: label, Err: err}}))
		log.Warn("task failed to start", zap.Error(err))
		return ex.wait()
	}
	r.bus.Publish(Notification{Kind: NotifyStart, ExecutionID: ex.id, Label: label})
	log.Debug("task started", zap.Int("pid", cmd.Process.Pid), zap.Duration("timeout", timeout))

	go func() {
		code := exitCode(cmd.Wait())
		r.bus.Publish(Notification{Kind: NotifyProcessExit, ExecutionID: ex.id, Label: label, ExitCode: code})
		r.bus.Publish(Notification{Kind: NotifyEnd, ExecutionID: ex.id, Label: label})
	}()

	timer := time.AfterFunc(timeout, func() {
		if ex.settle(finish(Result{Outcome: OutcomeTimeout, ExitCode: -1, Err: &TimeoutError{Label: label, Timeout: timeout}})) {
			killProcessGroup(cmd)
		}
	})
	ex.onSettle(func() { timer.Stop() })

	stop := context.AfterFunc(ctx, func() {
		if ex.settle(finish(Result{Outcome: OutcomeCancelled, ExitCode: -1, Err: &CancellationError{Label: label, Cause: context.Cause(ctx)}})) {
			killProcessGroup(cmd)
		}
	})
	ex.onSettle(func() { stop() })

	res := ex.wait()
	log.Info("task resolved",
		zap.String("outcome", string(res.Outcome)),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("elapsed", res.Duration))
	return res
}

func (r *ShellRunner) taskDir(t Task) string {
	switch {
	case t.Dir == "":
		return r.root
	case filepath.IsAbs(t.Dir):
		return t.Dir
	default:
		return filepath.Join(r.root, t.Dir)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
