package taskrun

import "sync"

type settleState int

const (
	statePending settleState = iota
	stateSettled
)

// execution tracks one in-flight task run. Several listeners race to
// resolve it; settle lets exactly one of them win and then runs every
// registered disposer once.
type execution struct {
	id    string
	label string

	mu        sync.Mutex
	state     settleState
	result    Result
	disposers []func()
	done      chan struct{}
}

func newExecution(id, label string) *execution {
	return &execution{id: id, label: label, done: make(chan struct{})}
}

// onSettle registers a disposer. If the execution already settled, fn runs
// immediately.
func (e *execution) onSettle(fn func()) {
	e.mu.Lock()
	if e.state == stateSettled {
		e.mu.Unlock()
		fn()
		return
	}
	e.disposers = append(e.disposers, fn)
	e.mu.Unlock()
}

// settle resolves the execution with r. It returns false if another
// listener got there first.
func (e *execution) settle(r Result) bool {
	e.mu.Lock()
	if e.state == stateSettled {
		e.mu.Unlock()
		return false
	}
	e.state = stateSettled
	e.result = r
	disposers := e.disposers
	e.disposers = nil
	e.mu.Unlock()

	for _, fn := range disposers {
		fn()
	}
	close(e.done)
	return true
}

func (e *execution) settled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateSettled
}

func (e *execution) wait() Result {
	<-e.done
	return e.result
}
