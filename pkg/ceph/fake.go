package ceph

import (
	"context"
	"strings"
	"sync"
)

// Call is one recorded invocation of a FakeRunner.
type Call struct {
	Name string
	Args []string
}

func (c Call) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// FakeRunner records calls and answers them from a handler. Used by tests of
// the packages built on top of the ceph tools.
type FakeRunner struct {
	mu      sync.Mutex
	calls   []Call
	Handler func(call Call) ([]byte, error)
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler := f.Handler
	f.mu.Unlock()

	if handler == nil {
		return nil, nil
	}
	return handler(call)
}

// Calls returns a copy of every call recorded so far.
func (f *FakeRunner) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
