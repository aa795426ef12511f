package cluster

import (
	"context"
	"strings"
	"sync"
)

type stubbedResponse struct {
	match  string
	result Result
	err    error
}

// MockExecutor is a scripted Executor for tests. Stubs are matched by
// substring against the joined command line, first match wins; unmatched
// commands succeed with empty output. Safe for concurrent use.
type MockExecutor struct {
	mu    sync.Mutex
	stubs []stubbedResponse
	calls [][]string
}

// NewMockExecutor creates a mock with no stubs.
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{}
}

// Stub registers a successful response for commands containing match.
func (m *MockExecutor) Stub(match, stdout string) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stubbedResponse{
		match:  match,
		result: Result{Stdout: stdout, ExecutorUsed: "mock"},
	})
	return m
}

// StubExit registers a non-zero exit for commands containing match.
func (m *MockExecutor) StubExit(match string, exitCode int, stderr string) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stubbedResponse{
		match:  match,
		result: Result{Stderr: stderr, ExitCode: exitCode, ExecutorUsed: "mock"},
	})
	return m
}

// StubRunError registers a could-not-run failure for commands containing
// match.
func (m *MockExecutor) StubRunError(match string, err error) *MockExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, stubbedResponse{match: match, err: err})
	return m
}

// Run returns the first matching stub.
func (m *MockExecutor) Run(ctx context.Context, cmd []string, _ Opts) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recorded := make([]string, len(cmd))
	copy(recorded, cmd)
	m.calls = append(m.calls, recorded)

	line := strings.Join(cmd, " ")
	for i := range m.stubs {
		if strings.Contains(line, m.stubs[i].match) {
			return m.stubs[i].result, m.stubs[i].err
		}
	}
	return Result{ExecutorUsed: "mock"}, nil
}

// Name returns the executor name.
func (m *MockExecutor) Name() string { return "mock" }

// Available always reports true.
func (m *MockExecutor) Available() bool { return true }

// Calls returns a copy of every command executed.
func (m *MockExecutor) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = append([]string(nil), c...)
	}
	return out
}

// CallCount returns how many commands ran.
func (m *MockExecutor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
