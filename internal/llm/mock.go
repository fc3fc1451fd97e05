package llm

import (
	"context"
	"sync"
)

// MockModel is a scripted ChatModel for tests. Responses are consumed in
// order; once the queue drains the last response repeats. A non-nil Err
// takes priority over queued responses.
type MockModel struct {
	mu        sync.Mutex
	responses []string
	calls     [][]Message
	err       error
}

// NewMockModel queues the given responses.
func NewMockModel(responses ...string) *MockModel {
	return &MockModel{responses: responses}
}

// FailWith makes every subsequent Chat call return err.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Chat records the transcript and pops the next scripted response.
func (m *MockModel) Chat(_ context.Context, msgs []Message) (ChatOut, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, msgs)
	if m.err != nil {
		return ChatOut{}, m.err
	}
	if len(m.responses) == 0 {
		return ChatOut{}, nil
	}
	out := ChatOut{Text: m.responses[0]}
	if len(m.responses) > 1 {
		m.responses = m.responses[1:]
	}
	return out, nil
}

// Calls returns every transcript Chat was invoked with.
func (m *MockModel) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]Message, len(m.calls))
	copy(out, m.calls)
	return out
}

// LastPrompt returns the user content of the most recent call, or "".
func (m *MockModel) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	last := m.calls[len(m.calls)-1]
	for i := len(last) - 1; i >= 0; i-- {
		if last[i].Role == RoleUser {
			return last[i].Content
		}
	}
	return ""
}
