package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/AkhileshMalthi/taskflow/internal/llm"
)

// FlakyMarker in a topic makes SimulatedSearch fail the first lookup
// for that topic and succeed afterwards, exercising retry behavior
// end to end.
const FlakyMarker = "__FLAKY_TEST__"

// ResearchTool looks up material about a single topic.
type ResearchTool interface {
	Search(ctx context.Context, topic, query string) (string, error)
}

// cannedResults holds per-topic material for the simulated tool.
var cannedResults = map[string]string{
	"LangGraph": `LangGraph Key Features:

1. Stateful Graph Architecture: nodes represent agents or processing steps,
   edges define the flow between them, and state is updated as execution
   moves through the graph.
2. Built-in Persistence: checkpointers save and restore workflow state,
   enabling durable execution that survives failures.
3. Human-in-the-Loop: native interrupts pause execution and wait for human
   input before continuing.
4. Conditional Routing: edges can branch dynamically based on state.
5. Streaming Support: intermediate results stream in real time as the
   workflow progresses.
6. Multi-Agent Coordination: built for orchestrating multiple agents on
   complex tasks.`,
	"CrewAI": `CrewAI Key Features:

1. Role-Based Agents: agents carry specific roles, goals, and backstories,
   specializing them for particular tasks.
2. Task-Oriented Design: work is organized as tasks assigned to agents,
   with dependencies and expected outputs.
3. Crew Orchestration: a crew coordinates multiple agents, managing task
   delegation and execution order automatically.
4. Sequential and Hierarchical Processes: supports one-after-another or
   manager-delegates-to-workers execution patterns.
5. Tool Integration: agents can call external systems, APIs, and data
   sources.
6. Memory Systems: short-term, long-term, and entity memory carry context
   across interactions.`,
	"Redis": `Redis Key Characteristics:

An in-memory data structure store used as a cache, message broker, and
scratch space. Sub-millisecond reads and writes, optional persistence via
RDB snapshots and AOF logs, key expiry with TTLs, and rich primitives:
strings, hashes, lists, sets, sorted sets, and streams.`,
	"PostgreSQL": `PostgreSQL Key Characteristics:

A relational database with full ACID transactions, MVCC concurrency, rich
indexing, and strong JSON support through the jsonb type. The usual choice
for durable records that must survive restarts and be queried flexibly.`,
	"Docker": `Docker Key Characteristics:

Container runtime and image format. Packages an application with its
dependencies into an immutable image that runs identically across
environments. Compose files describe multi-container development stacks.`,
	"Kubernetes": `Kubernetes Key Characteristics:

Container orchestration platform. Schedules workloads across a cluster,
restarts failed containers, scales replicas horizontally, and wires
services together with built-in discovery and load balancing.`,
}

// SimulatedSearch resolves topics from a canned corpus without any
// network access. Unknown topics get a generic blurb so research never
// blocks on coverage gaps.
type SimulatedSearch struct {
	mu     sync.Mutex
	flakes map[string]int
}

// NewSimulatedSearch returns an empty simulated tool.
func NewSimulatedSearch() *SimulatedSearch {
	return &SimulatedSearch{flakes: make(map[string]int)}
}

// Search returns canned material for the topic. Topics carrying
// FlakyMarker fail on their first lookup and succeed afterwards.
func (s *SimulatedSearch) Search(_ context.Context, topic, query string) (string, error) {
	if strings.Contains(topic, FlakyMarker) || strings.Contains(query, FlakyMarker) {
		s.mu.Lock()
		n := s.flakes[topic]
		s.flakes[topic] = n + 1
		s.mu.Unlock()
		if n == 0 {
			return "", errors.New("simulated transient search failure")
		}
		return fmt.Sprintf("Flaky search succeeded on attempt %d: results for %q", n+1, query), nil
	}

	if canned, ok := cannedResults[topic]; ok {
		return canned, nil
	}
	return fmt.Sprintf("General search results for %s: %s", topic, query), nil
}

// ModelSearch asks the chat model itself to play researcher. Used when
// no external search backend is configured but a real model is.
type ModelSearch struct {
	model llm.ChatModel
}

// NewModelSearch returns a tool backed by the given model.
func NewModelSearch(model llm.ChatModel) *ModelSearch {
	return &ModelSearch{model: model}
}

func (m *ModelSearch) Search(ctx context.Context, topic, query string) (string, error) {
	out, err := m.model.Chat(ctx, []llm.Message{
		llm.System("You are a research assistant. Provide factual, well-organized notes on the requested topic."),
		llm.User(fmt.Sprintf("Research the topic %q in the context of: %s", topic, query)),
	})
	if err != nil {
		return "", fmt.Errorf("model search for %q: %w", topic, err)
	}
	return out.Text, nil
}
