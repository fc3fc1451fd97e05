package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AkhileshMalthi/taskflow/internal/agents"
	"github.com/AkhileshMalthi/taskflow/internal/broadcast"
	"github.com/AkhileshMalthi/taskflow/internal/dispatch"
	"github.com/AkhileshMalthi/taskflow/internal/events"
	"github.com/AkhileshMalthi/taskflow/internal/llm"
	"github.com/AkhileshMalthi/taskflow/internal/orchestrator"
	"github.com/AkhileshMalthi/taskflow/internal/task"
	"github.com/AkhileshMalthi/taskflow/internal/workflow"
	"github.com/AkhileshMalthi/taskflow/internal/workflow/checkpoint"
	"github.com/AkhileshMalthi/taskflow/internal/workspace"
)

type testEnv struct {
	srv    *httptest.Server
	hub    *broadcast.Hub
	cancel context.CancelFunc
}

// newTestEnv stands up the full stack on in-memory backends with a
// scripted model and a running dispatcher.
func newTestEnv(t *testing.T, responses ...string) *testEnv {
	t.Helper()

	hub := broadcast.NewHub()
	broker := dispatch.NewMemoryBroker(16)
	model := llm.NewMockModel(responses...)
	ws := workspace.NewMemStore()

	retry := workflow.RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
	researcher := agents.NewResearcher(
		agents.NewAnalyzer(model), agents.NewSimulatedSearch(), ws, retry, nil)

	orch, err := orchestrator.New(orchestrator.Deps{
		Tasks:       task.NewMemStore(),
		Workspace:   ws,
		Checkpoints: checkpoint.NewMemStore(),
		Broker:      broker,
		Hub:         hub,
		Researcher:  researcher,
		Writer:      agents.NewWriter(model, ws),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d := dispatch.NewDispatcher(broker, orch, 2, dispatch.WithRetryPolicy(retry))
	d.Start(ctx)

	registry := prometheus.NewRegistry()
	events.NewMetrics(registry)

	env := &testEnv{
		srv:    httptest.NewServer(New(orch, hub, registry, nil).Router()),
		hub:    hub,
		cancel: cancel,
	}
	t.Cleanup(func() {
		env.srv.Close()
		cancel()
		d.Wait()
	})
	return env
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func (e *testEnv) awaitStatus(t *testing.T, taskID, want string) map[string]any {
	t.Helper()
	var last map[string]any
	require.Eventually(t, func() bool {
		_, body := e.get(t, "/api/v1/tasks/"+taskID)
		last = body
		return body["status"] == want
	}, 2*time.Second, 10*time.Millisecond, "task never reached %s (last: %v)", want, last)
	return last
}

const analyzerJSON = `{"topics":["Redis","PostgreSQL"],"task_kind":"comparison","context":""}`

func TestCreateTaskReturns202(t *testing.T) {
	env := newTestEnv(t, analyzerJSON, "A comparison draft.")

	resp, body := env.post(t, "/api/v1/tasks", `{"prompt":"Compare Redis and PostgreSQL"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "PENDING", body["status"])
	_, err := uuid.Parse(body["task_id"].(string))
	require.NoError(t, err)
}

func TestCreateTaskRequiresPrompt(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.post(t, "/api/v1/tasks", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTaskLifecycle(t *testing.T) {
	env := newTestEnv(t, analyzerJSON, "A comparison draft.")

	_, created := env.post(t, "/api/v1/tasks", `{"prompt":"Compare Redis and PostgreSQL"}`)
	taskID := created["task_id"].(string)

	body := env.awaitStatus(t, taskID, "AWAITING_APPROVAL")
	log := body["activity_log"].([]any)
	require.NotEmpty(t, log)
	first := log[0].(map[string]any)
	assert.Equal(t, "Orchestrator", first["agent_name"])
	assert.Equal(t, "Starting workflow execution", first["action"])
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/api/v1/tasks/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "not found")
}

func TestGetTaskInvalidID(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/api/v1/tasks/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestApproveCompletesTask(t *testing.T) {
	env := newTestEnv(t, analyzerJSON, "A comparison draft.")

	_, created := env.post(t, "/api/v1/tasks", `{"prompt":"Compare Redis and PostgreSQL"}`)
	taskID := created["task_id"].(string)
	env.awaitStatus(t, taskID, "AWAITING_APPROVAL")

	resp, body := env.post(t, "/api/v1/tasks/"+taskID+"/approve", `{"approved":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "RESUMED", body["status"])

	final := env.awaitStatus(t, taskID, "COMPLETED")
	assert.Equal(t, "A comparison draft.", final["result"])
}

func TestRejectFailsTaskWithFeedbackAsError(t *testing.T) {
	env := newTestEnv(t, analyzerJSON, "A comparison draft.")

	_, created := env.post(t, "/api/v1/tasks", `{"prompt":"Compare Redis and PostgreSQL"}`)
	taskID := created["task_id"].(string)
	env.awaitStatus(t, taskID, "AWAITING_APPROVAL")

	resp, body := env.post(t, "/api/v1/tasks/"+taskID+"/approve", `{"approved":false,"feedback":"nope"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FAILED", body["status"])

	_, got := env.get(t, "/api/v1/tasks/"+taskID)
	assert.Equal(t, "nope", got["error"])
}

func TestApproveOutsideDecisionPointIs400(t *testing.T) {
	env := newTestEnv(t, analyzerJSON, "A comparison draft.")

	_, created := env.post(t, "/api/v1/tasks", `{"prompt":"Compare Redis and PostgreSQL"}`)
	taskID := created["task_id"].(string)
	env.awaitStatus(t, taskID, "AWAITING_APPROVAL")

	resp, _ := env.post(t, "/api/v1/tasks/"+taskID+"/approve", `{"approved":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.awaitStatus(t, taskID, "COMPLETED")

	resp, body := env.post(t, "/api/v1/tasks/"+taskID+"/approve", `{"approved":true}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "not awaiting approval")
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebSocketStreamsLifecycle(t *testing.T) {
	env := newTestEnv(t, analyzerJSON, "A comparison draft.")

	taskID := uuid.NewString()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/tasks/" + taskID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Connection confirmation comes first.
	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, taskID, hello["task_id"])
	assert.Equal(t, "Subscribed to task updates", hello["message"])

	// Ping keepalive.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(msg))

	// A broadcast for this task reaches the observer.
	env.hub.Broadcast(broadcast.Event{
		TaskID: taskID,
		Status: "RESEARCHING",
		Agent:  "ResearchAgent",
		Action: "Researching topics",
	})
	var ev map[string]any
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "RESEARCHING", ev["status"])
	assert.Equal(t, "ResearchAgent", ev["agent_name"])
}
