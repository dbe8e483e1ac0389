package statusapi

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camerontarget14/resilio-connect-scripts/internal/core/domain"
	"github.com/camerontarget14/resilio-connect-scripts/internal/core/services"
	"github.com/camerontarget14/resilio-connect-scripts/internal/telemetry"
)

type fakeSource struct {
	workflows []domain.Workflow
	agents    []domain.Agent
	bus       *services.EventBus
}

func (f *fakeSource) Workflows() []domain.Workflow { return f.workflows }
func (f *fakeSource) Agents() []domain.Agent       { return f.agents }
func (f *fakeSource) Bus() *services.EventBus      { return f.bus }

func (f *fakeSource) Workflow(id domain.WorkflowID) (domain.Workflow, error) {
	for _, wf := range f.workflows {
		if wf.ID == id {
			return wf, nil
		}
	}
	return domain.Workflow{}, fmt.Errorf("workflow %s: %w", id, domain.ErrNotFound)
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeSource, *telemetry.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	src := &fakeSource{
		workflows: []domain.Workflow{
			{ID: "wf-1", Kind: domain.WorkflowKindDistribution, JobName: "Test Distribution Job 1", Status: domain.WorkflowStatusRunning,
				Run: domain.JobRun{JobID: "2", RunID: "7", Phase: domain.PhaseMonitoring}},
		},
		agents: []domain.Agent{{ID: 1, Name: "studio", Status: domain.AgentStatusOnline}},
		bus:    services.NewEventBus(logger),
	}
	metrics := telemetry.NewMetrics()
	srv := httptest.NewServer(NewServer(logger, src, metrics, []string{"http://localhost:5173"}).Handler())
	t.Cleanup(srv.Close)
	return srv, src, metrics
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Workflows(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var list struct {
		Data []domain.Workflow `json:"data"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/workflows", &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, domain.PhaseMonitoring, list.Data[0].Run.Phase)

	var wf domain.Workflow
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/workflows/wf-1", &wf))
	assert.Equal(t, domain.RunID("7"), wf.Run.RunID)

	var errBody map[string]any
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/workflows/nope", &errBody))
	assert.Equal(t, float64(404), errBody["code"])
}

func TestServer_Agents(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var list struct {
		Data []domain.Agent `json:"data"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/v1/agents", &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "studio", list.Data[0].Name)
}

func TestServer_Metrics(t *testing.T) {
	srv, _, metrics := newTestServer(t)
	metrics.RecordWorkflow("distribution", time.Second, true)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "resilioctl_workflows_total")
}

func TestServer_CORS(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_WorkflowEventsSSE(t *testing.T) {
	srv, src, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/workflows/wf-1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	src.bus.Publish(services.Event{Topic: "other", Type: services.EventTypePhase, Data: `{"phase":"BUILT"}`})
	src.bus.Publish(services.Event{Topic: "wf-1", Type: services.EventTypePhase, Data: `{"phase":"COMPLETED"}`})

	reader := bufio.NewReader(resp.Body)
	var eventLine, dataLine string
	for dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(line)
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(line)
		}
	}
	assert.Equal(t, "event: phase", eventLine)
	assert.Equal(t, `data: {"phase":"COMPLETED"}`, dataLine)
}

func TestServer_WorkflowEventsUnknown(t *testing.T) {
	srv, _, _ := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/v1/workflows/nope/events", nil))
}
