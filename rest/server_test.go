package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/parley-labs/parley/channel"
	"github.com/parley-labs/parley/engine"
	"github.com/parley-labs/parley/executor"
	"github.com/parley-labs/parley/metrics"
	"github.com/parley-labs/parley/model"
	"github.com/parley-labs/parley/persistence/redis"
	"github.com/parley-labs/parley/validator"
	"github.com/parley-labs/parley/version"
	"github.com/stretchr/testify/require"
)

const orderFlowYaml = `
id: order
name: Order flow
version: v1
initialState: start
finalStates:
  - done
states:
  start:
    type: action
    onEntry:
      - executor: message
        config:
          text: "Welcome! What would you like?"
    transitions:
      begin: collect
  collect:
    type: decision
    conditions:
      - "address != nil -> has_address"
    transitions:
      provide_address: collect
      has_address: done
  done:
    type: action
    onEntry:
      - executor: message
        config:
          text: "All set, thanks!"
`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	conf := redis.Config{Addrs: []string{mr.Addr()}, Namespace: "test"}
	store := redis.NewRedisSessionStore(conf, 30*time.Minute, 5*time.Minute, time.Second)
	defs := redis.NewRedisDefinitionStorage(conf)
	collector := metrics.NewCollector("test")
	versions := version.NewManager(5, collector)
	registry := executor.NewBuiltinRegistry(executor.DefaultDomainRegistry())
	flowEngine := engine.New(store, defs, versions, validator.New(), registry,
		channel.NewAdapter(), collector, 8, 10)
	server, err := NewServer(0, flowEngine, defs, store, versions, collector)
	require.NoError(t, err)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func TestFlowLifecycleOverHttp(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/flow", "application/yaml", bytes.NewBufferString(orderFlowYaml))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/flow/order")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var def model.FlowDefinition
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&def))
	resp.Body.Close()
	require.Equal(t, "order", def.Id)
	require.Equal(t, "start", def.InitialState)

	resp = postJSON(t, ts.URL+"/event", model.EventRequest{
		ConversationId: "c1", FlowId: "order", Channel: "web", Event: "begin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result engine.StepResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	resp.Body.Close()
	require.Equal(t, "collect", result.State)
	require.Equal(t, "Welcome! What would you like?", result.Rendering.Text)

	resp, err = http.Get(ts.URL + "/conversation/c1/messages")
	require.NoError(t, err)
	var messages []model.OutboundMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	resp.Body.Close()
	require.Len(t, messages, 1)

	resp = postJSON(t, ts.URL+"/conversation/c1/messages/ack?count=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/conversation/c1/messages")
	require.NoError(t, err)
	messages = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	resp.Body.Close()
	require.Empty(t, messages)
}

func TestRejectsInvalidDefinition(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/flow", "application/yaml", bytes.NewBufferString("id: broken\n"))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestEventRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/event", model.EventRequest{FlowId: "order", Event: "begin"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestUnknownFlowReturns404(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/flow/ghost")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestVersionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	for _, cfg := range []model.FlowVersionConfig{
		{VersionId: "order-v1", FlowId: "order", Weight: 80, Enabled: true, Status: model.ROLLOUT_STABLE},
		{VersionId: "order-v2", FlowId: "order", Weight: 20, Enabled: true, Status: model.ROLLOUT_CANARY},
	} {
		resp := postJSON(t, ts.URL+"/version", cfg)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/version/order")
	require.NoError(t, err)
	var versions []model.FlowVersionConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&versions))
	resp.Body.Close()
	require.Len(t, versions, 2)

	resp = postJSON(t, ts.URL+"/version/order/canary", model.VersionWeightRequest{
		StableId: "order-v1", CanaryId: "order-v2", CanaryPercent: 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/version/order/promote/order-v2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/version/stats/order-v2")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestABTestEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/abtest", model.ABTestConfig{
		TestId: "exp-1", FlowId: "order",
		Versions: []model.FlowVersionConfig{
			{VersionId: "a", FlowId: "order", Weight: 50},
			{VersionId: "b", FlowId: "order", Weight: 50},
		},
		PrimaryMetric: "completion_rate",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/abtest/exp-1/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(ts.URL + "/abtest/exp-1")
	require.NoError(t, err)
	var test model.ABTestConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&test))
	resp.Body.Close()
	require.Equal(t, model.AB_TEST_RUNNING, test.Status)

	resp = postJSON(t, ts.URL+"/abtest/exp-1/stop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestTerminateExtractsPreferences(t *testing.T) {
	ts := newTestServer(t)
	flow := `
id: pref
name: Preference flow
version: v1
initialState: start
finalStates:
  - done
states:
  start:
    type: action
    onEntry:
      - executor: set
        config:
          language: pt
    transitions:
      begin: done
  done:
    type: action
`
	resp, err := http.Post(ts.URL+"/flow", "application/yaml", bytes.NewBufferString(flow))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/event", model.EventRequest{
		ConversationId: "c9", FlowId: "pref", Channel: "web", Event: "begin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/conversation/c9", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/conversation/c9/preferences")
	require.NoError(t, err)
	var prefs map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&prefs))
	resp.Body.Close()
	require.Equal(t, "pt", prefs["language"])
}

func TestHealthzAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
