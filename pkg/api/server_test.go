package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cuemby/meridian/pkg/cluster"
	"github.com/cuemby/meridian/pkg/config"
	"github.com/cuemby/meridian/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.ElectionTimeoutMin = config.Duration(100 * time.Millisecond)
	cfg.ElectionTimeoutMax = config.Duration(200 * time.Millisecond)
	cfg.LeaderHeartbeatInterval = config.Duration(25 * time.Millisecond)
	cfg.ShardCount = 4

	sup, err := cluster.New(cluster.Options{NodeID: "node-1", Config: cfg})
	require.NoError(t, err)
	require.NoError(t, sup.Start())
	t.Cleanup(sup.Shutdown)
	// meridiond registers its own node right after Start; do the same so
	// the registry has a live member.
	require.NoError(t, sup.AddNode("node-1", "127.0.0.1", 7000))

	srv := NewServer(sup)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	require.Eventually(t, func() bool { return sup.Consensus().IsLeader() }, 2*time.Second, 10*time.Millisecond)
	return ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHandleHealthReturnsOK(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleReadyReportsLeaderAsReady(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ready", body["status"])
}

func TestHandleRegisterAndDeregisterNode(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts, "/nodes/register", map[string]any{"node_id": "node-2", "addr": "127.0.0.1", "port": 9001})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, ts, "/nodes/register", map[string]any{"node_id": "node-2", "addr": "127.0.0.1", "port": 9001})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = postJSON(t, ts, "/nodes/deregister", map[string]any{"node_id": "node-2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleHeartbeatUnknownNodeReturnsError(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts, "/nodes/heartbeat", map[string]any{"node_id": "ghost"})
	require.GreaterOrEqual(t, resp.StatusCode, 400)
}

func TestHandleSubmitCommandOnLeaderSucceeds(t *testing.T) {
	ts := newTestServer(t)
	resp, body := postJSON(t, ts, "/log/submit", map[string]any{"command": "put", "payload": []byte("x")})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, body["index"])
}

func TestHandleBeginAndExecuteTwoPhaseTransaction(t *testing.T) {
	ts := newTestServer(t)
	_, body := postJSON(t, ts, "/txn/begin", map[string]any{
		"kind":         types.TxnKindTwoPhase,
		"participants": []map[string]any{{"id": "node-1"}},
	})
	txnID, ok := body["txn_id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, txnID)

	resp, body := postJSON(t, ts, "/txn/execute", map[string]any{"txn_id": txnID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, string(types.TxnCommitted), body["state"])
}

func TestHandleExecuteTransactionUnknownReturnsNonOKStatus(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts, "/txn/execute", map[string]any{"txn_id": "ghost"})
	require.GreaterOrEqual(t, resp.StatusCode, 400)
}

func TestHandleExecuteCrossShardNoShardsIsServiceUnavailable(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts, "/query/execute", map[string]any{"query": "select *"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleUpdateResourceSample(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := postJSON(t, ts, "/metrics/resource_sample", map[string]any{"node_id": "node-1", "cpu_pct": 42.0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleMalformedBodyReturnsBadRequest(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Post(ts.URL+"/nodes/register", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
