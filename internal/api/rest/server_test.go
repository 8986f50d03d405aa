package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/acquisition"
	"github.com/KevinKickass/dbscada/internal/api/websocket"
	"github.com/KevinKickass/dbscada/internal/interfaces"
	"github.com/KevinKickass/dbscada/internal/types"
)

type fakeProvider struct {
	status interfaces.SystemStatus
}

func (f *fakeProvider) GetCurrentStatus() interfaces.SystemStatus {
	return f.status
}

func (f *fakeProvider) GroupStatus(name string) (acquisition.Status, bool) {
	for _, g := range f.status.Groups {
		if g.Group == name {
			return g, true
		}
	}
	return acquisition.Status{}, false
}

func newTestServer() *Server {
	provider := &fakeProvider{status: interfaces.SystemStatus{
		RunID: "7d4f7a0e-3a51-4a4e-9c55-2f3a9f1d2b10",
		State: "RUNNING",
		Groups: []acquisition.Status{
			{
				Group:    "apis1",
				State:    types.StateConnected,
				Database: types.StateConnected,
				Policy:   acquisition.PolicyAny,
				Devices: []acquisition.DeviceStatus{
					{Name: "apis1", Address: "10.0.0.1:502", State: types.StateConnected},
				},
				Stats: acquisition.Stats{Cycles: 10, Inserted: 30},
			},
			{
				Group:    "apis2",
				State:    types.StateDegraded,
				Database: types.StateConnected,
				Policy:   acquisition.PolicyAny,
			},
		},
	}}
	return NewServer("127.0.0.1:0", provider, nil, zap.NewNop())
}

func doGet(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestHealth(t *testing.T) {
	rec, body := doGet(t, newTestServer(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestSystemStatus(t *testing.T) {
	rec, body := doGet(t, newTestServer(), "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "RUNNING", body["state"])
	groups := body["groups"].([]any)
	require.Len(t, groups, 2)

	apis1 := groups[0].(map[string]any)
	assert.Equal(t, "apis1", apis1["group"])
	assert.Equal(t, "CONNECTED", apis1["state"])
	assert.Equal(t, 30.0, apis1["stats"].(map[string]any)["inserted"])

	apis2 := groups[1].(map[string]any)
	assert.Equal(t, "DEGRADED", apis2["state"])
}

func TestListGroups(t *testing.T) {
	rec, body := doGet(t, newTestServer(), "/api/v1/groups")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])
}

func TestGetGroup(t *testing.T) {
	rec, body := doGet(t, newTestServer(), "/api/v1/groups/apis1")
	require.Equal(t, http.StatusOK, rec.Code)
	devices := body["devices"].([]any)
	require.Len(t, devices, 1)
	assert.Equal(t, "10.0.0.1:502", devices[0].(map[string]any)["address"])
}

func TestGetGroupNotFound(t *testing.T) {
	rec, body := doGet(t, newTestServer(), "/api/v1/groups/apis9")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "GROUP_404", errBody["code"])
	assert.Equal(t, "apis9", errBody["details"])
}

func TestLiveFeedWithoutHub(t *testing.T) {
	rec, _ := doGet(t, newTestServer(), "/api/v1/ws/live")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWsStatusCountsClients(t *testing.T) {
	provider := &fakeProvider{}
	hub := websocket.NewHub(zap.NewNop(), "run")
	s := NewServer("127.0.0.1:0", provider, hub, zap.NewNop())

	rec, body := doGet(t, s, "/api/v1/ws/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.0, body["connected_clients"])
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	newTestServer().Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStartAndShutdown(t *testing.T) {
	s := newTestServer()
	require.NoError(t, s.Start())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}

func TestStartFailsOnBusyAddress(t *testing.T) {
	first := newTestServer()
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	second := NewServer(first.Addr(), &fakeProvider{}, nil, zap.NewNop())
	assert.Error(t, second.Start())
}
