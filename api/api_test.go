package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cosmossdk.io/log"
	"github.com/stretchr/testify/require"

	"github.com/trustoracle/gateway/chain"
	"github.com/trustoracle/gateway/metrics"
	"github.com/trustoracle/gateway/session"
	"github.com/trustoracle/gateway/store"
	"github.com/trustoracle/gateway/submitter"
	"github.com/trustoracle/gateway/types"
)

var apiEpoch = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestAPI(t *testing.T) (*httptest.Server, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	gw := chain.NopGateway{}
	logger := log.NewNopLogger()
	m := metrics.New()
	sub := submitter.New(st, gw, m, logger, time.Second)
	a := New(st, gw, sub, session.NewHub(), m, logger)
	srv := httptest.NewServer(a.Router())
	t.Cleanup(srv.Close)
	return srv, st
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func seedDevice(t *testing.T, st *store.MemStore, deviceID string, keyByte byte) {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = keyByte
	}
	_, err := st.RegisterDevice(context.Background(), deviceID, key, apiEpoch)
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestAPI(t)
	var body map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/health", &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, false, body["chain_enabled"])
	require.Equal(t, float64(0), body["active_sessions"])
}

func TestDevicesList(t *testing.T) {
	srv, st := newTestAPI(t)
	seedDevice(t, st, "d1", 0x01)
	seedDevice(t, st, "d2", 0x02)

	var body struct {
		Count   int             `json:"count"`
		Devices []*types.Device `json:"devices"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/devices", &body))
	require.Equal(t, 2, body.Count)
	require.Equal(t, "d1", body.Devices[0].DeviceID)
}

func TestDeviceDetail(t *testing.T) {
	srv, st := newTestAPI(t)
	seedDevice(t, st, "d1", 0x01)

	var dev types.Device
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/devices/d1", &dev))
	require.Equal(t, "d1", dev.DeviceID)

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/devices/ghost", nil))
}

func TestDeviceSubmissions(t *testing.T) {
	srv, st := newTestAPI(t)
	seedDevice(t, st, "d1", 0x01)
	_, err := st.StoreSubmission(context.Background(), &types.Submission{
		DeviceID: "d1", StepCount: 100, Timestamp: 1, Signature: make([]byte, 64),
		Verified: true, ReceivedAt: apiEpoch,
	})
	require.NoError(t, err)

	var body struct {
		Count       int                 `json:"count"`
		Submissions []*types.Submission `json:"submissions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/devices/d1/submissions", &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, 100, body.Submissions[0].StepCount)

	require.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/devices/ghost/submissions", nil))
}

func TestPending(t *testing.T) {
	srv, st := newTestAPI(t)
	seedDevice(t, st, "d1", 0x01)
	_, err := st.StoreSubmission(context.Background(), &types.Submission{
		DeviceID: "d1", StepCount: 100, Timestamp: 1, Signature: make([]byte, 64),
		Verified: true, ReceivedAt: apiEpoch,
	})
	require.NoError(t, err)

	var body struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/pending", &body))
	require.Equal(t, 1, body.Count)
}

func TestPets(t *testing.T) {
	srv, st := newTestAPI(t)
	require.NoError(t, st.PutPet(context.Background(), types.NewPet("d1", "Rex", apiEpoch)))

	var body struct {
		Count int             `json:"count"`
		Pets  []types.PetView `json:"pets"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/pets", &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "Rex", body.Pets[0].PetName)
	require.False(t, body.Pets[0].OnChain)
}

func TestBalanceDisabled(t *testing.T) {
	srv, _ := newTestAPI(t)
	require.Equal(t, http.StatusBadGateway, getJSON(t, srv.URL+"/api/balance", nil))
}

func TestSubmitBatch(t *testing.T) {
	srv, st := newTestAPI(t)
	seedDevice(t, st, "d1", 0x01)
	_, err := st.StoreSubmission(context.Background(), &types.Submission{
		DeviceID: "d1", StepCount: 100, Timestamp: 1, Signature: make([]byte, 64),
		Verified: true, ReceivedAt: apiEpoch,
	})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/api/submit-batch", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary submitter.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	require.Equal(t, 1, summary.Pending)
	// Chain disabled: the device has no chain handle, so it is skipped.
	require.Len(t, summary.Devices, 1)
	require.True(t, summary.Devices[0].Skipped)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestAPI(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestAPI(t)
	resp, err := http.Post(srv.URL+"/api/devices", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
