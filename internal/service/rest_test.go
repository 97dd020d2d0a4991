package service_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRESTGetMissingKeyReturns404(t *testing.T) {
	sw := newMemSwitch()
	a := newTestNode(t, sw, "node-a", 9201, nil)

	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/data/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRESTPutThenGetRoundTrip(t *testing.T) {
	sw := newMemSwitch()
	a := newTestNode(t, sw, "node-a", 9202, nil)

	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	body, err := json.Marshal(map[string]string{"key": "beep", "value": "boop"})
	require.NoError(t, err)

	resp, err := http.Post(srv.URL+"/v1/data", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/data/beep")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "boop", out["value"])
}

func TestRESTStatusReportsIdentity(t *testing.T) {
	sw := newMemSwitch()
	a := newTestNode(t, sw, "node-a", 9203, nil)

	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, a.Self().NodeID.String(), out["nodeId"])
}
