package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/require"

	"github.com/strata-cms/strata/ci"
	"github.com/strata-cms/strata/gateway"
	"github.com/strata-cms/strata/helper/testlog"
	"github.com/strata-cms/strata/structs"
	"github.com/strata-cms/strata/version"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	port := ci.PortAllocator.One()
	return &Config{
		AppID:           "strata-test",
		DatabaseURI:     "memdb://local",
		MasterKey:       "test-master-key",
		RefreshSecret:   "refresh",
		AccessSecret:    "access",
		Port:            port,
		ServerURI:       fmt.Sprintf("http://127.0.0.1:%d", port),
		PublicServerURI: fmt.Sprintf("http://127.0.0.1:%d", port),
	}
}

func startAgent(t *testing.T) (*Agent, string) {
	t.Helper()
	cfg := testConfig(t)

	a, err := NewAgent(cfg, testlog.HCLogger(t))
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		require.NoError(t, a.Shutdown(context.Background()))
	})
	return a, cfg.ServerURI
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body interface{}, headers map[string]string) (*http.Response, string) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(http.MethodPost, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestAgent_Status(t *testing.T) {
	ci.Parallel(t)
	_, base := startAgent(t)

	var status map[string]interface{}
	code := getJSON(t, base+"/v1/status", &status)
	must.Eq(t, http.StatusOK, code)
	must.Eq(t, version.Version, status["version"].(string))
	must.Eq(t, "database", status["adapter"].(string))
}

func TestAgent_FunctionGatingOverHTTP(t *testing.T) {
	ci.Parallel(t)
	a, base := startAgent(t)
	ctx := context.Background()

	rt := a.Runtime()
	require.NoError(t, rt.Catalog.Register(&structs.Plugin{
		ID:      "P",
		Version: structs.PluginVersion{Plugin: "1.0.0"},
	}, false))
	require.NoError(t, rt.Catalog.Load(ctx))

	require.NoError(t, rt.Gateway.Define("P", "double", func(_ context.Context, req *gateway.Request) (interface{}, error) {
		x, _ := req.Params["x"].(float64)
		return x * 2, nil
	}))

	resp, body := postJSON(t, base+"/v1/function/double", map[string]interface{}{"x": 21}, nil)
	must.Eq(t, http.StatusInternalServerError, resp.StatusCode)
	must.Eq(t, "Plugin: P is not active.", body)

	// Activation requires the master key.
	resp, _ = postJSON(t, base+"/v1/plugin/P/activate", nil, nil)
	must.Eq(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = postJSON(t, base+"/v1/plugin/P/activate", nil,
		map[string]string{"X-Master-Key": "test-master-key"})
	must.Eq(t, http.StatusNoContent, resp.StatusCode)

	resp, body = postJSON(t, base+"/v1/function/double", map[string]interface{}{"x": 21}, nil)
	must.Eq(t, http.StatusOK, resp.StatusCode)
	must.Eq(t, "42", body)
}

func TestAgent_SyndicateOverHTTP(t *testing.T) {
	ci.Parallel(t)
	_, base := startAgent(t)

	// Client registration needs an authenticated user.
	resp, _ := postJSON(t, base+"/v1/syndicate/client",
		map[string]string{"client": "news"}, nil)
	must.Eq(t, http.StatusForbidden, resp.StatusCode)

	resp, body := postJSON(t, base+"/v1/syndicate/client",
		map[string]string{"client": "news"},
		map[string]string{"X-Username": "alice"})
	must.Eq(t, http.StatusOK, resp.StatusCode)

	var client structs.SyndicateClient
	require.NoError(t, json.Unmarshal([]byte(body), &client))
	must.Eq(t, "alice", client.Username)

	resp, body = postJSON(t, base+"/v1/syndicate/token",
		map[string]string{"token": client.RefreshToken}, nil)
	must.Eq(t, http.StatusOK, resp.StatusCode)

	var token map[string]string
	require.NoError(t, json.Unmarshal([]byte(body), &token))

	// Types require the access token.
	req, err := http.NewRequest(http.MethodGet, base+"/v1/syndicate/types", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token["token"])
	typesResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer typesResp.Body.Close()
	must.Eq(t, http.StatusOK, typesResp.StatusCode)

	code := getJSON(t, base+"/v1/syndicate/types", nil)
	must.Eq(t, http.StatusForbidden, code)
}

func TestAgent_PluginEndpoints(t *testing.T) {
	ci.Parallel(t)
	a, base := startAgent(t)
	ctx := context.Background()

	rt := a.Runtime()
	require.NoError(t, rt.Catalog.RegisterBuiltin(&structs.Plugin{
		ID:      "core-auth",
		Version: structs.PluginVersion{Plugin: "1.0.0"},
	}, true))
	require.NoError(t, rt.Catalog.Load(ctx))

	var plugins []structs.Plugin
	code := getJSON(t, base+"/v1/plugins", &plugins)
	must.Eq(t, http.StatusOK, code)
	require.Len(t, plugins, 1)
	must.Eq(t, "core-auth", plugins[0].ID)

	var p structs.Plugin
	code = getJSON(t, base+"/v1/plugin/core-auth", &p)
	must.Eq(t, http.StatusOK, code)
	must.True(t, p.Meta.Builtin)

	code = getJSON(t, base+"/v1/plugin/missing", nil)
	must.Eq(t, http.StatusNotFound, code)

	// Built-in plugins cannot be deleted.
	req, err := http.NewRequest(http.MethodDelete, base+"/v1/plugin/core-auth", nil)
	require.NoError(t, err)
	req.Header.Set("X-Master-Key", "test-master-key")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	must.Eq(t, http.StatusBadRequest, resp.StatusCode)
}
