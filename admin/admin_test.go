//go:build unix

package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/maxpert/termlog/cfg"
	"github.com/maxpert/termlog/publication"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *publication.ClientConductor) {
	t.Helper()
	dir := t.TempDir()
	c, err := publication.NewClientConductor(publication.ConductorConfig{
		LogDir:          filepath.Join(dir, "publications"),
		CountersPath:    filepath.Join(dir, "counters.dat"),
		RegistryPath:    filepath.Join(dir, "registry"),
		ClientID:        1,
		TermLength:      64 * 1024,
		PageSize:        4096,
		MTULength:       1408,
		CounterCapacity: 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("# metrics\n"))
	})

	mux := http.NewServeMux()
	RegisterRoutes(mux, NewAdminHandlers(c, metrics))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, c
}

func getJSON(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func get(t *testing.T, url string) (int, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return getJSON(t, req)
}

func TestListPublications(t *testing.T) {
	srv, c := newTestServer(t)

	ipc, err := c.AddPublication("termlog:ipc", 1).Get()
	require.NoError(t, err)
	_, err = c.AddPublication("termlog:udp?endpoint=localhost:40123", 2).Get()
	require.NoError(t, err)

	status, body := get(t, srv.URL+"/admin/publications")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)

	status, body = get(t, srv.URL+"/admin/publications?channel=termlog:ipc*")
	require.Equal(t, http.StatusOK, status)
	data := body["data"].([]interface{})
	require.Len(t, data, 1)
	view := data[0].(map[string]interface{})
	assert.Equal(t, "termlog:ipc", view["channel"])
	assert.Equal(t, float64(ipc.StreamID()), view["stream_id"])
	assert.Equal(t, "active", view["channel_status"])
	assert.Equal(t, false, view["connected"])

	status, body = get(t, srv.URL+"/admin/publications?channel=[")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "invalid channel pattern")
}

func TestGetPublication(t *testing.T) {
	srv, c := newTestServer(t)

	pub, err := c.AddPublication("termlog:ipc", 1).Get()
	require.NoError(t, err)
	driver, err := c.Driver(pub)
	require.NoError(t, err)
	driver.SetPositionLimit(1 << 20)
	_, err = pub.Offer([]byte("hello"))
	require.NoError(t, err)

	status, body := get(t, srv.URL+"/admin/publications/"+strconv.FormatInt(pub.RegistrationID(), 10))
	require.Equal(t, http.StatusOK, status)
	view := body["data"].(map[string]interface{})
	assert.Equal(t, float64(64), view["position"])
	assert.Equal(t, float64(1<<20), view["position_limit"])

	status, _ = get(t, srv.URL+"/admin/publications/12345")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, srv.URL+"/admin/publications/abc")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestAuthMiddleware(t *testing.T) {
	original := cfg.Config.Admin.Secret
	cfg.Config.Admin.Secret = "s3cret"
	defer func() { cfg.Config.Admin.Secret = original }()

	srv, _ := newTestServer(t)

	status, _ := get(t, srv.URL+"/admin/publications")
	assert.Equal(t, http.StatusUnauthorized, status)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/admin/publications", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	status, _ = getJSON(t, req)
	assert.Equal(t, http.StatusUnauthorized, status)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/admin/publications", nil)
	req.Header.Set("X-Termlog-Secret", "s3cret")
	status, _ = getJSON(t, req)
	assert.Equal(t, http.StatusOK, status)

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/admin/publications", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	status, _ = getJSON(t, req)
	assert.Equal(t, http.StatusOK, status)
}

func TestMetricsRoute(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/admin/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
