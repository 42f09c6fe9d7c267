package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cloudflare/cloudflare-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Travis-Britz/cfddns"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithInput(t, "", args...)
}

func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CLOUDFLARE_API_TOKEN", "")
	t.Setenv("CLOUDFLARE_ZONE_ID", "")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(input))
	err := cmd.Execute()
	return out.String(), err
}

const (
	fakeToken  = "init-token"
	fakeZoneID = "9a7806061c88ada191ed06f989cc3dac"
)

// fakeAPI answers token verification, zone listing and record list/create
// and points apiOptions at itself for the duration of the test.
type fakeAPI struct {
	mu          sync.Mutex
	tokenStatus string
	created     []map[string]any
}

func newFakeAPI(t *testing.T, tokenStatus string) *fakeAPI {
	t.Helper()
	f := &fakeAPI{tokenStatus: tokenStatus}
	srv := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(srv.Close)

	prev := apiOptions
	apiOptions = []cloudflare.Option{cloudflare.BaseURL(srv.URL), cloudflare.UsingRateLimit(1000)}
	t.Cleanup(func() { apiOptions = prev })
	return f
}

func (f *fakeAPI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	body := map[string]any{"success": true, "errors": []any{}, "messages": []any{}}
	if r.Header.Get("Authorization") != "Bearer "+fakeToken {
		w.WriteHeader(http.StatusForbidden)
		body["success"] = false
		body["errors"] = []map[string]any{{"code": 9109, "message": "Invalid access token"}}
		json.NewEncoder(w).Encode(body)
		return
	}
	info := map[string]any{"page": 1, "per_page": 100, "count": 1, "total_count": 1, "total_pages": 1}
	switch {
	case r.URL.Path == "/user/tokens/verify":
		body["result"] = map[string]any{"id": "tok", "status": f.tokenStatus}
	case r.URL.Path == "/zones":
		body["result"] = []map[string]any{{"id": fakeZoneID, "name": "example.com"}}
		body["result_info"] = info
	case r.URL.Path == "/zones/"+fakeZoneID+"/dns_records" && r.Method == http.MethodGet:
		info["count"], info["total_count"] = 0, 0
		body["result"] = []any{}
		body["result_info"] = info
	case r.URL.Path == "/zones/"+fakeZoneID+"/dns_records" && r.Method == http.MethodPost:
		var rec map[string]any
		json.NewDecoder(r.Body).Decode(&rec)
		rec["id"] = "new"
		f.created = append(f.created, rec)
		body["result"] = rec
	default:
		w.WriteHeader(http.StatusNotFound)
		body["success"] = false
		body["errors"] = []map[string]any{{"code": 7003, "message": "Could not route to " + r.URL.Path}}
	}
	json.NewEncoder(w).Encode(body)
}

func configFile(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	require.NoError(t, os.Chmod(path, 0600))
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cfddns dev\n", out)
}

func TestMalformedConfig(t *testing.T) {
	_, err := execute(t, "--config", configFile(t, "records: {"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed YAML")
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yml"))
	assert.Error(t, err)
}

func TestBadFixedAddress(t *testing.T) {
	path := configFile(t, "cloudflare:\n  api_token: x\n  zone_id: z\nrecords:\n  - name: a.example.com\n    type: A\n")
	_, err := execute(t, "--config", path, "--ipv4", "300.1.1.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--ipv4")
}

func TestInitRefusesToOverwrite(t *testing.T) {
	path := configFile(t, "keep me")
	_, err := execute(t, "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestInitWritesLoadableConfig(t *testing.T) {
	f := newFakeAPI(t, "active")
	path := filepath.Join(t.TempDir(), "config.yml")

	out, err := executeWithInput(t, fakeToken+"\nexample.com\nhome.example.com\na\n", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "config written to")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := cfddns.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, fakeToken, cfg.Cloudflare.APIToken)
	assert.Equal(t, "example.com", cfg.Cloudflare.ZoneName)
	assert.Empty(t, cfg.Cloudflare.ZoneID)
	require.Len(t, cfg.Records, 1)
	assert.Equal(t, cfddns.RecordConfig{Name: "home.example.com", Type: cfddns.TypeA, TTL: cfddns.AutoTTL}, cfg.Records[0])

	// the written file drives a sync
	out, err = execute(t, "--config", path, "--ipv4", "203.0.113.7")
	require.NoError(t, err)
	assert.Contains(t, out, "Record created successfully")
	require.Len(t, f.created, 1)
	assert.Equal(t, "203.0.113.7", f.created[0]["content"])
}

func TestInitWritesZoneID(t *testing.T) {
	newFakeAPI(t, "active")
	path := filepath.Join(t.TempDir(), "config.yml")

	_, err := executeWithInput(t, fakeToken+"\n"+fakeZoneID+"\nhome.example.com\nAAAA\n", "init", "--config", path)
	require.NoError(t, err)

	cfg, err := cfddns.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, fakeZoneID, cfg.Cloudflare.ZoneID)
	assert.Empty(t, cfg.Cloudflare.ZoneName)
	assert.Equal(t, cfddns.TypeAAAA, cfg.Records[0].Type)
}

func TestInitRejectsInactiveToken(t *testing.T) {
	newFakeAPI(t, "disabled")
	path := filepath.Join(t.TempDir(), "config.yml")

	_, err := executeWithInput(t, fakeToken+"\nexample.com\nhome.example.com\nA\n", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
	assert.NoFileExists(t, path)
}

func TestUnexpectedArgs(t *testing.T) {
	_, err := execute(t, "extra")
	assert.Error(t, err)
}
