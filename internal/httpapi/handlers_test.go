package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brewline.io/internal/auth"
	"brewline.io/internal/rbac"
	"brewline.io/internal/store/memory"
	"brewline.io/internal/stream"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type apiClient struct {
	baseURL string
	client  *http.Client
	core    *rbac.Core
	signer  *auth.Signer
	t       *testing.T
}

type testOption func(*Options)

func withSigner(t *testing.T) testOption {
	return func(o *Options) {
		s, err := auth.NewSigner(testSecret, "brewline")
		require.NoError(t, err)
		o.Signer = s
	}
}

func withStream(s *stream.Stream) testOption {
	return func(o *Options) { o.Stream = s }
}

func withReady(r readinessChecker) testOption {
	return func(o *Options) { o.Ready = r }
}

func newTestAPI(t *testing.T, opts ...testOption) *apiClient {
	t.Helper()
	core, err := rbac.NewCore(memory.New())
	require.NoError(t, err)

	o := Options{Version: "test", RateBurst: 1000, RatePerSecond: 1000}
	for _, opt := range opts {
		opt(&o)
	}
	srv := httptest.NewServer(New(core, o).Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), core: core, signer: o.Signer, t: t}
}

func (c *apiClient) token(userID string, roles ...string) string {
	c.t.Helper()
	tok, _, err := c.signer.GenerateToken(userID, roles, time.Hour)
	require.NoError(c.t, err)
	return tok
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(c.t, err)
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, token)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthzAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "test", health["version"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp = api.get("/v1/info", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	info := decodeBody[map[string]any](t, resp)
	assert.Len(t, info["resources"], 18)
	assert.Len(t, info["actions"], 6)
}

type readyFunc func(context.Context) error

func (f readyFunc) Check(ctx context.Context) error { return f(ctx) }

func TestReadyReportsDependencyFailure(t *testing.T) {
	api := newTestAPI(t, withReady(readyFunc(func(context.Context) error { return errors.New("redis: connection refused") })))

	resp := api.get("/readyz", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "not_ready", body["status"])
}

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyProbeNamesFailingDependency(t *testing.T) {
	probe := ReadyProbe{Deps: map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("down") }),
	}}
	err := probe.Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
	assert.NoError(t, ReadyProbe{}.Check(context.Background()))
}

func TestUnknownRouteAndMethod(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(http.MethodPut, "/v1/permissions", map[string]any{}, "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsEndpointIsPublic(t *testing.T) {
	api := newTestAPI(t, withSigner(t))
	resp := api.get("/metrics", nil, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{rbac.MissingRole("r-1"), http.StatusNotFound},
		{rbac.DuplicateCode("org", "X"), http.StatusConflict},
		{&rbac.InUseError{Kind: "role", ID: "r-1", Count: 1, Referrer: "active assignment"}, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		handleRBACError(rr, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)
		assert.Equal(t, tt.code, rr.Code, tt.err.Error())
	}
}

func TestEventStreamDeliversOrganizationChanges(t *testing.T) {
	feed := stream.New(8)
	api := newTestAPI(t, withStream(feed))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.baseURL+"/v1/organizations/org-1/events", nil)
	require.NoError(t, err)
	resp, err := api.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": stream started\n", line)
	require.Eventually(t, func() bool { return feed.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	api.createPermission("org-2", "ORDERS", "READ", "ALLOW", "")
	p := api.createPermission("org-1", "ORDERS", "READ", "ALLOW", "")

	var data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			data = rest
		}
	}
	var evt stream.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, "rbac.permission.create", evt.Event)
	assert.Equal(t, "org-1", evt.OrganizationID)
	assert.Equal(t, p.ID, evt.Fields["permission_id"])
}

func TestEventStreamDisabled(t *testing.T) {
	api := newTestAPI(t)
	resp := api.get("/v1/organizations/org-1/events", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
