package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/pagestore/internal/testutil"
	"github.com/Sternrassler/pagestore/pkg/fetchcache"
	"github.com/Sternrassler/pagestore/pkg/pagination"
	"github.com/Sternrassler/pagestore/pkg/upstream"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	upstream *testutil.MockUpstream
	server   *httptest.Server
	srv      *Server
}

type itemView struct {
	ID    string `json:"id"`
	Items []struct {
		ID int `json:"id"`
	} `json:"items"`
	Page       int  `json:"page"`
	PageFrom   int  `json:"pageFrom"`
	PageTo     int  `json:"pageTo"`
	PageSize   int  `json:"pageSize"`
	Total      int  `json:"total"`
	TotalPages int  `json:"totalPages"`
	Loading    bool `json:"loading"`
}

func (v itemView) ids() []int {
	ids := make([]int, len(v.Items))
	for i, item := range v.Items {
		ids[i] = item.ID
	}
	return ids
}

func newTestEnv(t *testing.T, total int) *testEnv {
	t.Helper()

	mock := testutil.NewMockUpstream()
	t.Cleanup(mock.Close)
	mock.SetDataset("/items", testutil.Items(total))

	logger := zerolog.Nop()
	cfg := upstream.DefaultConfig(mock.URL()+"/items", "pagestore-test/1.0")
	cfg.Logger = &logger
	cfg.Retry = func(upstream.ErrorClass) upstream.RetryConfig {
		return upstream.RetryConfig{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	}
	client, err := upstream.New(cfg)
	require.NoError(t, err)

	cache := fetchcache.NewManager(fetchcache.Options{Logger: logger})
	store := pagination.NewStore(pagination.WithLogger(logger))
	ctrl, err := pagination.CreateResource(store, "items", fetchcache.Wrap(cache, "items", upstream.FetchFunc[Item](client)), pagination.Options{MaxPageSize: 50, MaxRangePages: 5})
	require.NoError(t, err)

	srv := New(store, map[string]Resource{"items": {Controller: ctrl, Cache: cache}}, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})

	return &testEnv{upstream: mock, server: ts, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) view(t *testing.T, method, path string, body any, wantStatus int) itemView {
	t.Helper()
	resp, data := e.do(t, method, path, body)
	require.Equal(t, wantStatus, resp.StatusCode, string(data))

	var v itemView
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)

	resp, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 5)
	env.view(t, http.MethodGet, "/resources/items/items?page=1", nil, http.StatusOK)

	resp, body := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "pagestore_fetches_total")
	assert.Contains(t, string(body), "pagestore_upstream_requests_total")
}

func TestResources(t *testing.T) {
	env := newTestEnv(t, 5)

	resp, body := env.do(t, http.MethodGet, "/resources", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"resources": ["items"]}`, string(body))

	resp, _ = env.do(t, http.MethodGet, "/resources/unknown/items", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	env.view(t, http.MethodGet, "/resources/items/items", nil, http.StatusOK)
	resp, body = env.do(t, http.MethodGet, "/resources/items", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats pagination.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.Equal(t, 1, stats.Partitions)
	assert.Equal(t, 0, stats.Instances)
}

func TestItems(t *testing.T) {
	env := newTestEnv(t, 23)

	v := env.view(t, http.MethodGet, "/resources/items/items?page=2&pageSize=5", nil, http.StatusOK)
	assert.Equal(t, []int{5, 6, 7, 8, 9}, v.ids())
	assert.Equal(t, 23, v.Total)
	assert.Equal(t, 5, v.TotalPages)
	assert.False(t, v.Loading)

	v = env.view(t, http.MethodGet, "/resources/items/items?pageFrom=4&pageTo=5&pageSize=5", nil, http.StatusOK)
	assert.Equal(t, []int{15, 16, 17, 18, 19, 20, 21, 22}, v.ids())
	assert.Equal(t, 4, v.PageFrom)
	assert.Equal(t, 5, v.PageTo)
}

func TestItems_ArgsBecomeUpstreamQuery(t *testing.T) {
	env := newTestEnv(t, 3)

	env.view(t, http.MethodGet, "/resources/items/items?page=1&category=books", nil, http.StatusOK)
	assert.Equal(t, "books", env.upstream.GetLastQuery()["category"])
}

func TestItems_Errors(t *testing.T) {
	env := newTestEnv(t, 3)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "non numeric page", path: "/resources/items/items?page=x", status: http.StatusBadRequest},
		{name: "zero page size", path: "/resources/items/items?pageSize=0", status: http.StatusBadRequest},
		{name: "mixed paging modes", path: "/resources/items/items?page=1&pageFrom=2", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodGet, tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	t.Run("upstream failure", func(t *testing.T) {
		env.upstream.FailNext("/items", testutil.NewServerErrorResponse())
		resp, _ := env.do(t, http.MethodGet, "/resources/items/items?page=1&fresh=1", nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestRequestLimits(t *testing.T) {
	env := newTestEnv(t, 30)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{name: "items page size", method: http.MethodGet, path: "/resources/items/items?page=1&pageSize=51"},
		{name: "items range width", method: http.MethodGet, path: "/resources/items/items?pageFrom=1&pageTo=1000000000"},
		{name: "items page overflow", method: http.MethodGet, path: "/resources/items/items?page=" + strconv.Itoa(math.MaxInt/2) + "&pageSize=50"},
		{name: "create page size", method: http.MethodPost, path: "/resources/items/instances", body: map[string]any{"pageSize": 1000}},
		{name: "create range width", method: http.MethodPost, path: "/resources/items/instances", body: map[string]any{"pageFrom": 1, "pageTo": 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
		})
	}
	assert.Equal(t, 0, env.upstream.GetRequestCount(), "rejected requests reached the upstream")

	t.Run("patch widening range", func(t *testing.T) {
		v := env.view(t, http.MethodPost, "/resources/items/instances", map[string]any{"pageFrom": 1, "pageTo": 2, "pageSize": 10}, http.StatusCreated)
		path := "/resources/items/instances/" + v.ID

		resp, _ := env.do(t, http.MethodPatch, path, map[string]any{"pageTo": 9})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = env.do(t, http.MethodPatch, path, map[string]any{"pageSize": 1})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "smaller page size widens the range past the limit")

		got := env.view(t, http.MethodGet, path, nil, http.StatusOK)
		assert.Equal(t, 2, got.PageTo)
		assert.Equal(t, 10, got.PageSize)
	})
}

func TestRefresh_InvalidatesCaches(t *testing.T) {
	env := newTestEnv(t, 10)

	env.view(t, http.MethodGet, "/resources/items/items?page=1", nil, http.StatusOK)
	env.view(t, http.MethodGet, "/resources/items/items?page=1", nil, http.StatusOK)
	require.Equal(t, 1, env.upstream.GetRequestCount())

	resp, body := env.do(t, http.MethodPost, "/resources/items/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"invalidated": 1}`, string(body))

	env.view(t, http.MethodGet, "/resources/items/items?page=1", nil, http.StatusOK)
	assert.Equal(t, 2, env.upstream.GetRequestCount())
}

func TestInstanceLifecycle(t *testing.T) {
	env := newTestEnv(t, 23)

	created := env.view(t, http.MethodPost, "/resources/items/instances", map[string]any{"pageSize": 4}, http.StatusCreated)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, []int{0, 1, 2, 3}, created.ids())
	assert.Equal(t, 6, created.TotalPages)

	path := "/resources/items/instances/" + created.ID

	got := env.view(t, http.MethodGet, path, nil, http.StatusOK)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 1, got.Page)

	resp, body := env.do(t, http.MethodGet, "/resources/items/instances", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), created.ID)

	updated := env.view(t, http.MethodPatch, path, map[string]any{"page": 3}, http.StatusOK)
	assert.Equal(t, 3, updated.Page)
	assert.Equal(t, []int{8, 9, 10, 11}, updated.ids())

	updated = env.view(t, http.MethodPatch, path, map[string]any{"pageSize": 8}, http.StatusOK)
	assert.Equal(t, 2, updated.Page, "page size change keeps the first visible item")
	assert.Equal(t, 8, updated.PageSize)

	resp, _ = env.do(t, http.MethodPatch, path, map[string]any{"pageFrom": 2})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "range field on a single page instance")

	resp, _ = env.do(t, http.MethodPatch, path, map[string]any{"total": 5})
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "read-only field")

	resp, _ = env.do(t, http.MethodPatch, path, map[string]any{"page": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPatch, path, map[string]any{"page": "two"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	updated = env.view(t, http.MethodPatch, path, map[string]any{"args": map[string]any{"q": "x"}}, http.StatusOK)
	assert.Equal(t, 1, updated.Page, "argument change resets the page")
	assert.Equal(t, "x", env.upstream.GetLastQuery()["q"])

	resp, _ = env.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, path, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateInstance_Invalid(t *testing.T) {
	env := newTestEnv(t, 5)

	resp, _ := env.do(t, http.MethodPost, "/resources/items/instances", map[string]any{"page": 2, "pageTo": 3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/resources/items/instances", strings.NewReader("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestCreateInstance_RangeMode(t *testing.T) {
	env := newTestEnv(t, 30)

	v := env.view(t, http.MethodPost, "/resources/items/instances", map[string]any{"pageFrom": 2, "pageTo": 3, "pageSize": 5}, http.StatusCreated)
	assert.Equal(t, []int{5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, v.ids())

	resp, _ := env.do(t, http.MethodPatch, "/resources/items/instances/"+v.ID, map[string]any{"page": 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestEvents_InvalidName(t *testing.T) {
	env := newTestEnv(t, 5)

	resp, body := env.do(t, http.MethodGet, "/resources/items/events?event=somethingElse", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "invalid event name")
}

func TestEvents_StreamsMerges(t *testing.T) {
	env := newTestEnv(t, 50)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/resources/items/events?event=itemsMerged"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	type mergeMessage struct {
		Resource string                `json:"resource"`
		Type     string                `json:"type"`
		Payload  pagination.MergeEvent `json:"payload"`
	}
	received := make(chan mergeMessage, 1)
	go func() {
		var m mergeMessage
		if err := conn.ReadJSON(&m); err == nil {
			received <- m
		}
	}()

	// The subscription is registered after the handshake; keep merging new
	// pages until one is observed.
	var m mergeMessage
	timeout := time.After(5 * time.Second)
loop:
	for page := 1; page <= 50; page++ {
		env.view(t, http.MethodGet, "/resources/items/items?pageSize=1&page="+strconv.Itoa(page), nil, http.StatusOK)
		select {
		case m = <-received:
			break loop
		case <-timeout:
			t.Fatal("no merge event received")
		case <-time.After(50 * time.Millisecond):
		}
	}
	require.Equal(t, "items", m.Resource, "no merge event received")

	assert.Equal(t, "items", m.Resource)
	assert.Equal(t, pagination.EventItemsMerged, m.Type)
	assert.Equal(t, 50, m.Payload.Total)
	assert.Equal(t, 1, m.Payload.Count)
}

