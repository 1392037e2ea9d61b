package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecbridge/webcodecs/internal/httpapi"
	"github.com/codecbridge/webcodecs/internal/resourcemgr"
)

type fakeInstance struct {
	id, groupID, kind string
	background        bool
	closed            bool
	saturated         bool
	queueSize         int
	lastActivity      time.Time
	pid               int
	pidOK             bool
	reclaimErr        error
	reclaimed         bool
}

func (f *fakeInstance) ID() string             { return f.id }
func (f *fakeInstance) GroupID() string        { return f.groupID }
func (f *fakeInstance) Kind() string           { return f.kind }
func (f *fakeInstance) Background() bool       { return f.background }
func (f *fakeInstance) StateIsClosed() bool    { return f.closed }
func (f *fakeInstance) Saturated() bool        { return f.saturated }
func (f *fakeInstance) QueueSize() int         { return f.queueSize }
func (f *fakeInstance) LastActivity() time.Time { return f.lastActivity }
func (f *fakeInstance) BackendPID() (int, bool) { return f.pid, f.pidOK }
func (f *fakeInstance) Reclaim() error {
	f.reclaimed = true
	return f.reclaimErr
}

func newTestServer(instances ...*fakeInstance) (*httpapi.Server, *resourcemgr.Manager) {
	mgr := resourcemgr.New(nil)
	for _, inst := range instances {
		mgr.Register(inst)
	}
	return httpapi.NewServer(httpapi.DefaultConfig(), mgr, nil), mgr
}

func TestHandleListInstances(t *testing.T) {
	inst := &fakeInstance{
		id: "enc-1", groupID: "pair-1", kind: "video-encoder",
		queueSize: 3, saturated: true, lastActivity: time.Now(),
	}
	s, _ := newTestServer(inst)

	req := httptest.NewRequest(http.MethodGet, "/instances", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body, 1)
	assert.Equal(t, "enc-1", body[0]["id"])
	assert.Equal(t, "pair-1", body[0]["group_id"])
	assert.Equal(t, true, body[0]["saturated"])
	assert.Equal(t, float64(3), body[0]["queue_size"])
}

func TestHandleListInstances_ProcessStats(t *testing.T) {
	inst := &fakeInstance{
		id: "enc-1", groupID: "pair-1", kind: "video-encoder",
		lastActivity: time.Now(), pid: os.Getpid(), pidOK: true,
	}
	s, _ := newTestServer(inst)

	req := httptest.NewRequest(http.MethodGet, "/instances", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body, 1)
	assert.Contains(t, body[0], "process_rss_bytes")
	assert.Greater(t, body[0]["process_rss_bytes"], float64(0))
}

func TestHandleInstanceEvents(t *testing.T) {
	inst := &fakeInstance{id: "enc-1", groupID: "pair-1", kind: "video-encoder"}
	s, _ := newTestServer(inst)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/instances/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: instances\ndata: "))
	assert.Contains(t, body, `"id":"enc-1"`)
}

func TestHandleListInstances_Empty(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/instances", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Empty(t, body)
}

func TestHandleReclaim(t *testing.T) {
	stale := &fakeInstance{id: "dec-1", kind: "video-decoder"}
	s, _ := newTestServer(stale)

	req := httptest.NewRequest(http.MethodPost, "/reclaim", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body["reclaimed"])
	assert.True(t, stale.reclaimed)
}

func TestHandleLogLevel(t *testing.T) {
	s, _ := newTestServer()

	put := httptest.NewRequest(http.MethodPut, "/loglevel", bytes.NewBufferString(`{"level":"debug"}`))
	putRec := httptest.NewRecorder()
	s.Router().ServeHTTP(putRec, put)
	require.Equal(t, http.StatusOK, putRec.Code)

	get := httptest.NewRequest(http.MethodGet, "/loglevel", nil)
	getRec := httptest.NewRecorder()
	s.Router().ServeHTTP(getRec, get)
	require.Equal(t, http.StatusOK, getRec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(getRec.Body).Decode(&body))
	assert.Equal(t, "debug", body["level"])
}

func TestHandleLogLevel_InvalidBody(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodPut, "/loglevel", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	inst := &fakeInstance{id: "enc-1", kind: "video-encoder", queueSize: 2}
	s, _ := newTestServer(inst)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "codecbridge_instance_queue_size")
}
