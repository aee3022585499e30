package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-tracker/internal/channel"
	"delivery-tracker/internal/tracking"
	"delivery-tracker/internal/tracking/trackingtest"
	"delivery-tracker/pkg/utils"
)

type staticStats channel.Stats

func (s staticStats) Stats() channel.Stats { return channel.Stats(s) }

type apiFixture struct {
	router  *gin.Engine
	store   *tracking.Store
	channel *trackingtest.FakeChannel
}

func newAPI(t *testing.T, stats StatsProvider) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fc := trackingtest.NewFakeChannel()
	store := tracking.NewStore(tracking.Dependencies{
		Channel:     fc,
		Credentials: trackingtest.StaticToken("token-1"),
		Persister:   &trackingtest.MemoryPersister{},
	}, tracking.Options{})

	router := gin.New()
	NewTrackingHandler(store, stats).RegisterRoutes(router.Group("/api/v1"))

	return &apiFixture{router: router, store: store, channel: fc}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) (int, utils.Response) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v1/tracking"+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var resp utils.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func TestTrackingHandler_StartTracking(t *testing.T) {
	f := newAPI(t, nil)

	code, resp := f.do(t, http.MethodPost, "/start", `{"delivery_id":"d-1"}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "d-1", data["delivery_id"])
	assert.Equal(t, string(tracking.StateConnected), data["connection_state"])
	assert.Equal(t, 1, f.channel.Subscribes())
}

func TestTrackingHandler_StartTrackingValidation(t *testing.T) {
	f := newAPI(t, nil)

	code, resp := f.do(t, http.MethodPost, "/start", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.Equal(t, 0, f.channel.Opens())
}

func TestTrackingHandler_StartTrackingConflict(t *testing.T) {
	f := newAPI(t, nil)
	f.channel.SubscribeErr = errors.New("delivery not found")

	code, resp := f.do(t, http.MethodPost, "/start", `{"delivery_id":"d-1"}`)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, resp.Error, "delivery not found")

	state, _ := f.store.ConnectionState()
	assert.Equal(t, tracking.StateError, state)
}

func TestTrackingHandler_UpdatePosition(t *testing.T) {
	f := newAPI(t, nil)

	code, _ := f.do(t, http.MethodPost, "/position", `{"latitude":48.85,"longitude":2.35}`)
	assert.Equal(t, http.StatusConflict, code, "no session yet")

	f.do(t, http.MethodPost, "/start", `{"delivery_id":"d-1"}`)

	code, resp := f.do(t, http.MethodPost, "/position", `{"latitude":123,"longitude":2.35}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Error, "Latitude")

	code, _ = f.do(t, http.MethodPost, "/position", `{"latitude":48.85,"longitude":2.35}`)
	assert.Equal(t, http.StatusAccepted, code)
	assert.Len(t, f.channel.Pushed(), 1)
}

func TestTrackingHandler_OfflineIssues(t *testing.T) {
	f := newAPI(t, nil)

	f.do(t, http.MethodPost, "/start", `{"delivery_id":"d-1"}`)
	code, resp := f.do(t, http.MethodPut, "/offline", `{"offline":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp.Data.(map[string]interface{})["offline"])

	code, resp = f.do(t, http.MethodPost, "/issues", `{"type":"DAMAGE","severity":"HIGH","description":"box crushed"}`)
	require.Equal(t, http.StatusCreated, code)

	issues := resp.Data.([]interface{})
	require.Len(t, issues, 1)
	id := issues[0].(map[string]interface{})["id"].(string)
	assert.True(t, strings.HasPrefix(id, tracking.LocalIssuePrefix))

	code, _ = f.do(t, http.MethodPost, "/issues/"+id+"/resolve", `{"resolution_notes":"repacked"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, f.store.Snapshot().Issues[0].Resolved)

	code, _ = f.do(t, http.MethodPost, "/issues/unknown/resolve", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestTrackingHandler_ToggleOffline(t *testing.T) {
	f := newAPI(t, nil)

	f.do(t, http.MethodPost, "/offline/toggle", "")
	assert.True(t, f.store.IsOffline())

	f.do(t, http.MethodPost, "/offline/toggle", "")
	assert.False(t, f.store.IsOffline())

	code, _ := f.do(t, http.MethodPut, "/offline", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestTrackingHandler_ReconnectAndRefresh(t *testing.T) {
	f := newAPI(t, nil)

	code, _ := f.do(t, http.MethodPost, "/reconnect", "")
	assert.Equal(t, http.StatusConflict, code)

	f.do(t, http.MethodPost, "/start", `{"delivery_id":"d-1"}`)

	code, _ = f.do(t, http.MethodPost, "/refresh", "")
	assert.Equal(t, http.StatusOK, code)

	f.do(t, http.MethodPost, "/stop", "")
	code, _ = f.do(t, http.MethodPost, "/reconnect", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestTrackingHandler_Reads(t *testing.T) {
	f := newAPI(t, staticStats{FramesReceived: 7})

	f.do(t, http.MethodPost, "/start", `{"delivery_id":"d-1"}`)

	code, resp := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(tracking.ProximityNone), resp.Data.(map[string]interface{})["proximity"])

	code, resp = f.do(t, http.MethodGet, "/state", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "d-1", resp.Data.(map[string]interface{})["delivery_id"])

	code, resp = f.do(t, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 7, resp.Data.(map[string]interface{})["frames_received"])

	code, _ = f.do(t, http.MethodPost, "/reset", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, f.store.Snapshot().DeliveryID)
}

func TestTrackingHandler_StatsUnavailable(t *testing.T) {
	f := newAPI(t, nil)

	code, resp := f.do(t, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}

func TestTrackingHandler_ReportIssueSanitized(t *testing.T) {
	f := newAPI(t, nil)
	f.do(t, http.MethodPost, "/offline/toggle", "")
	f.do(t, http.MethodPost, "/start", `{"delivery_id":"d-1"}`)

	code, _ := f.do(t, http.MethodPost, "/issues", `{"type":"<b></b>","severity":"high","description":"x"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/issues", `{"type":"wrong address","severity":"high","description":"<i>gate</i> locked"}`)
	require.Equal(t, http.StatusCreated, code)

	issue := f.store.Snapshot().Issues[0]
	assert.Equal(t, "WRONG_ADDRESS", issue.Type)
	assert.Equal(t, "HIGH", issue.Severity)
	assert.Equal(t, "gate locked", issue.Description)
}
