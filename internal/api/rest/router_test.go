package rest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iggydv12/hubsim/internal/api/rest"
	"github.com/iggydv12/hubsim/internal/config"
	"github.com/iggydv12/hubsim/internal/sim"
)

func setupServer(t *testing.T) *rest.Server {
	t.Helper()
	base := config.DefaultScenario()
	base.NodeCount = 10
	base.TickCount = 20
	return rest.New(base, zap.NewNop())
}

func do(t *testing.T, s *rest.Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestListPresets(t *testing.T) {
	w := do(t, setupServer(t), http.MethodGet, "/hubsim/presets", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Presets []string `json:"presets"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, config.PresetNames(), body.Presets)
}

func TestGetPreset(t *testing.T) {
	s := setupServer(t)

	w := do(t, s, http.MethodGet, "/hubsim/presets/stress", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got config.ScenarioConfig
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	want, _ := config.Preset("stress")
	assert.Equal(t, want, got)

	w = do(t, s, http.MethodGet, "/hubsim/presets/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunWithOverrides(t *testing.T) {
	s := setupServer(t)

	w := do(t, s, http.MethodPost, "/hubsim/runs?records=true", `{"tickCount": 12, "seed": 3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res sim.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(12), res.Report.Ticks)
	assert.Equal(t, int64(3), res.Report.Seed)
	assert.Equal(t, 10, res.Report.NodeCount, "unspecified fields keep the server base")
	assert.Len(t, res.Records, 12)

	w = do(t, s, http.MethodGet, "/hubsim/runs/"+res.Report.RunID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var again sim.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, res.Report, again.Report)
}

func TestRunOmitsRecordsByDefault(t *testing.T) {
	w := do(t, setupServer(t), http.MethodPost, "/hubsim/runs", "")
	require.Equal(t, http.StatusOK, w.Code)

	var res sim.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Empty(t, res.Records)
	assert.Equal(t, int64(20), res.Report.Ticks)
}

func TestRunRejectsInvalidScenario(t *testing.T) {
	s := setupServer(t)

	w := do(t, s, http.MethodPost, "/hubsim/runs", `{"nodeCount": 0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/hubsim/runs", `{"nodeCount": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/hubsim/runs?preset=nope", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRunUnknownID(t *testing.T) {
	w := do(t, setupServer(t), http.MethodGet, "/hubsim/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSurvivorsEndpoint(t *testing.T) {
	w := do(t, setupServer(t), http.MethodPost, "/hubsim/runs/survivors?preset=survivors", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res sim.SurvivorsResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Delivered)
	assert.NotEmpty(t, res.Hub)
}

func TestSurvivorsEndpointDefaultsToSurvivorsPreset(t *testing.T) {
	s := setupServer(t)

	w := do(t, s, http.MethodPost, "/hubsim/runs/survivors", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res sim.SurvivorsResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	preset, err := config.Preset("survivors")
	require.NoError(t, err)
	require.NotNil(t, res.Run)
	assert.Equal(t, preset.NodeCount, res.Run.Report.NodeCount, "not the server base of 10 nodes")
	assert.Zero(t, res.Run.Report.ChurnEvents)
	assert.True(t, res.Delivered)

	w = do(t, s, http.MethodPost, "/hubsim/runs/survivors", `{"seed": 4}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, int64(4), res.Run.Report.Seed)
	assert.Zero(t, res.Run.Report.ChurnEvents)
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupServer(t)
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/hubsim/runs", "").Code)

	w := do(t, s, http.MethodGet, "/hubsim/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "hubsim_messages_sent_total")
	assert.Contains(t, w.Body.String(), "hubsim_tick 19")
}
