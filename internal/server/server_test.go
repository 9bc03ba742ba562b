package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpmm/internal/config"
	"perpmm/internal/core"
	"perpmm/internal/state"
	"perpmm/pkg/logging"
)

type fakeController struct {
	cfg          *config.Config
	paused       bool
	resumeErr    error
	closedAll    bool
	guardCleared bool
}

func (f *fakeController) Pause()        { f.paused = true }
func (f *fakeController) Resume() error { f.paused = false; return f.resumeErr }
func (f *fakeController) UpdateConfig(p *config.Patch) (*config.Config, error) {
	next, err := p.Apply(f.cfg)
	if err != nil {
		return nil, err
	}
	f.cfg = next
	return next, nil
}
func (f *fakeController) CloseAll(ctx context.Context) error { f.closedAll = true; return nil }
func (f *fakeController) ClearLiquidationGuard()             { f.guardCleared = true }
func (f *fakeController) Snapshot() *state.Snapshot {
	return &state.Snapshot{RunState: core.StateRunning}
}
func (f *fakeController) Config() *config.Config { return f.cfg }

func newTestServer() (*Server, *fakeController) {
	fc := &fakeController{cfg: config.DefaultConfig()}
	s := NewServer(fc, []string{"http://localhost:8080"}, logging.NewNopLogger())
	return s, fc
}

func TestStatusEndpointReturnsSnapshot(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap state.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, core.StateRunning, snap.RunState)
}

func TestPauseAndResumeEndpoints(t *testing.T) {
	s, fc := newTestServer()

	rec := httptest.NewRecorder()
	s.handlePause(rec, httptest.NewRequest(http.MethodPost, "/api/pause", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fc.paused)

	rec = httptest.NewRecorder()
	s.handleResume(rec, httptest.NewRequest(http.MethodPost, "/api/resume", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, fc.paused)
}

func TestResumeConflictWhenRiskPaused(t *testing.T) {
	s, fc := newTestServer()
	fc.resumeErr = fmt.Errorf("paused for HARD_STOP, cannot resume by operator")

	rec := httptest.NewRecorder()
	s.handleResume(rec, httptest.NewRequest(http.MethodPost, "/api/resume", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfigPatchAppliesAndValidates(t *testing.T) {
	s, fc := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/config",
		strings.NewReader(`{"order_distance_bps": 15}`))
	s.handleConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 15.0, fc.cfg.Quote.OrderDistanceBps)

	// An invalid patch is rejected and leaves the config untouched
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/config",
		strings.NewReader(`{"order_distance_bps": -3}`))
	s.handleConfig(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, 15.0, fc.cfg.Quote.OrderDistanceBps)
}

func TestControlEndpointsRejectWrongMethod(t *testing.T) {
	s, _ := newTestServer()

	rec := httptest.NewRecorder()
	s.handlePause(rec, httptest.NewRequest(http.MethodGet, "/api/pause", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	s.handleCloseAll(rec, httptest.NewRequest(http.MethodGet, "/api/close_all", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGuardClearEndpoint(t *testing.T) {
	s, fc := newTestServer()

	rec := httptest.NewRecorder()
	s.handleGuardClear(rec, httptest.NewRequest(http.MethodPost, "/api/guard/clear", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fc.guardCleared)
}

func TestCheckOriginEnforcesWhitelist(t *testing.T) {
	s, _ := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, s.checkOrigin(req))

	req.Header.Del("Origin")
	assert.False(t, s.checkOrigin(req))
}
