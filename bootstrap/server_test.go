package bootstrap

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vanguard/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestServer_Healthz_MemoryBacked(t *testing.T) {
	cfg := &config.Config{}
	cfg.SQLite.Path = "/tmp/vanguard-test.db"
	app := &App{Config: cfg, Sugar: zap.NewNop().Sugar()}
	srv := NewServer("127.0.0.1", 0, app, app.Sugar)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "disabled", resp.MongoDB)
	assert.Empty(t, resp.Redis)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	cfg := &config.Config{}
	app := &App{Config: cfg, Sugar: zap.NewNop().Sugar()}
	srv := NewServer("127.0.0.1", 0, app, app.Sugar)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "verbose"
	_, err := initLogger(cfg)
	assert.Error(t, err)
}

func TestInitLogger_Development(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Level = "debug"
	cfg.Logging.Development = true
	logger, err := initLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
