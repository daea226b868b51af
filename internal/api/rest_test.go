package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sha1d/pixel-sahur/internal/auth"
	"github.com/sha1d/pixel-sahur/internal/presence"
	"github.com/sha1d/pixel-sahur/internal/replication"
)

// fakeStats подменяет Hub в тестах REST-эндпоинтов.
type fakeStats struct {
	stats replication.HubStats
}

func (f *fakeStats) Stats() replication.HubStats { return f.stats }

// newTestServer собирает REST-сервер на памяти: репозиторий с учетками
// test/test и admin/admin, одна запись присутствия, свой регистр Prometheus.
func newTestServer(t *testing.T) *RestServer {
	t.Helper()

	repo, err := auth.NewMemoryUserRepo()
	require.NoError(t, err)

	reg := presence.NewMemoryRegistry()
	require.NoError(t, reg.Set(context.Background(),
		presence.Info{ClientID: 7, Name: "alice", Addr: "memory:7"}, time.Minute))

	return NewRestServer(Config{
		UserRepo: repo,
		Auth:     auth.NewGameAuthenticator(repo, true),
		Stats:    &fakeStats{stats: replication.HubStats{Tick: 42, Entities: 3, Clients: 1}},
		Presence: reg,
		Registry: prometheus.NewRegistry(),
	})
}

// doJSON выполняет запрос к роутеру без сети.
func doJSON(t *testing.T, rs *RestServer, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		require.NoError(t, json.NewEncoder(buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	rs.router.ServeHTTP(w, req)
	return w
}

func decodeGeneric(t *testing.T, w *httptest.ResponseRecorder) (GenericResponse, map[string]interface{}) {
	t.Helper()

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data, _ := resp.Data.(map[string]interface{})
	return resp, data
}

func login(t *testing.T, rs *RestServer, username, password string) LoginResponse {
	t.Helper()

	w := doJSON(t, rs, http.MethodPost, "/api/auth/login",
		LoginRequest{Username: username, Password: password}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Token)
	return resp
}

func TestLoginIssuesToken(t *testing.T) {
	rs := newTestServer(t)

	resp := login(t, rs, "admin", "admin")
	assert.True(t, resp.IsAdmin)
	assert.Greater(t, resp.ExpiresAt, time.Now().Unix())

	userID, valid, isAdmin := auth.ValidateJWT(resp.Token)
	require.True(t, valid)
	assert.Equal(t, resp.UserID, userID)
	assert.True(t, isAdmin)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	rs := newTestServer(t)

	w := doJSON(t, rs, http.MethodPost, "/api/auth/login",
		LoginRequest{Username: "admin", Password: "wrong"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var resp LoginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Token)
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	rs := newTestServer(t)

	w := doJSON(t, rs, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "admin"}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRegisterFlow(t *testing.T) {
	rs := newTestServer(t)
	admin := login(t, rs, "admin", "admin")

	w := doJSON(t, rs, http.MethodPost, "/api/admin/register",
		RegisterRequest{Username: "carol", Password: "secret1"}, admin.Token)
	require.Equal(t, http.StatusCreated, w.Code)

	resp, data := decodeGeneric(t, w)
	require.True(t, resp.Success)
	assert.Equal(t, "carol", data["username"])

	// Повторная регистрация того же имени — конфликт
	w = doJSON(t, rs, http.MethodPost, "/api/admin/register",
		RegisterRequest{Username: "carol", Password: "secret1"}, admin.Token)
	assert.Equal(t, http.StatusConflict, w.Code)

	// Новая учетка сразу работает
	login(t, rs, "carol", "secret1")
}

func TestAdminRegisterValidatesInput(t *testing.T) {
	rs := newTestServer(t)
	admin := login(t, rs, "admin", "admin")

	w := doJSON(t, rs, http.MethodPost, "/api/admin/register",
		RegisterRequest{Username: "ab", Password: "secret1"}, admin.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, rs, http.MethodPost, "/api/admin/register",
		RegisterRequest{Username: "dave", Password: "123"}, admin.Token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminGroupRequiresAdminToken(t *testing.T) {
	rs := newTestServer(t)

	// Без токена
	w := doJSON(t, rs, http.MethodPost, "/api/admin/register",
		RegisterRequest{Username: "eve", Password: "secret1"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// С мусорным токеном
	w = doJSON(t, rs, http.MethodPost, "/api/admin/register",
		RegisterRequest{Username: "eve", Password: "secret1"}, "not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// С токеном обычного игрока
	player := login(t, rs, "test", "test")
	w = doJSON(t, rs, http.MethodPost, "/api/admin/register",
		RegisterRequest{Username: "eve", Password: "secret1"}, player.Token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestStatusReportsSimulation(t *testing.T) {
	rs := newTestServer(t)

	w := doJSON(t, rs, http.MethodGet, "/api/status", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp, data := decodeGeneric(t, w)
	require.True(t, resp.Success)
	assert.Equal(t, float64(42), data["tick"])
	assert.Equal(t, float64(3), data["entities"])
	assert.Equal(t, float64(1), data["clients"])
	assert.Equal(t, "dev", data["version"])
	assert.NotEmpty(t, data["uptime"])
}

func TestClientsListsPresence(t *testing.T) {
	rs := newTestServer(t)

	w := doJSON(t, rs, http.MethodGet, "/api/clients", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp, data := decodeGeneric(t, w)
	require.True(t, resp.Success)
	assert.Equal(t, float64(1), data["total"])

	clients, ok := data["clients"].([]interface{})
	require.True(t, ok)
	require.Len(t, clients, 1)

	first, ok := clients[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "alice", first["name"])
	assert.Equal(t, float64(7), first["client_id"])
}

func TestServerMetricsReported(t *testing.T) {
	rs := newTestServer(t)

	w := doJSON(t, rs, http.MethodGet, "/api/server/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	resp, data := decodeGeneric(t, w)
	require.True(t, resp.Success)
	assert.NotEmpty(t, data["memory_mb"])

	details, ok := data["memory"].(map[string]interface{})
	require.True(t, ok)
	assert.Greater(t, details["goroutines"], float64(0))
}

func TestHealthz(t *testing.T) {
	rs := newTestServer(t)

	w := doJSON(t, rs, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestPrometheusEndpointServed(t *testing.T) {
	rs := newTestServer(t)

	w := doJSON(t, rs, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}
