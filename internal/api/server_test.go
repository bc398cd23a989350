package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/auth"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/config"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/dashboard"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/database"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/internal/logger"
	"github.com/subhash-salian-dpcontrols/DataDiscoveryServer/pkg/types"
)

const testIngestKey = "test-scanner-key"

// setupServer builds the full stack on a shared-cache in-memory SQLite
// database and returns the router plus the server for direct access.
func setupServer(t *testing.T) (*gin.Engine, *Server) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	cfg.Database.MaxConnections = 4
	cfg.Database.InitRetries = 1
	cfg.Security.IngestAPIKey = testIngestKey
	cfg.Logger.Level = "error"

	log, err := logger.New(cfg.Logger)
	require.NoError(t, err)

	pool, err := database.NewPool(context.Background(), cfg.Database, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Shutdown() })

	findings := database.NewFindingStore(pool, log)
	users := database.NewUserStore(pool, log)
	gate := auth.NewGate(users, cfg.Security.IngestAPIKey, log)
	engine := dashboard.NewEngine(findings, log)

	srv := NewServer(cfg, pool, findings, engine, gate, log)
	router := srv.Router(config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000})
	return router, srv
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// loginAs creates the user through the gate and logs in over HTTP,
// returning the bearer header.
func loginAs(t *testing.T, router *gin.Engine, srv *Server, username, password string, role types.Role) map[string]string {
	t.Helper()

	require.NoError(t, srv.gate.CreateUser(context.Background(), username, password, role))

	w := doJSON(t, router, http.MethodPost, "/api/v1/login",
		map[string]string{"username": username, "password": password}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	token, _ := decodeBody(t, w)["token"].(string)
	require.NotEmpty(t, token)
	return map[string]string{"Authorization": "Bearer " + token}
}

func ingest(t *testing.T, router *gin.Engine, hostname string, detected []string) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/findings", types.IngestRequest{
		Hostname:   hostname,
		Source:     "crm.contacts",
		ColumnName: "contact",
		Detected:   detected,
	}, map[string]string{"X-API-Key": testIngestKey})
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := setupServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["storage"])
}

func TestIngestEndpoint(t *testing.T) {
	router, srv := setupServer(t)

	t.Run("header key accepted", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/findings", types.IngestRequest{
			Hostname:   "web-01",
			Source:     "s",
			ColumnName: "c",
			Detected:   []string{"email", "phone"},
		}, map[string]string{"X-API-Key": testIngestKey})
		require.Equal(t, http.StatusCreated, w.Code)

		body := decodeBody(t, w)
		assert.Equal(t, "created", body["status"])
		assert.Greater(t, body["id"].(float64), float64(0))
	})

	t.Run("body key accepted", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/findings", types.IngestRequest{
			Source:     "s",
			ColumnName: "c",
			Detected:   []string{"pan"},
			APIKey:     testIngestKey,
		}, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("wrong key rejected before write", func(t *testing.T) {
		before, err := srv.findings.Count(context.Background())
		require.NoError(t, err)

		w := doJSON(t, router, http.MethodPost, "/api/v1/findings", types.IngestRequest{
			Source:     "s",
			ColumnName: "c",
			Detected:   []string{"email"},
		}, map[string]string{"X-API-Key": "wrong"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthorized", decodeBody(t, w)["error"])

		after, err := srv.findings.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, before, after, "rejected request must not write a row")
	})

	t.Run("empty detected rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/findings", types.IngestRequest{
			Source:     "s",
			ColumnName: "c",
			Detected:   []string{},
		}, map[string]string{"X-API-Key": testIngestKey})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLoginLogout(t *testing.T) {
	router, srv := setupServer(t)
	headers := loginAs(t, router, srv, "alice", "Str0ng!pass", types.RoleUser)

	w := doJSON(t, router, http.MethodGet, "/api/v1/dashboard", nil, headers)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/logout", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/dashboard", nil, headers)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, srv := setupServer(t)
	require.NoError(t, srv.gate.CreateUser(context.Background(), "alice", "Str0ng!pass", types.RoleUser))

	for _, creds := range []map[string]string{
		{"username": "alice", "password": "wrong"},
		{"username": "ghost", "password": "Str0ng!pass"},
	} {
		w := doJSON(t, router, http.MethodPost, "/api/v1/login", creds, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, "unauthorized", decodeBody(t, w)["error"])
	}
}

func TestDashboardRequiresSession(t *testing.T) {
	router, _ := setupServer(t)

	for _, headers := range []map[string]string{
		nil,
		{"Authorization": "Bearer bogus"},
		{"Authorization": "NotBearer x"},
	} {
		w := doJSON(t, router, http.MethodGet, "/api/v1/dashboard", nil, headers)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	router, srv := setupServer(t)
	headers := loginAs(t, router, srv, "alice", "Str0ng!pass", types.RoleUser)

	ingest(t, router, "h1", []string{"email", "phone"})
	ingest(t, router, "h2", []string{"credit_card"})

	w := doJSON(t, router, http.MethodGet, "/api/v1/dashboard", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)

	var view types.DashboardView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Rows, 2)
	assert.Equal(t, 1, view.CategoryCounts["email"])
	assert.Equal(t, 1, view.CategoryCounts["phone"])
	assert.Equal(t, 1, view.CategoryCounts["credit_card"])
	assert.Equal(t, map[string]int{"h1": 1, "h2": 1}, view.HostCounts)

	w = doJSON(t, router, http.MethodGet, "/api/v1/dashboard?category=phone", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Len(t, view.Rows, 1)
	assert.Equal(t, 1, view.CategoryCounts["phone"])
	assert.Equal(t, 0, view.CategoryCounts["email"])
	assert.Equal(t, map[string]int{"h1": 1}, view.HostCounts)
	assert.Equal(t, "phone", view.Filter)
}

func TestExportCSVEndpoint(t *testing.T) {
	router, srv := setupServer(t)
	headers := loginAs(t, router, srv, "alice", "Str0ng!pass", types.RoleUser)

	ingest(t, router, "h1", []string{"email"})

	w := doJSON(t, router, http.MethodGet, "/api/v1/export/csv", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="pii_report.csv"`, w.Header().Get("Content-Disposition"))
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	records, err := csv.NewReader(w.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"Hostname", "Source", "Column", "Detected", "Timestamp"}, records[0])
	assert.Equal(t, "h1", records[1][0])
	assert.Equal(t, "email", records[1][3])
}

func TestExportXLSXEndpoint(t *testing.T) {
	router, srv := setupServer(t)
	headers := loginAs(t, router, srv, "alice", "Str0ng!pass", types.RoleUser)

	ingest(t, router, "h1", []string{"email"})

	w := doJSON(t, router, http.MethodGet, "/api/v1/export/xlsx", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="pii_report.xlsx"`, w.Header().Get("Content-Disposition"))
	assert.NotZero(t, w.Body.Len())
}

func TestUserAdminEndpoints(t *testing.T) {
	router, srv := setupServer(t)
	admin := loginAs(t, router, srv, "root", "Str0ng!pass", types.RoleAdmin)

	t.Run("create user", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/users",
			map[string]string{"username": "bob", "password": "B0b!passX", "role": "user"}, admin)
		require.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("weak password rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/users",
			map[string]string{"username": "carol", "password": "weak"}, admin)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/users",
			map[string]string{"username": "carol", "password": "Str0ng!pass", "role": "root"}, admin)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("list users", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/v1/users", nil, admin)
		require.Equal(t, http.StatusOK, w.Code)

		var users []types.UserInfo
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
		require.Len(t, users, 2)
		assert.Equal(t, "bob", users[0].Username)
		assert.Equal(t, "root", users[1].Username)
	})

	t.Run("admin reset then delete", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/users/bob/reset",
			map[string]string{"new_password": "N3w!passw"}, admin)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, http.MethodPost, "/api/v1/login",
			map[string]string{"username": "bob", "password": "N3w!passw"}, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, http.MethodDelete, "/api/v1/users/bob", nil, admin)
		require.Equal(t, http.StatusOK, w.Code)

		// Deleting again is a no-op success.
		w = doJSON(t, router, http.MethodDelete, "/api/v1/users/bob", nil, admin)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("reset unknown user is 404", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/users/ghost/reset",
			map[string]string{"new_password": "N3w!passw"}, admin)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestUserAdminRequiresAdminRole(t *testing.T) {
	router, srv := setupServer(t)
	user := loginAs(t, router, srv, "alice", "Str0ng!pass", types.RoleUser)

	w := doJSON(t, router, http.MethodGet, "/api/v1/users", nil, user)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/users",
		map[string]string{"username": "eve", "password": "Str0ng!pass"}, user)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSelfResetEndpoint(t *testing.T) {
	router, srv := setupServer(t)
	headers := loginAs(t, router, srv, "alice", "Str0ng!pass", types.RoleUser)

	t.Run("wrong old password", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/reset-password",
			map[string]string{"old_password": "wrong", "new_password": "N3w!passw"}, headers)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("successful reset revokes the session", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/reset-password",
			map[string]string{"old_password": "Str0ng!pass", "new_password": "N3w!passw"}, headers)
		require.Equal(t, http.StatusOK, w.Code)

		w = doJSON(t, router, http.MethodGet, "/api/v1/dashboard", nil, headers)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		w = doJSON(t, router, http.MethodPost, "/api/v1/login",
			map[string]string{"username": "alice", "password": "N3w!passw"}, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRateLimitOnIngest(t *testing.T) {
	_, srv := setupServer(t)

	limited := srv.Router(config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := doJSON(t, limited, http.MethodPost, "/api/v1/findings", types.IngestRequest{
			Source:     "s",
			ColumnName: "c",
			Detected:   []string{"email"},
		}, map[string]string{"X-API-Key": testIngestKey})
		codes = append(codes, w.Code)
	}

	assert.Contains(t, codes, http.StatusTooManyRequests)
	assert.Equal(t, http.StatusCreated, codes[0])
}

func TestRequestIDPropagated(t *testing.T) {
	router, _ := setupServer(t)

	w := doJSON(t, router, http.MethodGet, "/health", nil, nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = doJSON(t, router, http.MethodGet, "/health", nil, map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

// setupDegradedServer builds the stack on a pool whose initialization never
// completed, the state the serve command falls back to when storage is down
// at startup.
func setupDegradedServer(t *testing.T) *gin.Engine {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Security.IngestAPIKey = testIngestKey
	cfg.Logger.Level = "error"

	log, err := logger.New(cfg.Logger)
	require.NoError(t, err)

	pool := database.NewDegradedPool(cfg.Database, log)
	findings := database.NewFindingStore(pool, log)
	users := database.NewUserStore(pool, log)
	gate := auth.NewGate(users, cfg.Security.IngestAPIKey, log)
	engine := dashboard.NewEngine(findings, log)

	srv := NewServer(cfg, pool, findings, engine, gate, log)
	return srv.Router(config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000})
}

func TestDegradedStorageKeepsServing(t *testing.T) {
	router := setupDegradedServer(t)

	t.Run("health reports degraded", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/health", nil, nil)
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "degraded", body["status"])
		assert.Equal(t, "unavailable", body["storage"])
	})

	t.Run("ingest answers retryable", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/findings", types.IngestRequest{
			Source:     "s",
			ColumnName: "c",
			Detected:   []string{"email"},
		}, map[string]string{"X-API-Key": testIngestKey})
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "storage unavailable", decodeBody(t, w)["error"])
	})

	t.Run("wrong ingest key still rejected first", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/findings", types.IngestRequest{
			Source:     "s",
			ColumnName: "c",
			Detected:   []string{"email"},
		}, map[string]string{"X-API-Key": "wrong"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("login answers retryable", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/v1/login", loginRequest{
			Username: "alice",
			Password: "Str0ng!pass",
		}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestShutdownWithoutStart(t *testing.T) {
	_, srv := setupServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, srv.Shutdown(ctx))
}
