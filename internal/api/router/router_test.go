package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicsync/platform/internal/http/handlers"
	"github.com/clinicsync/platform/internal/pms"
	syncengine "github.com/clinicsync/platform/internal/sync"
	"github.com/clinicsync/platform/pkg/logging"
)

const testSecret = "router-test-secret"

type staticRunner struct {
	result syncengine.Result
}

func (s *staticRunner) Run(context.Context, string, syncengine.Request) (syncengine.Result, error) {
	return s.result, nil
}

type nilFactory struct{}

func (nilFactory) New(pms.Type, pms.Credentials) (pms.Adapter, error) {
	return nil, pms.NewError(pms.TypeCliniko, "new", pms.KindCredentialFormat, 0, nil)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.Default()
	runner := &staticRunner{result: syncengine.Result{TotalAppointments: 9}}

	cfg := &Config{
		Logger:        logger,
		SyncHandler:   handlers.NewSyncHandler(runner, nilFactory{}, time.Second, logger),
		AuthJWTSecret: testSecret,
	}
	return New(cfg)
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestRouterSyncRequiresAuth(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(`{"pmsType":"cliniko","apiKey":"key"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouterSyncWithToken(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sync", strings.NewReader(`{"pmsType":"cliniko","apiKey":"key"}`))
	req.Header.Set("Authorization", bearerToken(t, "user-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var resp syncengine.Result
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 9, resp.TotalAppointments)
}

func TestRouterUnconfiguredRoutesMissing(t *testing.T) {
	// SettingsHandler and SyncLogsHandler are nil here, so their routes
	// must not be mounted.
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sync/logs", nil)
	req.Header.Set("Authorization", bearerToken(t, "user-1"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
