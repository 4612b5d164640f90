package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/csmith/mydnshost-api/internal/core/domain"
	"github.com/csmith/mydnshost-api/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOps struct {
	synced   []string
	syncErr  error
	rebuilds int
	readds   int
	opErr    error
}

func (s *stubOps) SyncDomain(_ context.Context, name string) error {
	s.synced = append(s.synced, name)
	return s.syncErr
}

func (s *stubOps) RebuildCatalog(context.Context) error {
	s.rebuilds++
	return s.opErr
}

func (s *stubOps) ReAddAllZones(context.Context) error {
	s.readds++
	return s.opErr
}

func newTestServer(t *testing.T, repo *testutil.MockRepo, ops *stubOps, token string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewOpsHandler(repo, ops, ops, ops, token, nil).RegisterRoutes(mux)
	return mux
}

func TestHealthCheck(t *testing.T) {
	t.Run("Up", func(t *testing.T) {
		repo := &testutil.MockRepo{}
		repo.On("Ping").Return(nil).Once()
		mux := newTestServer(t, repo, &stubOps{}, "")

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp map[string]interface{}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "UP", resp["status"])
		repo.AssertExpectations(t)
	})

	t.Run("Degraded", func(t *testing.T) {
		repo := &testutil.MockRepo{}
		repo.On("Ping").Return(errors.New("connection refused")).Once()
		mux := newTestServer(t, repo, &stubOps{}, "")

		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("GET", "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		var resp struct {
			Status  string            `json:"status"`
			Details map[string]string `json:"details"`
		}
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "DEGRADED", resp.Status)
		assert.Equal(t, "connection refused", resp.Details["database"])
	})
}

func TestMetrics(t *testing.T) {
	mux := newTestServer(t, &testutil.MockRepo{}, &stubOps{}, "")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestSyncDomain(t *testing.T) {
	ops := &stubOps{}
	mux := newTestServer(t, &testutil.MockRepo{}, ops, "")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("POST", "/domains/example.com/sync", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{"example.com"}, ops.synced)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "sync", resp["operation"])
	assert.Equal(t, "done", resp["status"])
}

func TestSyncDomain_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", fmt.Errorf("%w: example.com", domain.ErrDomainNotFound), http.StatusNotFound},
		{"invalid", fmt.Errorf("bad name: %w", domain.ErrInvalidZoneName), http.StatusBadRequest},
		{"locked", fmt.Errorf("%w: timeout", domain.ErrCatalogLocked), http.StatusConflict},
		{"other", errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux := newTestServer(t, &testutil.MockRepo{}, &stubOps{syncErr: tc.err}, "")

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest("POST", "/domains/example.com/sync", nil))
			assert.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestMaintenanceRoutes(t *testing.T) {
	ops := &stubOps{}
	mux := newTestServer(t, &testutil.MockRepo{}, ops, "s3cret")

	for _, path := range []string{"/catalog/rebuild", "/zones/readd"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("POST", path, nil))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)

		req := httptest.NewRequest("POST", path, nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rr = httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}

	assert.Equal(t, 1, ops.rebuilds)
	assert.Equal(t, 1, ops.readds)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/catalog/rebuild", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestMaintenanceRoutes_Failure(t *testing.T) {
	mux := newTestServer(t, &testutil.MockRepo{}, &stubOps{opErr: errors.New("broken alias")}, "")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("POST", "/zones/readd", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Contains(t, rr.Body.String(), "broken alias")
}
