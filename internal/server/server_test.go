package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestServer_Health(t *testing.T) {
	tests := []struct {
		name           string
		ping           pingFunc
		expectedStatus int
	}{
		{name: "healthy store", ping: func(context.Context) error { return nil }, expectedStatus: http.StatusOK},
		{name: "unreachable store", ping: func(context.Context) error { return errors.New("dial tcp: refused") }, expectedStatus: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := New(":0", tc.ping, "postgres", "release")

			resp := httptest.NewRecorder()
			srv.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
			require.Equal(t, tc.expectedStatus, resp.Code)
			require.Contains(t, resp.Body.String(), `"store":"postgres"`)
		})
	}
}

func TestServer_HealthWithoutChecker(t *testing.T) {
	srv := New(":0", nil, "memory", "release")

	resp := httptest.NewRecorder()
	srv.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestServer_Metrics(t *testing.T) {
	srv := New(":0", nil, "memory", "release")

	resp := httptest.NewRecorder()
	srv.Engine.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, strings.Contains(resp.Body.String(), "go_goroutines"))
}
