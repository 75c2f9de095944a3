package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupServices_MemoryBackends(t *testing.T) {
	clearEnv(t)
	config := defaultConfig()

	services, err := setupServices(context.Background(), config)
	require.NoError(t, err)
	defer services.Close()

	server := setupServer(config, services)
	assert.Equal(t, ":8080", server.Addr)

	rec := httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"healthy":true,"backends":{},"connections":0,"errors":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/rooms/r1/state", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"room_id":"r1"`)
}

func TestHealthChecker_ReportsFailingBackend(t *testing.T) {
	services := &Services{checks: []backendCheck{
		{name: "redis", check: func(context.Context) error { return nil }},
		{name: "nats", check: func(context.Context) error { return errors.New("connection CLOSED") }},
	}}

	rec := httptest.NewRecorder()
	NewHealthChecker(services, time.Second).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"healthy":false,"backends":{"redis":true,"nats":false},"connections":0,"errors":["nats: connection CLOSED"]}`, rec.Body.String())
}
