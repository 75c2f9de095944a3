package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy     bool            `json:"healthy"`
	Backends    map[string]bool `json:"backends"`
	Connections int             `json:"connections"`
	Errors      []string        `json:"errors"`
}

// backendCheck probes one external dependency.
type backendCheck struct {
	name  string
	check func(ctx context.Context) error
}

type HealthChecker struct {
	services *Services
	timeout  time.Duration
}

func NewHealthChecker(services *Services, timeout time.Duration) *HealthChecker {
	return &HealthChecker{services: services, timeout: timeout}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy:  true,
		Backends: make(map[string]bool),
		Errors:   []string{},
	}

	for _, b := range h.services.checks {
		if err := b.check(ctx); err != nil {
			status.Backends[b.name] = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("%s: %v", b.name, err))
			continue
		}
		status.Backends[b.name] = true
	}
	sort.Strings(status.Errors)

	if h.services.Gateway != nil {
		status.Connections = h.services.Gateway.GetStats().TotalConnections
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health check response")
	}
}
