package api

import (
	"github.com/wayplan/wayplan/pkg/itinerary"
	"github.com/wayplan/wayplan/pkg/runner"
)

// StageInfo names one step of the generation pipeline in create responses.
type StageInfo struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// CreateItineraryResponse is returned by POST /api/v1/itineraries.
type CreateItineraryResponse struct {
	Itinerary           *itinerary.Itinerary `json:"itinerary"`
	ExecutionID         string               `json:"executionId"`
	EstimatedCompletion string               `json:"estimatedCompletion"`
	Status              itinerary.Status     `json:"status"`
	Stages              []StageInfo          `json:"stages"`
}

// LockResponse is returned by PUT /api/v1/itineraries/:id/nodes/:nodeId/lock.
type LockResponse struct {
	Success bool   `json:"success"`
	NodeID  string `json:"nodeId"`
	Locked  bool   `json:"locked"`
}

// CancelRunsResponse is returned by POST /api/v1/agents/:itineraryId/cancel.
type CancelRunsResponse struct {
	ItineraryID string `json:"itineraryId"`
	Cancelled   int    `json:"cancelled"`
}

// HealthCheck is the state of one dependency in the health response.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /api/v1/healthz.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
	Runner  *runner.Health         `json:"runner,omitempty"`
}

// VersionResponse is returned by GET /api/v1/version.
type VersionResponse struct {
	Name      string `json:"name"`
	Commit    string `json:"commit"`
	GoVersion string `json:"goVersion"`
}
