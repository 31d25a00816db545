package model

import (
	"time"

	"github.com/google/uuid"
)

type ServiceType string

const (
	ServiceTypeAPI       ServiceType = "api"
	ServiceTypeDatabase  ServiceType = "database"
	ServiceTypeCompute   ServiceType = "compute"
	ServiceTypeStorage   ServiceType = "storage"
	ServiceTypeAnalytics ServiceType = "analytics"
)

// ServiceTypes lists every known service type in display order
var ServiceTypes = []ServiceType{
	ServiceTypeAPI,
	ServiceTypeDatabase,
	ServiceTypeCompute,
	ServiceTypeStorage,
	ServiceTypeAnalytics,
}

type ServiceStatus string

const (
	ServiceStatusHealthy  ServiceStatus = "healthy"
	ServiceStatusDegraded ServiceStatus = "degraded"
)

// Service is a named backend service in the simulated deployment
type Service struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        ServiceType    `json:"type"`
	Status      ServiceStatus  `json:"status"`
	Connections []string       `json:"connections"`
	Metrics     ServiceMetrics `json:"metrics"`
}

// ServiceMetrics holds the perturbed counters of a service
type ServiceMetrics struct {
	Requests        int64   `json:"requests"`
	Errors          int64   `json:"errors"`
	AvgResponseTime float64 `json:"avg_response_time_ms"`
}

type SnapshotID string

// NewSnapshotID generates a new unique SnapshotID
func NewSnapshotID() SnapshotID {
	return SnapshotID(uuid.New().String())
}

// MetricsSnapshot is a point-in-time copy of every service's metrics
type MetricsSnapshot struct {
	ID        SnapshotID                `json:"id"`
	Timestamp time.Time                 `json:"timestamp"`
	Services  map[string]ServiceMetrics `json:"services"`
}
