package api

import "github.com/satriahrh/scribe/domain/entities"

// HealthResponse represents the health check payload
type HealthResponse struct {
	Status         string `json:"status"`
	Service        string `json:"service"`
	ActiveSessions int    `json:"active_sessions"`
}

// SessionsResponse lists the running sessions
type SessionsResponse struct {
	Sessions []entities.SessionSnapshot `json:"sessions"`
	Count    int                        `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
