package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
	"github.com/satriahrh/scribe/internal/delivery"
)

// SessionLister is the read side of the session hub
type SessionLister interface {
	Sessions() []entities.SessionSnapshot
	Session(id string) (entities.SessionSnapshot, bool)
}

// DeliveryRuns exposes delivery progress by session
type DeliveryRuns interface {
	Run(sessionID string) (delivery.Run, bool)
}

// Dependencies are the read models served by the API
type Dependencies struct {
	Sessions   SessionLister
	Deliveries DeliveryRuns
	Artifacts  repositories.ArtifactRepository
	Gatherer   prometheus.Gatherer
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies, logger *zap.Logger) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{
			Status:         "ok",
			Service:        "scribe",
			ActiveSessions: len(deps.Sessions.Sessions()),
		})
	})

	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// API v1 routes
	v1 := e.Group("/api/v1")

	v1.GET("/sessions", func(c echo.Context) error {
		sessions := deps.Sessions.Sessions()
		return c.JSON(http.StatusOK, SessionsResponse{Sessions: sessions, Count: len(sessions)})
	})

	v1.GET("/sessions/:id", func(c echo.Context) error {
		snapshot, ok := deps.Sessions.Session(c.Param("id"))
		if !ok {
			return notFound(c, "session")
		}
		return c.JSON(http.StatusOK, snapshot)
	})

	v1.GET("/sessions/:id/delivery", func(c echo.Context) error {
		run, ok := deps.Deliveries.Run(c.Param("id"))
		if !ok {
			return notFound(c, "delivery run")
		}
		return c.JSON(http.StatusOK, run)
	})

	v1.GET("/artifacts/:id", func(c echo.Context) error {
		return getArtifact(c, deps.Artifacts, logger)
	})
}

func getArtifact(c echo.Context, artifacts repositories.ArtifactRepository, logger *zap.Logger) error {
	sessionID := c.Param("id")
	artifact, err := artifacts.GetBySessionID(c.Request().Context(), sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return notFound(c, "artifact")
	}
	if err != nil {
		logger.Error("Failed to load artifact",
			zap.String("sessionID", sessionID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load artifact",
		})
	}
	return c.JSON(http.StatusOK, artifact)
}

func notFound(c echo.Context, what string) error {
	return c.JSON(http.StatusNotFound, ErrorResponse{
		Error:   "not_found",
		Message: what + " not found",
	})
}
