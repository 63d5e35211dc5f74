package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/satriahrh/scribe/domain"
	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/internal/delivery"
)

type stubSessions struct {
	sessions []entities.SessionSnapshot
}

func (s stubSessions) Sessions() []entities.SessionSnapshot { return s.sessions }

func (s stubSessions) Session(id string) (entities.SessionSnapshot, bool) {
	for _, snap := range s.sessions {
		if snap.SessionID == id || snap.InviteID == id {
			return snap, true
		}
	}
	return entities.SessionSnapshot{}, false
}

type stubRuns map[string]delivery.Run

func (s stubRuns) Run(sessionID string) (delivery.Run, bool) {
	run, ok := s[sessionID]
	return run, ok
}

type stubArtifacts struct {
	artifact *entities.Artifact
	err      error
}

func (s stubArtifacts) Save(ctx context.Context, artifact *entities.Artifact) error { return nil }

func (s stubArtifacts) GetBySessionID(ctx context.Context, sessionID string) (*entities.Artifact, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.artifact == nil || s.artifact.SessionID != sessionID {
		return nil, domain.ErrNotFound
	}
	return s.artifact, nil
}

func setupTestServer(artifacts stubArtifacts) *echo.Echo {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "scribe_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	e := echo.New()
	InitRoutes(e, Dependencies{
		Sessions: stubSessions{sessions: []entities.SessionSnapshot{
			{SessionID: "s-1", InviteID: "invite-1", State: entities.SessionStateRecording, Captions: 4},
		}},
		Deliveries: stubRuns{"s-1": {SessionID: "s-1", Steps: []delivery.StepExecution{{ID: delivery.StepSummarize, State: delivery.StepStateCompleted}}}},
		Artifacts:  artifacts,
		Gatherer:   reg,
	}, zap.NewNop())
	return e
}

func get(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_HealthAndSessions(t *testing.T) {
	e := setupTestServer(stubArtifacts{})

	rec := get(e, "/health")
	var health HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil || health.Status != "ok" || health.ActiveSessions != 1 {
		t.Errorf("Unexpected health %d %s", rec.Code, rec.Body.String())
	}

	rec = get(e, "/api/v1/sessions")
	var list SessionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || list.Count != 1 || list.Sessions[0].Captions != 4 {
		t.Errorf("Unexpected sessions %s", rec.Body.String())
	}

	if rec = get(e, "/api/v1/sessions/invite-1"); rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for lookup by invite, got %d", rec.Code)
	}
	if rec = get(e, "/api/v1/sessions/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	rec = get(e, "/api/v1/sessions/s-1/delivery")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"summarize"`) {
		t.Errorf("Unexpected delivery run %d %s", rec.Code, rec.Body.String())
	}
}

func TestRoutes_Artifacts(t *testing.T) {
	e := setupTestServer(stubArtifacts{artifact: &entities.Artifact{SessionID: "s-1", MeetingName: "Sync"}})
	rec := get(e, "/api/v1/artifacts/s-1")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"meeting_name":"Sync"`) {
		t.Errorf("Unexpected artifact %d %s", rec.Code, rec.Body.String())
	}
	if rec = get(e, "/api/v1/artifacts/s-2"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	e = setupTestServer(stubArtifacts{err: errors.New("connection refused")})
	if rec = get(e, "/api/v1/artifacts/s-1"); rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
}

func TestRoutes_Metrics(t *testing.T) {
	rec := get(setupTestServer(stubArtifacts{}), "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "scribe_test_total 1") {
		t.Errorf("Unexpected metrics %d %s", rec.Code, rec.Body.String())
	}
}
