package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/internal/delivery"
	"github.com/satriahrh/scribe/usecase"
)

func TestMetrics_RecordsObservations(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.DispatchDecision(usecase.DecisionDeferred)
	m.DispatchDecision(usecase.DecisionDeferred)
	m.DispatchDecision(usecase.DecisionLaunchNow)
	m.SessionTransition(entities.SessionStatePaused, entities.SessionStateRecording)
	m.CaptionsProduced(3)
	m.CaptionsProduced(0)
	m.ActiveSessions(2)
	m.SessionEnded(string(entities.EndReasonCommand))
	m.DeliveryStep(delivery.StepPersist, delivery.StepStateCompleted, 250*time.Millisecond)

	if got := testutil.ToFloat64(m.DispatchDecisionsTotal.WithLabelValues(usecase.DecisionDeferred)); got != 2 {
		t.Errorf("Expected 2 deferred decisions, got %v", got)
	}
	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("paused", "recording")); got != 1 {
		t.Errorf("Expected 1 transition, got %v", got)
	}
	if got := testutil.ToFloat64(m.CaptionsTotal); got != 3 {
		t.Errorf("Expected 3 captions, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActiveSessionsGauge); got != 2 {
		t.Errorf("Expected 2 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionOutcomesTotal.WithLabelValues("end_command")); got != 1 {
		t.Errorf("Expected 1 outcome, got %v", got)
	}
	if got := testutil.CollectAndCount(m.DeliveryStepSeconds); got != 1 {
		t.Errorf("Expected one histogram series, got %d", got)
	}
}
