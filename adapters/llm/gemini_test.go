package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/scribe/domain/entities"
)

type scriptedModels struct {
	responses []string
	errs      []error
	calls     int
	prompt    string
}

func (m *scriptedModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	i := m.calls
	m.calls++
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		m.prompt = contents[0].Parts[0].Text
	}
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := m.responses[len(m.responses)-1]
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}, nil
}

func testArtifact() *entities.Artifact {
	at := time.Date(2024, 5, 14, 9, 0, 0, 0, time.UTC)
	return &entities.Artifact{
		SessionID:   "s-1",
		MeetingName: "Weekly sync",
		Attendees:   []string{"Alice", "Bob"},
		Captions: []entities.Caption{
			{Speaker: "Alice", Timestamp: at, TimestampText: "09:00", Text: "Ship it on Friday."},
		},
		RawMessages: []string{"[09:01] Bob: link to doc"},
	}
}

func TestParseSummary(t *testing.T) {
	text := `<title>Release planning</title>
<summary>The team agreed to ship on Friday.</summary>
<action items>
- Alice: tag the release
2) Bob: update the doc
</action items>`

	summary, err := parseSummary(text)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if summary.Title != "Release planning" || summary.Summary != "The team agreed to ship on Friday." {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if len(summary.ActionItems) != 2 || summary.ActionItems[0] != "Alice: tag the release" || summary.ActionItems[1] != "Bob: update the doc" {
		t.Errorf("Unexpected action items %q", summary.ActionItems)
	}

	if _, err := parseSummary("I cannot help with that."); err == nil {
		t.Error("Expected error for untagged answer")
	}
}

func TestGeminiSummarizer_Summarize(t *testing.T) {
	models := &scriptedModels{
		errs:      []error{errors.New("503 unavailable")},
		responses: []string{"", "<title>Sync</title><summary>Short.</summary><action items></action items>"},
	}
	g := newGeminiSummarizer(models, GeminiConfig{APIKey: "k"}, zap.NewNop())

	summary, err := g.Summarize(context.Background(), testArtifact())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if models.calls != 2 {
		t.Errorf("Expected a retry, got %d calls", models.calls)
	}
	if summary.Title != "Sync" || summary.Summary != "Short." || len(summary.ActionItems) != 0 {
		t.Errorf("Unexpected summary %+v", summary)
	}
	if !strings.Contains(models.prompt, "[09:00] Alice: Ship it on Friday.") || !strings.Contains(models.prompt, "link to doc") {
		t.Errorf("Prompt is missing the transcript: %q", models.prompt)
	}
}

func TestGeminiSummarizer_GivesUp(t *testing.T) {
	models := &scriptedModels{responses: []string{""}}
	g := newGeminiSummarizer(models, GeminiConfig{APIKey: "k", MaxAttempts: 2}, zap.NewNop())

	if _, err := g.Summarize(context.Background(), testArtifact()); err == nil {
		t.Fatal("Expected error after empty responses")
	}
	if models.calls != 2 {
		t.Errorf("Expected 2 calls, got %d", models.calls)
	}
}

func TestMockSummarizer(t *testing.T) {
	summary, err := NewMockSummarizer().Summarize(context.Background(), testArtifact())
	if err != nil || summary.Title != "Weekly sync" || len(summary.ActionItems) != 1 {
		t.Errorf("Unexpected summary %+v (%v)", summary, err)
	}
}
