package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/scribe/domain/entities"
	"github.com/satriahrh/scribe/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.2
	defaultMaxTokens      = 1024
	defaultTimeout        = 60 * time.Second
	defaultMaxAttempts    = 3
	maxTranscriptCharsLLM = 200_000
)

const summaryInstruction = `You summarize meeting transcripts.
Answer with exactly three tagged sections and nothing else:
<title>a short meeting title</title>
<summary>a few sentences covering decisions and discussion</summary>
<action items>
- one action item per line, with the owner when known
</action items>
Leave the action items section empty when there are none.`

// GeminiConfig tunes summary generation
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int
	Timeout         time.Duration
	MaxAttempts     uint
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiSummarizer implements repositories.Summarizer using the Gemini API
type GeminiSummarizer struct {
	models contentGenerator
	config GeminiConfig
	logger *zap.Logger
}

var _ repositories.Summarizer = &GeminiSummarizer{}

// NewGeminiSummarizer creates the Gemini client and applies config defaults
func NewGeminiSummarizer(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiSummarizer, error) {
	if config.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newGeminiSummarizer(client.Models, config, logger), nil
}

func newGeminiSummarizer(models contentGenerator, config GeminiConfig, logger *zap.Logger) *GeminiSummarizer {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if config.MaxOutputTokens == 0 {
		config.MaxOutputTokens = defaultMaxTokens
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaultMaxAttempts
	}
	logger.Info("Gemini summarizer ready", zap.String("model", config.Model))
	return &GeminiSummarizer{models: models, config: config, logger: logger}
}

// Summarize implements repositories.Summarizer
func (g *GeminiSummarizer) Summarize(ctx context.Context, artifact *entities.Artifact) (entities.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	contents := []*genai.Content{genai.NewContentFromText(buildPrompt(artifact), genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(summaryInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(g.config.Temperature),
		MaxOutputTokens:   int32(g.config.MaxOutputTokens),
	}

	text, err := backoff.Retry(ctx, func() (string, error) {
		response, err := g.models.GenerateContent(ctx, g.config.Model, contents, config)
		if err != nil {
			return "", err
		}
		text := responseText(response)
		if text == "" {
			return "", errors.New("empty response")
		}
		return text, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(g.config.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			g.logger.Warn("Failed to generate summary, retrying",
				zap.String("sessionID", artifact.SessionID),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
	if err != nil {
		return entities.Summary{}, fmt.Errorf("failed to generate summary: %w", err)
	}

	summary, err := parseSummary(text)
	if err != nil {
		return entities.Summary{}, err
	}
	g.logger.Info("Summary generated",
		zap.String("sessionID", artifact.SessionID),
		zap.String("title", summary.Title),
		zap.Int("actionItems", len(summary.ActionItems)))
	return summary, nil
}

func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func buildPrompt(artifact *entities.Artifact) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Meeting: %s\n", artifact.MeetingName)
	if len(artifact.Attendees) > 0 {
		fmt.Fprintf(&sb, "Attendees: %s\n", strings.Join(artifact.Attendees, ", "))
	}

	transcript := artifact.Transcript()
	if len(transcript) > maxTranscriptCharsLLM {
		transcript = transcript[len(transcript)-maxTranscriptCharsLLM:]
	}
	sb.WriteString("\nTranscript:\n")
	sb.WriteString(transcript)

	if chat := artifact.Chat(); chat != "" {
		sb.WriteString("\n\nNotes and chat:\n")
		sb.WriteString(chat)
	}
	return sb.String()
}

// parseSummary reads the tagged sections of a model answer
func parseSummary(text string) (entities.Summary, error) {
	title, hasTitle := section(text, "title")
	body, hasSummary := section(text, "summary")
	if !hasTitle && !hasSummary {
		return entities.Summary{}, fmt.Errorf("summary response has no tagged sections: %q", truncate(text, 80))
	}

	summary := entities.Summary{Title: title, Summary: body}
	if items, ok := section(text, "action items"); ok {
		for _, line := range strings.Split(items, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*•"))
			line = strings.TrimSpace(trimNumbering(line))
			if line != "" {
				summary.ActionItems = append(summary.ActionItems, line)
			}
		}
	}
	return summary, nil
}

func section(text, tag string) (string, bool) {
	open, closing := "<"+tag+">", "</"+tag+">"
	start := strings.Index(text, open)
	if start < 0 {
		return "", false
	}
	rest := text[start+len(open):]
	end := strings.Index(rest, closing)
	if end < 0 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// trimNumbering drops a leading "1." or "2)" list marker
func trimNumbering(line string) string {
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i > 0 && i < len(line) && (line[i] == '.' || line[i] == ')') {
		return line[i+1:]
	}
	return line
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
