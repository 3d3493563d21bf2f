package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"auditdesk/pkg/domain"
)

const defaultContentBudget = 6000

// Summary is the language model's verdict on one document.
type Summary struct {
	Summary    string   `json:"summary"`
	RedFlags   []string `json:"redFlags"`
	Highlights []string `json:"highlights"`
	Confidence float64  `json:"confidenceScore"`
}

// Summarizer wraps a TextGenerator with the document-summary and
// question-answering prompts used by the pipeline. A nil generator means
// the capability is not configured.
type Summarizer struct {
	generator     TextGenerator
	contentBudget int
}

// NewSummarizer builds the summarization adapter. contentBudget bounds the
// extracted text passed per call to respect the model's context limits;
// zero selects the default.
func NewSummarizer(generator TextGenerator, contentBudget int) *Summarizer {
	if contentBudget <= 0 {
		contentBudget = defaultContentBudget
	}
	return &Summarizer{generator: generator, contentBudget: contentBudget}
}

// Available reports whether a language model is configured.
func (s *Summarizer) Available() bool {
	return s != nil && s.generator != nil
}

// Summarize asks the model for a summary, red flags, highlights, and a
// confidence score for one document's extracted content.
func (s *Summarizer) Summarize(ctx context.Context, extracted domain.ExtractedData, category domain.DocumentCategory) (Summary, error) {
	if !s.Available() {
		return Summary{}, fmt.Errorf("%w: no language model configured", domain.ErrSummarizationFailed)
	}
	systemPrompt := "You are an audit assistant. You review financial and compliance documents " +
		"and respond with strict JSON only: " +
		`{"summary": string, "redFlags": [string], "highlights": [string], "confidenceScore": number between 0 and 1}. ` +
		"Red flags are ordered by severity, highlights by importance. No markdown, no prose outside the JSON."

	var sb strings.Builder
	fmt.Fprintf(&sb, "Document category: %s\n", category)
	if len(extracted.KeyValues) > 0 {
		sb.WriteString("Extracted fields:\n")
		for k, v := range extracted.KeyValues {
			fmt.Fprintf(&sb, "- %s: %s\n", k, v)
		}
	}
	sb.WriteString("Content:\n")
	sb.WriteString(TruncateText(extracted.Content, s.contentBudget))

	raw, err := s.generator.GenerateText(ctx, systemPrompt, sb.String())
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", domain.ErrSummarizationFailed, err)
	}
	summary, err := ParseSummary(raw)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %v", domain.ErrSummarizationFailed, err)
	}
	return summary, nil
}

// Answer runs the general-purpose completion used by the question-answering
// coordinator: a question, assembled context blocks, and recent history.
func (s *Summarizer) Answer(ctx context.Context, question string, contextBlocks []string, history []domain.ChatTurn) (string, error) {
	if !s.Available() {
		return "", fmt.Errorf("%w: no language model configured", domain.ErrSummarizationFailed)
	}
	systemPrompt := "You are an audit assistant answering questions about a project's uploaded evidence. " +
		"Base every statement on the provided context. When the context is insufficient, say so explicitly."

	var sb strings.Builder
	if len(history) > 0 {
		sb.WriteString("Conversation so far:\n")
		for _, turn := range history {
			fmt.Fprintf(&sb, "Q: %s\nA: %s\n", turn.Question, turn.Answer)
		}
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Question: %s\n\nContext:\n", question)
	for _, block := range contextBlocks {
		sb.WriteString(block)
		sb.WriteString("\n\n")
	}

	answer, err := s.generator.GenerateText(ctx, systemPrompt, sb.String())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrSummarizationFailed, err)
	}
	return answer, nil
}

// ParseSummary decodes the model's JSON verdict, tolerating fenced code
// blocks and surrounding prose, and clamps the confidence score to [0,1].
func ParseSummary(raw string) (Summary, error) {
	payload := extractJSONObject(raw)
	if payload == "" {
		return Summary{}, fmt.Errorf("no JSON object in model response")
	}
	var summary Summary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return Summary{}, fmt.Errorf("decode model response: %w", err)
	}
	if summary.RedFlags == nil {
		summary.RedFlags = []string{}
	}
	if summary.Highlights == nil {
		summary.Highlights = []string{}
	}
	if summary.Confidence < 0 {
		summary.Confidence = 0
	}
	if summary.Confidence > 1 {
		summary.Confidence = 1
	}
	return summary, nil
}

// TruncateText bounds text to at most budget runes.
func TruncateText(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget])
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
