package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/windfall/prosody_service/internal/errors"
	"github.com/windfall/prosody_service/internal/prosody"
)

const coachSystemPrompt = `You are a CELPIP speaking coach focused on prosody: pitch variation, pace, pauses and loudness.
You receive measurements of a learner's recording. The words-per-minute value is estimated from duration only.
Do not invent a transcript and do not grade content or grammar.

Return ONLY valid JSON with this exact structure:
{
  "summary": "One or two sentences on the overall delivery",
  "strengths": ["strength1", "strength2"],
  "improvements": ["improvement1", "improvement2"],
  "drills": ["drill1", "drill2"]
}`

// LLM is a chat model that answers with a JSON document.
type LLM interface {
	Chat(ctx context.Context, system, message string) (string, error)
}

// Coaching is LLM-written advice derived from the metrics.
type Coaching struct {
	Provider     string   `json:"provider"`
	Summary      string   `json:"summary"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	Drills       []string `json:"drills"`
}

// CoachService turns analyses into coaching advice.
type CoachService struct {
	llm      LLM
	provider string
	log      zerolog.Logger
}

// NewCoachService creates a new CoachService.
func NewCoachService(llm LLM, provider string, log zerolog.Logger) *CoachService {
	return &CoachService{
		llm:      llm,
		provider: provider,
		log:      log,
	}
}

// CoachAnalysis asks for advice on a single recording.
func (s *CoachService) CoachAnalysis(ctx context.Context, a *prosody.Analysis) (*Coaching, error) {
	metrics, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`Recording measurements:
%s

Band estimate %d on the 7-12 scale. Coach the learner on their delivery.`, metrics, a.BandEstimate)

	return s.ask(ctx, prompt)
}

// CoachComparison asks for advice on a shadowing attempt.
func (s *CoachService) CoachComparison(ctx context.Context, c *prosody.Comparison) (*Coaching, error) {
	metrics, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`Shadowing comparison of a learner ("student") against a model recording ("reference"):
%s

Similarity %.1f/100. Areas flagged: %s. Coach the learner on matching the reference.`,
		metrics, c.SimilarityScore, strings.Join(c.ImprovementAreas, ", "))

	return s.ask(ctx, prompt)
}

func (s *CoachService) ask(ctx context.Context, prompt string) (*Coaching, error) {
	raw, err := s.llm.Chat(ctx, coachSystemPrompt, prompt)
	if err != nil {
		return nil, errors.Wrap(errors.ErrAIService, "coach request failed", err)
	}

	clean := strings.TrimSpace(raw)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)

	var coaching Coaching
	if err := json.Unmarshal([]byte(clean), &coaching); err != nil {
		s.log.Error().Err(err).Str("raw_response", raw).Msg("Failed to parse coach response")
		return nil, errors.Wrap(errors.ErrAIService, "coach returned malformed JSON", err)
	}
	if coaching.Summary == "" {
		return nil, errors.New(errors.ErrAIService, "coach returned an empty summary")
	}
	coaching.Provider = s.provider
	return &coaching, nil
}
