// Package facilitator implements the Facilitator Service (spec §2, §4.1):
// it calls the Gateway with a JSON-schema-shaped prompt, retries on
// parse failure, and falls back to a plain summary sentinel rather than
// ever blocking discussion.
package facilitator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/farumcollective/convene/internal/app/promptbuilder"
	"github.com/farumcollective/convene/internal/domain"
	"github.com/farumcollective/convene/internal/observability"
)

// ErrFallback is returned (wrapped, with the last underlying error's text
// appended to the message) when all
// attempts produced the fallback sentinel output (spec §4.1, §7).
var ErrFallback = errors.New("facilitator: all attempts exhausted, using fallback")

const maxAttempts = 3

// Service implements domain.Facilitator over a domain.Gateway.
type Service struct {
	gateway domain.Gateway
}

func New(gateway domain.Gateway) *Service {
	return &Service{gateway: gateway}
}

// Summarize calls the Gateway up to maxAttempts times, parsing each
// response as the fixed FacilitatorOutput JSON schema (spec §4.4). On
// success it returns the parsed output and a nil error. After
// maxAttempts failures (parse error or Gateway error) it returns
// domain.FallbackFacilitatorOutput() wrapped in ErrFallback; the caller
// is expected to skip appending a facilitator message in that case.
func (s *Service) Summarize(ctx context.Context, in domain.FacilitatorInput) (domain.FacilitatorOutput, error) {
	log := observability.LoggerFromContext(ctx)

	messages := promptbuilder.BuildFacilitatorPrompt(in)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := s.gateway.GenerateText(ctx, domain.GenerateRequest{
			ProviderID:     in.Provider,
			Model:          in.Model,
			Messages:       messages,
			Temperature:    in.Temperature,
			MaxTokens:      1024,
			TimeoutMS:      in.TimeoutMS,
			ResponseFormat: domain.ResponseFormatJSON,
		})
		if err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return domain.FacilitatorOutput{}, err
			}
			lastErr = err
			log.Warn("facilitator generate failed", "attempt", attempt, "error", err)
			continue
		}

		out, parseErr := parseOutput(resp.Text)
		if parseErr != nil {
			lastErr = parseErr
			log.Warn("facilitator output parse failed", "attempt", attempt, "error", parseErr)
			continue
		}

		return out, nil
	}

	log.Error("facilitator exhausted all attempts, falling back", "attempts", maxAttempts, "last_error", lastErr)
	return domain.FallbackFacilitatorOutput(), fmt.Errorf("%w: %v", ErrFallback, lastErr)
}

func parseOutput(text string) (domain.FacilitatorOutput, error) {
	text = extractJSONObject(text)

	var out domain.FacilitatorOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return domain.FacilitatorOutput{}, fmt.Errorf("invalid facilitator JSON: %w", err)
	}

	if len(out.Disagreements) < 1 || len(out.Disagreements) > 3 {
		return domain.FacilitatorOutput{}, fmt.Errorf("disagreements must have 1-3 items, got %d", len(out.Disagreements))
	}
	if len(out.NextFocus) < 1 || len(out.NextFocus) > 2 {
		return domain.FacilitatorOutput{}, fmt.Errorf("next_focus must have 1-2 items, got %d", len(out.NextFocus))
	}
	if len(out.ProposedPatch) > 4000 {
		out.ProposedPatch = out.ProposedPatch[:4000]
	}
	if len(out.RoundSummary) > 2000 {
		out.RoundSummary = out.RoundSummary[:2000]
	}
	if out.RoundSummary == "" {
		return domain.FacilitatorOutput{}, fmt.Errorf("round_summary must not be empty")
	}

	return out, nil
}

// extractJSONObject tolerates providers that wrap JSON in prose or code
// fences by slicing to the outermost {...} span.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}
