package llm

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/farumcollective/convene/internal/domain"
)

// MockProvider is a deterministic Gateway implementation (spec_full §4.8):
// no network access, same request always produces the same response, and
// its output shape adapts to whichever structured contract the caller's
// prompt embeds (vote JSON, facilitator JSON, or free-text discussion).
// It is also the target the fallback decorator in this package retries
// against when a real provider call fails recoverably (spec §4.6/§7).
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// mockStyle is derived from the requested model id: "mock-default" is
// neutral, "mock-optimist" and "mock-skeptic" bias the vote score so
// scripted end-to-end scenarios can exercise both accept and reject
// paths without any real model call.
type mockStyle string

const (
	styleNeutral  mockStyle = "neutral"
	styleOptimist mockStyle = "optimist"
	styleSkeptic  mockStyle = "skeptic"
)

func styleFromModel(model string) mockStyle {
	switch {
	case strings.HasSuffix(model, "optimist"):
		return styleOptimist
	case strings.HasSuffix(model, "skeptic"):
		return styleSkeptic
	default:
		return styleNeutral
	}
}

func (m *MockProvider) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	if err := ctx.Err(); err != nil {
		return domain.GenerateResponse{}, domain.ErrCancelled
	}

	var system, user string
	for _, msg := range req.Messages {
		switch msg.Role {
		case domain.RoleSystem:
			system += msg.Content + "\n"
		default:
			user += msg.Content + "\n"
		}
	}

	style := styleFromModel(req.Model)
	seed := fnvSeed(system + user)

	var text string
	switch {
	case strings.Contains(system, "score"):
		text = mockVoteJSON(style, seed)
	case strings.Contains(system, "disagreements"):
		text = mockFacilitatorJSON(seed)
	default:
		text = mockDiscussionText(style, seed, user)
	}

	return domain.GenerateResponse{
		Text:              text,
		ProviderRequestID: fmt.Sprintf("mock-%d", seed),
	}, nil
}

func fnvSeed(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

func mockVoteJSON(style mockStyle, seed uint32) string {
	base := 60 + int(seed%20)
	switch style {
	case styleOptimist:
		base += 20
	case styleSkeptic:
		base -= 25
	}
	if base > 100 {
		base = 100
	}
	if base < 0 {
		base = 0
	}
	pass := base >= 80
	return fmt.Sprintf(`{"score": %d, "pass": %t, "rationale": "mock %s assessment"}`, base, pass, style)
}

func mockFacilitatorJSON(seed uint32) string {
	return fmt.Sprintf(`{"disagreements": ["participants diverge on scope #%d"], "proposed_patch": "narrow the scope to the agreed core and defer the rest", "next_focus": ["confirm the narrowed scope"], "round_summary": "the group converged on a narrower version of the proposal"}`, seed%1000)
}

func mockDiscussionText(style mockStyle, seed uint32, prompt string) string {
	switch style {
	case styleOptimist:
		return fmt.Sprintf("This approach looks workable. I'd move forward with it, with one refinement (ref %d).", seed%1000)
	case styleSkeptic:
		return fmt.Sprintf("I'm not convinced this resolves the core issue yet. We should address the open risk before proceeding (ref %d).", seed%1000)
	default:
		return fmt.Sprintf("Here is my take on the topic, building on what's been said so far (ref %d).", seed%1000)
	}
}
