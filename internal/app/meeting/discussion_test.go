package meeting

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/farumcollective/convene/internal/adapters/llm"
	"github.com/farumcollective/convene/internal/adapters/storage/memory"
	"github.com/farumcollective/convene/internal/app/eventbus"
	"github.com/farumcollective/convene/internal/app/facilitator"
	"github.com/farumcollective/convene/internal/app/threshold"
	"github.com/farumcollective/convene/internal/domain"
)

// newAgents builds n enabled agents sharing the given model suffix, which
// the mock Gateway (internal/adapters/llm.MockProvider) uses to bias vote
// scores: "optimist" always passes, "skeptic" never does.
func newAgents(n int, modelSuffix string) []domain.AgentConfig {
	agents := make([]domain.AgentConfig, n)
	for i := 0; i < n; i++ {
		agents[i] = domain.AgentConfig{
			ID:              domain.AgentID(string(rune('a' + i))),
			DisplayName:     "Agent " + string(rune('A'+i)),
			Provider:        "mock",
			Model:           "mock-" + modelSuffix,
			SystemPrompt:    "You are a careful reviewer.",
			Temperature:     0.5,
			MaxOutputTokens: 256,
			Enabled:         true,
		}
	}
	return agents
}

func newTestMeeting(t *testing.T, store domain.Store, agents []domain.AgentConfig, mode domain.DiscussionMode) *domain.Meeting {
	t.Helper()
	cfg := domain.MeetingConfig{
		Agents:      agents,
		Discussion:  domain.DiscussionConfig{Mode: mode, CrossReplyTargetsPerAgent: 2},
		Facilitator: domain.FacilitatorConfig{Enabled: true},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := store.CreateMeeting(context.Background(), "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	m.EffectiveDiscussionMode = mode
	return m
}

func TestRunDiscussionRound_BlindRoundDispatchesAllAgentsInParallel(t *testing.T) {
	store := memory.NewStore()
	gw := llm.NewMockProvider()
	bus := eventbus.New(store)
	orch := New(store, gw, facilitator.New(gw), threshold.New(), bus)

	agents := newAgents(3, "optimist")
	m := newTestMeeting(t, store, agents, domain.DiscussionParallelRound)

	produced, err := orch.runDiscussionRound(context.Background(), m, 0)
	if err != nil {
		t.Fatalf("runDiscussionRound failed: %v", err)
	}
	if !produced {
		t.Fatalf("expected the blind round to produce messages")
	}

	msgs, err := store.ListMessages(context.Background(), m.ID, 0, "")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != len(agents) {
		t.Fatalf("expected one message per agent, got %d", len(msgs))
	}
	for _, msg := range msgs {
		if msg.Meta.Round != 0 {
			t.Fatalf("expected every blind-round message to carry round 0, got %d", msg.Meta.Round)
		}
		if len(msg.Meta.ReplyTargets) != 0 {
			t.Fatalf("expected the blind round to carry no reply targets, got %+v", msg.Meta.ReplyTargets)
		}
	}
}

func TestRunDiscussionRound_SerialRoundSeesEarlierAgentsWithinTheSameRound(t *testing.T) {
	store := memory.NewStore()
	gw := llm.NewMockProvider()
	bus := eventbus.New(store)
	orch := New(store, gw, facilitator.New(gw), threshold.New(), bus)

	agents := newAgents(3, "optimist")
	m := newTestMeeting(t, store, agents, domain.DiscussionSerialTurn)

	produced, err := orch.runDiscussionRound(context.Background(), m, 1)
	if err != nil {
		t.Fatalf("runDiscussionRound failed: %v", err)
	}
	if !produced {
		t.Fatalf("expected the serial round to produce messages")
	}

	msgs, err := store.ListMessages(context.Background(), m.ID, 0, "")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != len(agents) {
		t.Fatalf("expected one message per agent, got %d", len(msgs))
	}
	// The second agent's turn must have been computed after the first
	// agent's message was already persisted, so it has one reply target.
	second := msgs[1]
	if len(second.Meta.ReplyTargets) != 1 {
		t.Fatalf("expected the second serial turn to see one reply target (the first agent), got %+v", second.Meta.ReplyTargets)
	}
	if second.Meta.ReplyTargets[0].TargetAgentID != agents[0].ID {
		t.Fatalf("expected the reply target to be the first agent, got %s", second.Meta.ReplyTargets[0].TargetAgentID)
	}
}

func TestRunDiscussionRound_EmptyAgentListProducesNothing(t *testing.T) {
	store := memory.NewStore()
	gw := llm.NewMockProvider()
	bus := eventbus.New(store)
	orch := New(store, gw, facilitator.New(gw), threshold.New(), bus)

	// A stored meeting needs at least 3 agents, so the agent list is
	// emptied on the in-memory copy after creation.
	m := newTestMeeting(t, store, newAgents(3, "optimist"), domain.DiscussionParallelRound)
	m.Config.Agents = nil

	produced, err := orch.runDiscussionRound(context.Background(), m, 0)
	if err != nil {
		t.Fatalf("runDiscussionRound failed: %v", err)
	}
	if produced {
		t.Fatalf("expected no agents to mean no messages produced")
	}
}

// alwaysErrGateway fails every call; used to exercise the Facilitator's
// fallback path without touching the network.
type alwaysErrGateway struct{}

func (alwaysErrGateway) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	return domain.GenerateResponse{}, errors.New("simulated provider outage")
}

func TestRunFacilitatorPass_SuccessUpdatesRollingSummary(t *testing.T) {
	store := memory.NewStore()
	gw := llm.NewMockProvider()
	bus := eventbus.New(store)
	orch := New(store, gw, facilitator.New(gw), threshold.New(), bus)

	agents := newAgents(3, "optimist")
	m := newTestMeeting(t, store, agents, domain.DiscussionParallelRound)

	produced, err := orch.runDiscussionRound(context.Background(), m, 0)
	if err != nil || !produced {
		t.Fatalf("setup: runDiscussionRound failed: produced=%v err=%v", produced, err)
	}

	summary := orch.runFacilitatorPass(context.Background(), m, 0, "")
	if summary == "" {
		t.Fatalf("expected a non-empty rolling summary on facilitator success")
	}

	msgs, err := store.ListMessages(context.Background(), m.ID, 0, "")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	var sawFacilitatorMessage bool
	for _, msg := range msgs {
		if msg.Role == domain.RoleSystem && msg.SystemID == domain.SystemFacilitator {
			sawFacilitatorMessage = true
		}
	}
	if !sawFacilitatorMessage {
		t.Fatalf("expected a system/facilitator message to be persisted")
	}
}

func TestRunFacilitatorPass_FailurePreservesRollingSummary(t *testing.T) {
	store := memory.NewStore()
	gw := llm.NewMockProvider()
	bus := eventbus.New(store)
	// The Facilitator itself talks to alwaysErrGateway, independent of the
	// discussion gateway, so its retries exhaust and it falls back.
	orch := New(store, gw, facilitator.New(alwaysErrGateway{}), threshold.New(), bus)

	agents := newAgents(3, "optimist")
	m := newTestMeeting(t, store, agents, domain.DiscussionParallelRound)

	produced, err := orch.runDiscussionRound(context.Background(), m, 0)
	if err != nil || !produced {
		t.Fatalf("setup: runDiscussionRound failed: produced=%v err=%v", produced, err)
	}

	const unchanged = "previous rolling summary"
	summary := orch.runFacilitatorPass(context.Background(), m, 0, unchanged)
	if summary != unchanged {
		t.Fatalf("expected the rolling summary to be preserved on facilitator failure, got %q", summary)
	}
}

func TestBuildProposalText_OnlyIncludesAgentMessagesFromTheGivenRound(t *testing.T) {
	messages := []domain.Message{
		{Role: domain.RoleAgent, AgentID: "a1", Content: "round 0 take", Meta: domain.MessageMeta{Round: 0}},
		{Role: domain.RoleAgent, AgentID: "a2", Content: "round 1 take", Meta: domain.MessageMeta{Round: 1}},
		{Role: domain.RoleSystem, SystemID: domain.SystemFacilitator, Content: "summary", Meta: domain.MessageMeta{Round: 1}},
	}
	got := buildProposalText(messages, 1)
	if !strings.Contains(got, "[a2]:") || !strings.Contains(got, "round 1 take") {
		t.Fatalf("expected the round-1 agent message to be included, got %q", got)
	}
	if strings.Contains(got, "round 0 take") {
		t.Fatalf("expected the round-0 message to be excluded, got %q", got)
	}
}
