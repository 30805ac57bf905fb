package runtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/farumcollective/convene/internal/adapters/llm"
	"github.com/farumcollective/convene/internal/adapters/storage/memory"
	"github.com/farumcollective/convene/internal/app/eventbus"
	"github.com/farumcollective/convene/internal/app/facilitator"
	"github.com/farumcollective/convene/internal/app/runtime"
	"github.com/farumcollective/convene/internal/app/threshold"
	"github.com/farumcollective/convene/internal/domain"
)

func optimistAgents(n int) []domain.AgentConfig {
	agents := make([]domain.AgentConfig, n)
	for i := 0; i < n; i++ {
		agents[i] = domain.AgentConfig{
			ID:              domain.AgentID(string(rune('a' + i))),
			Provider:        "mock",
			Model:           "mock-optimist",
			SystemPrompt:    "You are a careful reviewer.",
			Temperature:     0.5,
			MaxOutputTokens: 256,
			Enabled:         true,
		}
	}
	return agents
}

func newBinder(t *testing.T, template *domain.MeetingConfig) (*runtime.Binder, domain.Store) {
	t.Helper()
	store := memory.NewStore()
	gw := llm.NewMockProvider()
	bus := eventbus.New(store)
	return runtime.New(store, gw, facilitator.New(gw), threshold.New(), bus, template), store
}

func waitForTerminal(t *testing.T, store domain.Store, id domain.MeetingID) *domain.Meeting {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m, err := store.GetMeeting(context.Background(), id)
		if err != nil {
			t.Fatalf("GetMeeting failed: %v", err)
		}
		if m.State == domain.StateFinishedAccepted || m.State == domain.StateFinishedAborted {
			return m
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("meeting %s did not reach a terminal state in time", id)
	return nil
}

func TestCreateMeeting_StartsRunAndReachesFinishedAccepted(t *testing.T) {
	binder, store := newBinder(t, nil)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      optimistAgents(3),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := binder.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	if m.State != domain.StateDraft {
		t.Fatalf("expected CreateMeeting to return the meeting in DRAFT, got %s", m.State)
	}

	final := waitForTerminal(t, store, m.ID)
	if final.State != domain.StateFinishedAccepted {
		t.Fatalf("expected FINISHED_ACCEPTED, got %s", final.State)
	}
}

func TestCreateMeeting_RejectsEmptyTopic(t *testing.T) {
	binder, _ := newBinder(t, nil)
	_, err := binder.CreateMeeting(context.Background(), "   ", domain.MeetingConfig{Agents: optimistAgents(3)})
	if err == nil {
		t.Fatalf("expected an error for an empty topic")
	}
}

func TestCreateMeeting_AppliesTemplateWhenAgentsOmitted(t *testing.T) {
	template := &domain.MeetingConfig{
		Agents:      optimistAgents(3),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	binder, store := newBinder(t, template)

	m, err := binder.CreateMeeting(context.Background(), "topic", domain.MeetingConfig{})
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	stored, err := store.GetMeeting(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if len(stored.Config.Agents) != 3 {
		t.Fatalf("expected the template's 3 agents to be applied, got %d", len(stored.Config.Agents))
	}
}

func TestPostUserMessage_DelegatesToOrchestrator(t *testing.T) {
	binder, store := newBinder(t, nil)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      optimistAgents(3),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	// Create the meeting directly in the store, bypassing CreateMeeting's
	// background Run, so it stays in DRAFT for this assertion.
	m, err := store.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	if err := binder.PostUserMessage(ctx, m.ID, "please weigh the compliance angle"); err != nil {
		t.Fatalf("PostUserMessage failed: %v", err)
	}

	msgs, err := binder.ListMessages(ctx, m.ID)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "please weigh the compliance angle" {
		t.Fatalf("expected the posted message to be persisted, got %+v", msgs)
	}
}

func TestAbortMeeting_DelegatesToOrchestrator(t *testing.T) {
	binder, store := newBinder(t, nil)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      optimistAgents(3),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := store.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	if err := binder.AbortMeeting(ctx, m.ID, "no longer needed"); err != nil {
		t.Fatalf("AbortMeeting failed: %v", err)
	}

	final, err := binder.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if final.State != domain.StateFinishedAborted {
		t.Fatalf("expected FINISHED_ABORTED, got %s", final.State)
	}
}

func TestSubscribeEvents_BackfillsThenDeliversLive(t *testing.T) {
	binder, store := newBinder(t, nil)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      optimistAgents(3),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := store.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	firstEvt, err := store.AppendEvent(ctx, domain.EventDraft{MeetingID: m.ID, Type: domain.EventMeetingStateChanged})
	if err != nil {
		t.Fatalf("AppendEvent failed: %v", err)
	}

	backfill, live, unsubscribe, err := binder.SubscribeEvents(ctx, m.ID, 0)
	if err != nil {
		t.Fatalf("SubscribeEvents failed: %v", err)
	}
	defer unsubscribe()

	if len(backfill) != 1 || backfill[0].ID != firstEvt.ID {
		t.Fatalf("expected the pre-existing event to be backfilled, got %+v", backfill)
	}

	if err := binder.AbortMeeting(ctx, m.ID, "done"); err != nil {
		t.Fatalf("AbortMeeting failed: %v", err)
	}

	select {
	case evt := <-live:
		if evt.Type != domain.EventMeetingStateChanged {
			t.Fatalf("expected a state-changed event, got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the live event from AbortMeeting")
	}
}
