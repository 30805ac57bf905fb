package meeting_test

import (
	"context"
	"testing"
	"time"

	"github.com/farumcollective/convene/internal/adapters/llm"
	"github.com/farumcollective/convene/internal/adapters/storage/memory"
	"github.com/farumcollective/convene/internal/app/eventbus"
	"github.com/farumcollective/convene/internal/app/facilitator"
	"github.com/farumcollective/convene/internal/app/meeting"
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

func newHarness(t *testing.T) (*meeting.Orchestrator, domain.Store, *eventbus.Bus) {
	t.Helper()
	store := memory.NewStore()
	gateway := llm.NewMockProvider()
	fac := facilitator.New(gateway)
	thr := threshold.New()
	bus := eventbus.New(store)
	orch := meeting.New(store, gateway, fac, thr, bus)
	return orch, store, bus
}

func TestRun_UnanimousOptimistsReachFinishedAccepted(t *testing.T) {
	orch, store, _ := newHarness(t)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      newAgents(3, "optimist"),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := store.CreateMeeting(ctx, "should we ship the new onboarding flow", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	if err := orch.Run(ctx, m.ID); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	final, err := store.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if final.State != domain.StateFinishedAccepted {
		t.Fatalf("expected FINISHED_ACCEPTED, got %s", final.State)
	}
	if final.Result == nil || !final.Result.Accepted {
		t.Fatalf("expected an accepted result, got %+v", final.Result)
	}
	if final.Result.SummaryJSON.FinalDocumentMD == "" {
		t.Fatalf("expected a non-empty final document in the result summary")
	}
	for _, a := range final.Result.SummaryJSON.Approvals {
		if !a.Pass {
			t.Fatalf("expected every approval to pass unanimously, got %+v", final.Result.SummaryJSON.Approvals)
		}
	}
}

func TestRun_UnanimousSkepticsAbortAtMaxRounds(t *testing.T) {
	orch, store, _ := newHarness(t)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      newAgents(3, "skeptic"),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 1},
	}
	m, err := store.CreateMeeting(ctx, "should we rewrite the billing system from scratch", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx, m.ID) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not terminate; the max_rounds abort path likely regressed")
	}

	final, err := store.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if final.State != domain.StateFinishedAborted {
		t.Fatalf("expected FINISHED_ABORTED, got %s", final.State)
	}
	if final.Result == nil || final.Result.Accepted {
		t.Fatalf("expected an aborted (not accepted) result, got %+v", final.Result)
	}
}

// TestRun_MinRoundsZeroStillSkipsVoteOnBlindRound guards the boundary
// case: min_rounds=0 must still enter vote only after round 1, never on
// the blind round 0 itself (round 0 carries no reply_targets and must
// never be voted on). max_rounds=0 makes this unambiguous: if round 0
// were voted on, these optimist agents would pass it and the meeting
// would finish ACCEPTED at round 0; instead it must advance to round 1
// first, which then exceeds max_rounds and aborts.
func TestRun_MinRoundsZeroStillSkipsVoteOnBlindRound(t *testing.T) {
	orch, store, bus := newHarness(t)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      newAgents(3, "optimist"),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 0},
	}
	m, err := store.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	ch, unsubscribe := bus.Subscribe(m.ID)
	defer unsubscribe()

	if err := orch.Run(ctx, m.ID); err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}

	final, err := store.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if final.State != domain.StateFinishedAborted {
		t.Fatalf("expected FINISHED_ABORTED (round 1 > max_rounds 0), got %s", final.State)
	}

	var sawVoteSessionStarted bool
	draining := true
	for draining {
		select {
		case evt := <-ch:
			if evt.Type == domain.EventVoteSessionStarted {
				sawVoteSessionStarted = true
			}
		default:
			draining = false
		}
	}
	if sawVoteSessionStarted {
		t.Fatalf("expected the blind round to never start a vote session")
	}
}

func TestAbort_MovesNonTerminalMeetingToFinishedAborted(t *testing.T) {
	orch, store, bus := newHarness(t)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      newAgents(3, "optimist"),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := store.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	ch, unsubscribe := bus.Subscribe(m.ID)
	defer unsubscribe()

	if err := orch.Abort(ctx, m.ID, "operator requested shutdown"); err != nil {
		t.Fatalf("Abort failed: %v", err)
	}

	final, err := store.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if final.State != domain.StateFinishedAborted {
		t.Fatalf("expected FINISHED_ABORTED after Abort, got %s", final.State)
	}
	if final.Result == nil || final.Result.Reason != "operator requested shutdown" {
		t.Fatalf("expected the abort reason to be recorded, got %+v", final.Result)
	}

	select {
	case evt := <-ch:
		if evt.Type != domain.EventMeetingStateChanged {
			t.Fatalf("expected a state-changed event, got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the abort's state-changed event")
	}
}

func TestAbort_IsIdempotentOnAlreadyTerminalMeeting(t *testing.T) {
	orch, store, _ := newHarness(t)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      newAgents(3, "optimist"),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := store.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}

	if err := orch.Run(ctx, m.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	before, _ := store.GetMeeting(ctx, m.ID)
	if before.State != domain.StateFinishedAccepted {
		t.Fatalf("expected FINISHED_ACCEPTED before the redundant Abort, got %s", before.State)
	}

	if err := orch.Abort(ctx, m.ID, "too late"); err != nil {
		t.Fatalf("Abort on a terminal meeting should be a no-op, got error: %v", err)
	}

	after, err := store.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if after.State != domain.StateFinishedAccepted || after.Result.Reason == "too late" {
		t.Fatalf("expected the original FINISHED_ACCEPTED result to be untouched, got %+v", after)
	}
}

func TestHandleUserMessage_DuringDiscussionJustAppends(t *testing.T) {
	orch, store, _ := newHarness(t)
	ctx := context.Background()

	cfg := domain.MeetingConfig{
		Agents:      newAgents(3, "optimist"),
		Discussion:  domain.DiscussionConfig{Mode: domain.DiscussionParallelRound},
		Facilitator: domain.FacilitatorConfig{Enabled: false},
		Threshold:   domain.ThresholdConfig{Mode: domain.ThresholdAvgScore, AvgScoreThreshold: 80, MinRounds: 0, MaxRounds: 3},
	}
	m, err := store.CreateMeeting(ctx, "topic", cfg)
	if err != nil {
		t.Fatalf("CreateMeeting failed: %v", err)
	}
	// Meeting stays in DRAFT here; HandleUserMessage must not require RUNNING_VOTE.
	if err := orch.HandleUserMessage(ctx, m.ID, "please consider the compliance angle"); err != nil {
		t.Fatalf("HandleUserMessage failed: %v", err)
	}

	msgs, err := store.ListMessages(ctx, m.ID, 0, "")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != domain.RoleUser {
		t.Fatalf("expected exactly one user message appended, got %+v", msgs)
	}

	after, err := store.GetMeeting(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMeeting failed: %v", err)
	}
	if after.State != domain.StateDraft {
		t.Fatalf("expected state to remain unchanged outside RUNNING_VOTE, got %s", after.State)
	}
}
