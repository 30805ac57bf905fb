// Package meeting implements the Meeting Orchestrator (spec §4.1–§4.3):
// the per-meeting state machine that drives discussion rounds, the vote
// session, the final-document approval loop, and cooperative
// cancellation. Grounded in the teacher's internal/app/agentflow package
// (sequential phase dispatch over a shared LLM client), generalized from
// a fixed three-agent chain into a config-driven, concurrency-aware
// state machine.
package meeting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farumcollective/convene/internal/app/report"
	"github.com/farumcollective/convene/internal/domain"
	"github.com/farumcollective/convene/internal/observability"
)

const (
	minDiscussionTimeoutMS = 60_000
	minVoteTimeoutMS       = 15_000
	minFacilitatorTimeoutMS = 90_000
	minEditorTimeoutMS     = 90_000

	maxApprovalAttempts = 3
	maxFacilitatorRetries = 3
	maxEditorPasses      = 3
)

// Orchestrator drives one or many meetings. It is safe for concurrent
// use across meetings; within a single meeting, Run owns all state
// transitions while Abort/HandleUserMessage interrupt it cooperatively.
type Orchestrator struct {
	store       domain.Store
	gateway     domain.Gateway
	facilitator domain.Facilitator
	threshold   domain.ThresholdEvaluator
	events      domain.EventEmitter

	mu     sync.Mutex
	tokens map[domain.MeetingID]*runTokens
}

type runTokens struct {
	meetingCtx    context.Context
	meetingCancel context.CancelFunc
	voteCtx       context.Context
	voteCancel    context.CancelFunc
}

func New(store domain.Store, gateway domain.Gateway, facilitator domain.Facilitator, threshold domain.ThresholdEvaluator, events domain.EventEmitter) *Orchestrator {
	return &Orchestrator{
		store:       store,
		gateway:     gateway,
		facilitator: facilitator,
		threshold:   threshold,
		events:      events,
		tokens:      make(map[domain.MeetingID]*runTokens),
	}
}

func (o *Orchestrator) register(parent context.Context, meetingID domain.MeetingID) *runTokens {
	meetingCtx, meetingCancel := context.WithCancel(parent)
	voteCtx, voteCancel := context.WithCancel(meetingCtx)

	t := &runTokens{
		meetingCtx:    meetingCtx,
		meetingCancel: meetingCancel,
		voteCtx:       voteCtx,
		voteCancel:    voteCancel,
	}

	o.mu.Lock()
	o.tokens[meetingID] = t
	o.mu.Unlock()
	return t
}

func (o *Orchestrator) unregister(meetingID domain.MeetingID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.tokens, meetingID)
}

func (o *Orchestrator) tokensFor(meetingID domain.MeetingID) *runTokens {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens[meetingID]
}

// resetVoteToken replaces the vote-session cancellation token, scoping a
// fresh one to the lifetime of the vote session about to start (spec §4.3).
func (o *Orchestrator) resetVoteToken(meetingID domain.MeetingID) context.Context {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tokens[meetingID]
	if !ok {
		return context.Background()
	}
	t.voteCtx, t.voteCancel = context.WithCancel(t.meetingCtx)
	return t.voteCtx
}

// Run drives meetingID from its current state through to a FINISHED_*
// state. Intended to be called once per meeting, in its own goroutine,
// by the Runtime Binder. Returns nil once the meeting reaches a terminal
// state, including when that happens via a concurrent Abort.
func (o *Orchestrator) Run(ctx context.Context, meetingID domain.MeetingID) error {
	tokens := o.register(ctx, meetingID)
	defer o.unregister(meetingID)

	log := observability.LoggerFromContext(ctx).With("meeting_id", string(meetingID))
	log.Info("meeting run started")

	m, err := o.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("meeting run: load meeting: %w", err)
	}

	if m.State == domain.StateDraft {
		if err := o.start(tokens.meetingCtx, m); err != nil {
			return err
		}
	}

	rollingSummary := ""

	for {
		if tokens.meetingCtx.Err() != nil {
			return nil
		}

		m, err = o.store.GetMeeting(ctx, meetingID)
		if err != nil {
			return fmt.Errorf("meeting run: reload meeting: %w", err)
		}
		if isTerminal(m.State) {
			log.Info("meeting run finished", "state", m.State)
			return nil
		}

		round := m.Round
		if round > m.Config.Threshold.MaxRounds {
			return o.finishAborted(ctx, meetingID, "max rounds reached")
		}
		log.Info("round starting", "round", round)

		if round > 0 && m.Config.Facilitator.Enabled {
			rollingSummary = o.runFacilitatorPass(tokens.meetingCtx, m, round-1, rollingSummary)
		}

		if tokens.meetingCtx.Err() != nil {
			return nil
		}

		producedAny, roundErr := o.runDiscussionRound(tokens.meetingCtx, m, round)
		if roundErr != nil {
			if roundErr == domain.ErrCancelled {
				return nil
			}
			o.emitRunnerError(ctx, meetingID, roundErr)
			return o.finishAborted(ctx, meetingID, "unexpected orchestrator error: "+roundErr.Error())
		}

		if !producedAny {
			_, _ = o.events.Emit(ctx, meetingID, domain.EventError, domain.ErrorPayload{
				Code:    domain.ErrCodeDiscussionEmptySkip,
				Message: fmt.Sprintf("round %d produced no agent messages; skipping vote", round),
			})
			if stop := o.advanceRoundOrAbort(ctx, meetingID, round+1); stop {
				return nil
			}
			continue
		}

		// Round 0 is always the blind round (no reply_targets, no
		// cross-references) and must never be voted on, even when
		// min_rounds is 0: min_rounds=0 enters vote after round 1.
		if round == 0 || round < m.Config.Threshold.MinRounds {
			if stop := o.advanceRoundOrAbort(ctx, meetingID, round+1); stop {
				return nil
			}
			continue
		}

		outcome, voteErr := o.runVotePhase(tokens.meetingCtx, meetingID, round, rollingSummary)
		if voteErr != nil {
			if voteErr == domain.ErrCancelled {
				return nil
			}
			o.emitRunnerError(ctx, meetingID, voteErr)
			return o.finishAborted(ctx, meetingID, "unexpected orchestrator error: "+voteErr.Error())
		}

		switch outcome {
		case voteOutcomeAccepted, voteOutcomeAbortedUnanimity:
			return nil
		case voteOutcomeInterrupted:
			continue
		case voteOutcomeRejected:
			continue
		}
	}
}

func isTerminal(s domain.MeetingState) bool {
	return s == domain.StateFinishedAccepted || s == domain.StateFinishedAborted
}

func (o *Orchestrator) start(ctx context.Context, m *domain.Meeting) error {
	mode := m.Config.Discussion.Mode
	if mode == domain.DiscussionAuto {
		if len(m.Config.EnabledAgents()) >= m.Config.Discussion.AutoParallelMinAgents {
			mode = domain.DiscussionParallelRound
		} else {
			mode = domain.DiscussionSerialTurn
		}
	}

	newState := domain.StateRunningDiscussion
	newSV := m.StageVersion + 1
	now := time.Now().UTC()

	err := o.store.WithMeetingLock(ctx, m.ID, func(ctx context.Context) error {
		return o.store.UpdateMeeting(ctx, m.ID, domain.MeetingPatch{
			State:                   &newState,
			StageVersion:            &newSV,
			EffectiveDiscussionMode: &mode,
			UpdatedAt:               &now,
		})
	})
	if err != nil {
		return fmt.Errorf("meeting start: %w", err)
	}

	_, _ = o.events.Emit(ctx, m.ID, domain.EventMeetingStateChanged, domain.MeetingStateChangedPayload{
		State: newState, Round: m.Round, StageVersion: newSV,
	})
	return nil
}

// advanceRoundOrAbort persists the next round number, enforcing the
// max_rounds safety cap (spec §4.1: "round > max_rounds -> FINISHED_ABORTED").
// Returns true if the meeting was aborted (caller should stop looping).
func (o *Orchestrator) advanceRoundOrAbort(ctx context.Context, meetingID domain.MeetingID, newRound int) bool {
	m, err := o.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return true
	}
	if newRound > m.Config.Threshold.MaxRounds {
		_ = o.finishAborted(ctx, meetingID, "max rounds reached")
		return true
	}

	now := time.Now().UTC()
	_ = o.store.WithMeetingLock(ctx, meetingID, func(ctx context.Context) error {
		return o.store.UpdateMeeting(ctx, meetingID, domain.MeetingPatch{Round: &newRound, UpdatedAt: &now})
	})
	return false
}

func (o *Orchestrator) finishAborted(ctx context.Context, meetingID domain.MeetingID, reason string) error {
	return o.finish(ctx, meetingID, false, reason, "", nil)
}

// finish persists the terminal MeetingResult and transitions to the
// matching FINISHED_* state (spec §4.1/§4.2/§7). Safe to call at most
// once per meeting in practice; callers return immediately afterward.
func (o *Orchestrator) finish(ctx context.Context, meetingID domain.MeetingID, accepted bool, reason, finalDocument string, approvals []domain.ApprovalSummary) error {
	m, err := o.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("meeting finish: load meeting: %w", err)
	}
	if isTerminal(m.State) {
		return nil
	}

	messages, _ := o.store.ListMessages(ctx, meetingID, 0, "")
	votes, _ := o.store.ListVotes(ctx, meetingID, "")

	reportMD := report.Build(m, accepted, reason, messages, votes, finalDocument, approvals)

	newState := domain.StateFinishedAborted
	if accepted {
		newState = domain.StateFinishedAccepted
	}
	newSV := m.StageVersion + 1
	now := time.Now().UTC()

	result := &domain.MeetingResult{
		Accepted:    accepted,
		ConcludedAt: now,
		Reason:      reason,
		ReportMD:    reportMD,
		SummaryJSON: domain.ResultSummary{
			MessageCount:    len(messages),
			VoteCount:       len(votes),
			FinalDocumentMD: finalDocument,
			Approvals:       approvals,
		},
	}

	err = o.store.WithMeetingLock(ctx, meetingID, func(ctx context.Context) error {
		return o.store.UpdateMeeting(ctx, meetingID, domain.MeetingPatch{
			State:        &newState,
			StageVersion: &newSV,
			Result:       result,
			UpdatedAt:    &now,
		})
	})
	if err != nil {
		return fmt.Errorf("meeting finish: %w", err)
	}

	_, _ = o.events.Emit(ctx, meetingID, domain.EventMeetingStateChanged, domain.MeetingStateChangedPayload{
		State: newState, Round: m.Round, StageVersion: newSV,
	})
	return nil
}

func (o *Orchestrator) emitRunnerError(ctx context.Context, meetingID domain.MeetingID, err error) {
	_, _ = o.events.Emit(ctx, meetingID, domain.EventError, domain.ErrorPayload{
		Code:    domain.ErrCodeRunnerError,
		Message: err.Error(),
	})
}

// Abort implements the explicit-abort transition of spec §4.1/§4.3: any
// non-terminal meeting moves directly to FINISHED_ABORTED and in-flight
// operations are cancelled.
func (o *Orchestrator) Abort(ctx context.Context, meetingID domain.MeetingID, reason string) error {
	if reason == "" {
		reason = "aborted by request"
	}
	if err := o.finishAborted(ctx, meetingID, reason); err != nil {
		return err
	}
	if t := o.tokensFor(meetingID); t != nil {
		t.voteCancel()
		t.meetingCancel()
	}
	return nil
}

// HandleUserMessage implements spec §4.3: a user message arriving during
// RUNNING_VOTE aborts the active vote session and returns the meeting to
// discussion; during RUNNING_DISCUSSION it is merely appended.
func (o *Orchestrator) HandleUserMessage(ctx context.Context, meetingID domain.MeetingID, content string) error {
	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		MeetingID: meetingID,
		CreatedAt: time.Now().UTC(),
		Role:      domain.RoleUser,
		Content:   content,
	}

	var interrupted bool
	var newRound int

	err := o.store.WithMeetingLock(ctx, meetingID, func(ctx context.Context) error {
		m, err := o.store.GetMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		msg.Meta.Round = m.Round

		if err := o.store.AppendMessage(ctx, msg); err != nil {
			return err
		}

		if m.State != domain.StateRunningVote {
			return nil
		}

		interrupted = true
		newSV := m.StageVersion + 1
		newState := domain.StateRunningDiscussion
		now := time.Now().UTC()
		noActiveSession := domain.VoteSessionID("")

		if m.ActiveVoteSessionID != "" {
			_ = o.store.FinalizeVoteSession(ctx, meetingID, m.ActiveVoteSessionID, domain.VoteSessionAborted, now)
		}

		// Same round+1 advance rejectVote uses: the aborted vote's round
		// is done, so discussion resumes on a fresh round rather than
		// re-running the round whose proposal the vote was already
		// built from.
		newRound = m.Round + 1
		return o.store.UpdateMeeting(ctx, meetingID, domain.MeetingPatch{
			State:                   &newState,
			StageVersion:            &newSV,
			Round:                   &newRound,
			ActiveVoteSessionID:     &noActiveSession,
			UpdatedAt:               &now,
		})
	})
	if err != nil {
		return fmt.Errorf("handle user message: %w", err)
	}

	_, _ = o.events.Emit(ctx, meetingID, domain.EventMessageFinal, domain.MessageFinalPayload{Message: *msg})

	if interrupted {
		if t := o.tokensFor(meetingID); t != nil {
			t.voteCancel()
		}
		_, _ = o.events.Emit(ctx, meetingID, domain.EventMeetingStateChanged, domain.MeetingStateChangedPayload{
			State: domain.StateRunningDiscussion, Round: newRound,
		})
	}
	return nil
}
