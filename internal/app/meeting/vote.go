package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/farumcollective/convene/internal/app/promptbuilder"
	"github.com/farumcollective/convene/internal/domain"
)

type voteOutcome string

const (
	voteOutcomeAccepted         voteOutcome = "accepted"
	voteOutcomeRejected         voteOutcome = "rejected"
	voteOutcomeAbortedUnanimity voteOutcome = "aborted_unanimity"
	voteOutcomeInterrupted      voteOutcome = "interrupted"
)

const (
	maxProposalTextChars  = 5000
	maxDiscussionCtxChars = 7000
	maxDissentRationale   = 400
	maxDissentItems       = 12
)

// runVotePhase implements spec §4.2: Phase 1 (proposal vote against the
// Threshold Evaluator) followed, on acceptance, by Phase 2 (the
// final-document unanimity loop).
func (o *Orchestrator) runVotePhase(ctx context.Context, meetingID domain.MeetingID, round int, rollingSummary string) (voteOutcome, error) {
	messages, err := o.store.ListMessages(ctx, meetingID, 0, "")
	if err != nil {
		return "", fmt.Errorf("vote phase: list messages: %w", err)
	}
	proposalText := truncateStr(buildProposalText(derefMessages(messages), round), maxProposalTextChars)

	m, vs, V, err := o.startVoteSession(ctx, meetingID, round, proposalText, domain.VoteKindProposal, 0)
	if err != nil {
		return "", err
	}

	voteCtx := o.resetVoteToken(meetingID)
	votes, interrupted, err := o.dispatchAndPersistVotes(voteCtx, m, vs, V, domain.VoteKindProposal, proposalText, rollingSummary)
	if err != nil {
		return "", err
	}
	if interrupted {
		return voteOutcomeInterrupted, nil
	}

	agg := domain.Aggregate(votes)
	verdict := o.threshold.Evaluate(m.Config.Threshold, round, agg)

	now := time.Now().UTC()
	_ = o.store.FinalizeVoteSession(ctx, meetingID, vs.ID, domain.VoteSessionFinalized, now)
	_, _ = o.events.Emit(ctx, meetingID, domain.EventVoteSessionFinal, domain.VoteSessionFinalPayload{
		VoteSessionID: vs.ID, StageVersion: V, Accepted: verdict.Accepted, AvgScore: agg.AvgScore, Reason: verdict.Reason, Kind: domain.VoteKindProposal,
	})

	if !verdict.Accepted {
		return o.rejectVote(ctx, meetingID, round)
	}

	return o.runFinalDocumentLoop(ctx, meetingID, round, proposalText, rollingSummary)
}

// startVoteSession implements the Store-locked portion of Phase 1/2's
// session creation: transition to RUNNING_VOTE (first time only),
// increment stage_version, create the VoteSession, record it active.
func (o *Orchestrator) startVoteSession(ctx context.Context, meetingID domain.MeetingID, round int, proposalText string, kind domain.VoteSessionKind, attempt int) (*domain.Meeting, *domain.VoteSession, int, error) {
	var vs *domain.VoteSession
	var V int

	err := o.store.WithMeetingLock(ctx, meetingID, func(ctx context.Context) error {
		cur, err := o.store.GetMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		newSV := cur.StageVersion + 1
		V = newSV

		vs = &domain.VoteSession{
			ID:                    domain.VoteSessionID(uuid.NewString()),
			MeetingID:             meetingID,
			Round:                 round,
			StageVersion:          V,
			ProposalText:          proposalText,
			Status:                domain.VoteSessionRunning,
			StartedAt:             time.Now().UTC(),
			ExpectedVoterAgentIDs: agentIDs(cur.Config.EnabledAgents()),
		}
		if err := o.store.CreateVoteSession(ctx, vs); err != nil {
			return err
		}

		newState := domain.StateRunningVote
		activeID := vs.ID
		now := time.Now().UTC()
		return o.store.UpdateMeeting(ctx, meetingID, domain.MeetingPatch{
			State:               &newState,
			StageVersion:        &newSV,
			ActiveVoteSessionID: &activeID,
			UpdatedAt:           &now,
		})
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("start vote session: %w", err)
	}

	m, err := o.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("start vote session: reload meeting: %w", err)
	}

	_, _ = o.events.Emit(ctx, meetingID, domain.EventMeetingStateChanged, domain.MeetingStateChangedPayload{State: domain.StateRunningVote, Round: round, StageVersion: V})
	_, _ = o.events.Emit(ctx, meetingID, domain.EventVoteSessionStarted, domain.VoteSessionStartedPayload{VoteSessionID: vs.ID, StageVersion: V, Kind: kind, Attempt: attempt})

	return m, vs, V, nil
}

// dispatchAndPersistVotes fans out one vote call per enabled agent,
// applies the parse-failure substitution and the stage-version drop rule
// (spec §4.2), and reports whether the session was interrupted.
func (o *Orchestrator) dispatchAndPersistVotes(ctx context.Context, m *domain.Meeting, vs *domain.VoteSession, stageVersion int, kind domain.VoteSessionKind, proposalOrDraft, rollingSummary string) ([]domain.Vote, bool, error) {
	agents := m.Config.EnabledAgents()
	timeoutMS := voteTimeoutMS(m)

	results := dispatchAgents(ctx, o.gateway, agents, func(a domain.AgentConfig) domain.GenerateRequest {
		var prompt []domain.ChatMessage
		if kind == domain.VoteKindApproval {
			prompt = promptbuilder.BuildApprovalPrompt(a, m.Topic, proposalOrDraft)
		} else {
			prompt = promptbuilder.BuildVotePrompt(a, m.Topic, rollingSummary, proposalOrDraft)
		}
		return domain.GenerateRequest{
			ProviderID:     a.Provider,
			Model:          a.Model,
			Messages:       prompt,
			Temperature:    0.1,
			MaxTokens:      a.MaxOutputTokens,
			TimeoutMS:      timeoutMS,
			ResponseFormat: domain.ResponseFormatJSON,
		}
	})

	if ctx.Err() != nil {
		return nil, true, nil
	}

	var persisted []domain.Vote
	for _, res := range results {
		var score int
		var pass bool
		var rationale string

		if res.Err != nil {
			if res.Err == domain.ErrCancelled {
				continue
			}
			score, pass, rationale = 50, false, "Failed to parse vote response"
		} else {
			var ok bool
			score, pass, rationale, ok = parseVoteJSON(res.Response.Text)
			if !ok {
				score, pass, rationale = 50, false, "Failed to parse vote response"
			}
		}

		v := &domain.Vote{
			ID:            domain.VoteID(uuid.NewString()),
			MeetingID:     m.ID,
			VoteSessionID: vs.ID,
			VoterAgentID:  res.Agent.ID,
			Score:         score,
			Pass:          pass,
			Rationale:     rationale,
			StageVersion:  stageVersion,
			CreatedAt:     time.Now().UTC(),
		}
		if err := o.store.AppendVote(ctx, v); err != nil {
			continue // stale (interrupted) or otherwise dropped, per spec §4.2
		}
		persisted = append(persisted, *v)
		_, _ = o.events.Emit(ctx, m.ID, domain.EventVoteReceived, domain.VoteReceivedPayload{Vote: *v, Kind: kind})
	}

	cur, err := o.store.GetMeeting(ctx, m.ID)
	if err != nil {
		return nil, false, fmt.Errorf("dispatch votes: reload meeting: %w", err)
	}
	if cur.StageVersion != stageVersion {
		return nil, true, nil
	}

	return persisted, false, nil
}

// rejectVote implements spec §4.1's RUNNING_VOTE -> RUNNING_DISCUSSION
// rejection transition.
func (o *Orchestrator) rejectVote(ctx context.Context, meetingID domain.MeetingID, round int) (voteOutcome, error) {
	var newSV, newRound int
	err := o.store.WithMeetingLock(ctx, meetingID, func(ctx context.Context) error {
		cur, err := o.store.GetMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		newSV = cur.StageVersion + 1
		newRound = round + 1
		newState := domain.StateRunningDiscussion
		noSession := domain.VoteSessionID("")
		now := time.Now().UTC()
		return o.store.UpdateMeeting(ctx, meetingID, domain.MeetingPatch{
			State:               &newState,
			StageVersion:        &newSV,
			Round:               &newRound,
			ActiveVoteSessionID: &noSession,
			UpdatedAt:           &now,
		})
	})
	if err != nil {
		return "", fmt.Errorf("reject vote: %w", err)
	}
	_, _ = o.events.Emit(ctx, meetingID, domain.EventMeetingStateChanged, domain.MeetingStateChangedPayload{State: domain.StateRunningDiscussion, Round: newRound, StageVersion: newSV})
	return voteOutcomeRejected, nil
}

// runFinalDocumentLoop implements spec §4.2 Phase 2: draft, run up to 3
// approval attempts, revise on dissent, and resolve to either
// FINISHED_ACCEPTED or FINISHED_ABORTED.
func (o *Orchestrator) runFinalDocumentLoop(ctx context.Context, meetingID domain.MeetingID, round int, proposalText, rollingSummary string) (voteOutcome, error) {
	m, err := o.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return "", fmt.Errorf("final document loop: load meeting: %w", err)
	}

	discussionCtx := truncateStr(rollingSummary, maxDiscussionCtxChars)
	draft := o.draftFinalDocument(ctx, m, proposalText, discussionCtx)

	var lastApprovals []domain.ApprovalSummary

	for attempt := 1; attempt <= maxApprovalAttempts; attempt++ {
		m, vs, V, err := o.startVoteSession(ctx, meetingID, round, draft, domain.VoteKindApproval, attempt)
		if err != nil {
			return "", err
		}

		voteCtx := o.resetVoteToken(meetingID)
		votes, interrupted, err := o.dispatchAndPersistVotes(voteCtx, m, vs, V, domain.VoteKindApproval, draft, rollingSummary)
		if err != nil {
			return "", err
		}
		if interrupted {
			return voteOutcomeInterrupted, nil
		}

		lastApprovals = approvalSummaries(votes)
		unanimous := len(votes) == len(m.Config.EnabledAgents()) && allPass(votes)

		now := time.Now().UTC()
		if unanimous {
			_ = o.store.FinalizeVoteSession(ctx, meetingID, vs.ID, domain.VoteSessionFinalized, now)
			_, _ = o.events.Emit(ctx, meetingID, domain.EventVoteSessionFinal, domain.VoteSessionFinalPayload{
				VoteSessionID: vs.ID, StageVersion: V, Accepted: true, Reason: "unanimous approval", Kind: domain.VoteKindApproval,
			})
			if err := o.finish(ctx, meetingID, true, "unanimously approved", draft, lastApprovals); err != nil {
				return "", err
			}
			return voteOutcomeAccepted, nil
		}

		_ = o.store.FinalizeVoteSession(ctx, meetingID, vs.ID, domain.VoteSessionIncomplete, now)
		_, _ = o.events.Emit(ctx, meetingID, domain.EventVoteSessionFinal, domain.VoteSessionFinalPayload{
			VoteSessionID: vs.ID, StageVersion: V, Accepted: false, Reason: "not unanimous", Kind: domain.VoteKindApproval,
		})

		if attempt == maxApprovalAttempts {
			break
		}

		dissent := dissentRationales(votes)
		draft = o.reviseFinalDocument(ctx, m, draft, dissent)
	}

	reason := fmt.Sprintf("Final result document was not approved by all agents after %d attempt(s)", maxApprovalAttempts)
	if err := o.finish(ctx, meetingID, false, reason, draft, lastApprovals); err != nil {
		return "", err
	}
	return voteOutcomeAbortedUnanimity, nil
}

// draftFinalDocument tries the Facilitator's provider/model first, then
// every enabled Agent's provider, up to maxEditorPasses total attempts,
// falling back to the bare proposal text if every pass fails (spec §4.2).
func (o *Orchestrator) draftFinalDocument(ctx context.Context, m *domain.Meeting, proposalText, discussionCtx string) string {
	candidates := editorCandidates(m)
	prompt := promptbuilder.BuildFinalDocumentDraftPrompt(m.Topic, proposalText, discussionCtx)

	for i := 0; i < maxEditorPasses && i < len(candidates); i++ {
		c := candidates[i]
		resp, err := o.gateway.GenerateText(ctx, domain.GenerateRequest{
			ProviderID:  c.provider,
			Model:       c.model,
			Messages:    prompt,
			Temperature: 0.3,
			MaxTokens:   2048,
			TimeoutMS:   maxInt(minEditorTimeoutMS, m.Config.Facilitator.TimeoutMS),
		})
		if err == nil && resp.Text != "" {
			return resp.Text
		}
	}
	return proposalText
}

func (o *Orchestrator) reviseFinalDocument(ctx context.Context, m *domain.Meeting, currentDraft string, dissent []string) string {
	candidates := editorCandidates(m)
	prompt := promptbuilder.BuildFinalDocumentRevisePrompt(m.Topic, currentDraft, dissent)

	for i := 0; i < maxEditorPasses && i < len(candidates); i++ {
		c := candidates[i]
		resp, err := o.gateway.GenerateText(ctx, domain.GenerateRequest{
			ProviderID:  c.provider,
			Model:       c.model,
			Messages:    prompt,
			Temperature: 0.3,
			MaxTokens:   2048,
			TimeoutMS:   maxInt(minEditorTimeoutMS, m.Config.Facilitator.TimeoutMS),
		})
		if err == nil && resp.Text != "" {
			return resp.Text
		}
	}
	return currentDraft
}

type editorCandidate struct {
	provider string
	model    string
}

func editorCandidates(m *domain.Meeting) []editorCandidate {
	var out []editorCandidate
	provider, model := facilitatorProviderModel(m)
	out = append(out, editorCandidate{provider, model})
	for _, a := range m.Config.EnabledAgents() {
		if a.Provider == provider && a.Model == model {
			continue
		}
		out = append(out, editorCandidate{a.Provider, a.Model})
	}
	return out
}

func parseVoteJSON(text string) (score int, pass bool, rationale string, ok bool) {
	text = extractJSONSpan(text)
	var parsed struct {
		Score     int    `json:"score"`
		Pass      bool   `json:"pass"`
		Rationale string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return 0, false, "", false
	}
	if parsed.Score < 0 || parsed.Score > 100 {
		return 0, false, "", false
	}
	return parsed.Score, parsed.Pass, parsed.Rationale, true
}

func extractJSONSpan(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

func allPass(votes []domain.Vote) bool {
	for _, v := range votes {
		if !v.Pass {
			return false
		}
	}
	return true
}

func approvalSummaries(votes []domain.Vote) []domain.ApprovalSummary {
	out := make([]domain.ApprovalSummary, 0, len(votes))
	for _, v := range votes {
		out = append(out, domain.ApprovalSummary{AgentID: v.VoterAgentID, Score: v.Score, Pass: v.Pass, Rationale: v.Rationale})
	}
	return out
}

func dissentRationales(votes []domain.Vote) []string {
	var out []string
	for _, v := range votes {
		if v.Pass {
			continue
		}
		r := v.Rationale
		if r == "" {
			r = fmt.Sprintf("%s did not approve", v.VoterAgentID)
		}
		out = append(out, truncateStr(r, maxDissentRationale))
		if len(out) >= maxDissentItems {
			break
		}
	}
	return out
}

func agentIDs(agents []domain.AgentConfig) []domain.AgentID {
	out := make([]domain.AgentID, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}

func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
