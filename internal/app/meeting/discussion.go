package meeting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/farumcollective/convene/internal/app/promptbuilder"
	"github.com/farumcollective/convene/internal/domain"
)

// runDiscussionRound runs one discussion round for the given round number
// and reports whether at least one agent message was produced (spec
// §4.1: an empty round skips the subsequent vote).
func (o *Orchestrator) runDiscussionRound(ctx context.Context, m *domain.Meeting, round int) (bool, error) {
	agents := m.Config.EnabledAgents()
	if len(agents) == 0 {
		return false, nil
	}

	if round == 0 {
		return o.runBlindRound(ctx, m, agents)
	}

	switch m.EffectiveDiscussionMode {
	case domain.DiscussionParallelRound:
		return o.runParallelRound(ctx, m, agents, round)
	default:
		return o.runSerialRound(ctx, m, agents, round)
	}
}

// runBlindRound is spec §4.1's Round 0: every enabled agent is prompted
// in parallel with only the Topic, no history, no reply targets. This
// happens regardless of effective_discussion_mode.
func (o *Orchestrator) runBlindRound(ctx context.Context, m *domain.Meeting, agents []domain.AgentConfig) (bool, error) {
	timeoutMS := discussionTimeoutMS(m)

	results := dispatchAgents(ctx, o.gateway, agents, func(a domain.AgentConfig) domain.GenerateRequest {
		prompt := promptbuilder.BuildDiscussionPrompt(promptbuilder.DiscussionPromptInput{
			Agent: a,
			Topic: m.Topic,
			Round: 0,
		})
		return buildAgentRequest(a, prompt, timeoutMS)
	})

	if ctx.Err() != nil {
		return false, domain.ErrCancelled
	}

	producedAny := false
	for i, res := range results {
		turnIndex := i
		if res.Err != nil {
			o.emitAgentError(ctx, m.ID, res.Agent.ID, res.Err)
			continue
		}
		if err := o.persistAgentMessage(ctx, m.ID, res.Agent, 0, &turnIndex, domain.DiscussionParallelRound, nil, res.Response); err != nil {
			return producedAny, err
		}
		producedAny = true
	}
	return producedAny, nil
}

// runSerialRound implements spec §4.1's serial_turn mode: each agent, in
// config order, reads fresh messages so later agents see earlier agents'
// new messages this round.
func (o *Orchestrator) runSerialRound(ctx context.Context, m *domain.Meeting, agents []domain.AgentConfig, round int) (bool, error) {
	timeoutMS := discussionTimeoutMS(m)
	producedAny := false

	for i, agent := range agents {
		if ctx.Err() != nil {
			return producedAny, domain.ErrCancelled
		}

		messages, err := o.store.ListMessages(ctx, m.ID, 0, "")
		if err != nil {
			return producedAny, fmt.Errorf("serial round: list messages: %w", err)
		}

		targets := promptbuilder.ComputeReplyTargets(derefMessages(messages), agent.ID, m.Config.Discussion.CrossReplyTargetsPerAgent)
		prompt := promptbuilder.BuildDiscussionPrompt(promptbuilder.DiscussionPromptInput{
			Agent:                  agent,
			Topic:                  m.Topic,
			Round:                  round,
			RollingSummary:         "",
			RollingSummaryMaxChars: m.Config.Discussion.RollingSummaryMaxChars,
			RecentMessages:         derefMessages(messages),
			ReplyTargets:           targets,
		})

		resp, err := o.gateway.GenerateText(ctx, buildAgentRequest(agent, prompt, timeoutMS))
		if err != nil {
			if err == domain.ErrCancelled {
				return producedAny, domain.ErrCancelled
			}
			o.emitAgentError(ctx, m.ID, agent.ID, err)
			continue
		}

		turnIndex := i
		if err := o.persistAgentMessage(ctx, m.ID, agent, round, &turnIndex, domain.DiscussionSerialTurn, targets, resp); err != nil {
			return producedAny, err
		}
		producedAny = true
	}
	return producedAny, nil
}

// runParallelRound implements spec §4.1's parallel_round mode: reply
// targets are computed from a single snapshot, all agents are dispatched
// concurrently, and results are dropped wholesale if a concurrent abort
// moved stage_version out from under the round.
func (o *Orchestrator) runParallelRound(ctx context.Context, m *domain.Meeting, agents []domain.AgentConfig, round int) (bool, error) {
	timeoutMS := discussionTimeoutMS(m)
	snapshot, err := o.store.ListMessages(ctx, m.ID, 0, "")
	if err != nil {
		return false, fmt.Errorf("parallel round: list messages: %w", err)
	}
	snapshotSV := m.StageVersion
	snapshotMessages := derefMessages(snapshot)

	targetsByAgent := make(map[domain.AgentID][]domain.ReplyTarget, len(agents))
	for _, a := range agents {
		targetsByAgent[a.ID] = promptbuilder.ComputeReplyTargets(snapshotMessages, a.ID, m.Config.Discussion.CrossReplyTargetsPerAgent)
	}

	results := dispatchAgents(ctx, o.gateway, agents, func(a domain.AgentConfig) domain.GenerateRequest {
		prompt := promptbuilder.BuildDiscussionPrompt(promptbuilder.DiscussionPromptInput{
			Agent:                  a,
			Topic:                  m.Topic,
			Round:                  round,
			RollingSummaryMaxChars: m.Config.Discussion.RollingSummaryMaxChars,
			RecentMessages:         snapshotMessages,
			ReplyTargets:           targetsByAgent[a.ID],
		})
		return buildAgentRequest(a, prompt, timeoutMS)
	})

	if ctx.Err() != nil {
		return false, domain.ErrCancelled
	}

	current, err := o.store.GetMeeting(ctx, m.ID)
	if err != nil {
		return false, fmt.Errorf("parallel round: reload meeting: %w", err)
	}
	if current.StageVersion != snapshotSV {
		return false, domain.ErrCancelled
	}

	producedAny := false
	for i, res := range results {
		turnIndex := i
		if res.Err != nil {
			o.emitAgentError(ctx, m.ID, res.Agent.ID, res.Err)
			continue
		}
		if err := o.persistAgentMessage(ctx, m.ID, res.Agent, round, &turnIndex, domain.DiscussionParallelRound, targetsByAgent[res.Agent.ID], res.Response); err != nil {
			return producedAny, err
		}
		producedAny = true
	}
	return producedAny, nil
}

func (o *Orchestrator) persistAgentMessage(ctx context.Context, meetingID domain.MeetingID, agent domain.AgentConfig, round int, turnIndex *int, mode domain.DiscussionMode, targets []domain.ReplyTarget, resp domain.GenerateResponse) error {
	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		MeetingID: meetingID,
		CreatedAt: time.Now().UTC(),
		Role:      domain.RoleAgent,
		AgentID:   agent.ID,
		Content:   resp.Text,
		Meta: domain.MessageMeta{
			Round:             round,
			TurnIndex:         turnIndex,
			DiscussionMode:    mode,
			ReplyTargets:      targets,
			Usage:             resp.Usage,
			ProviderRequestID: resp.ProviderRequestID,
		},
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("persist agent message: %w", err)
	}
	_, _ = o.events.Emit(ctx, meetingID, domain.EventMessageFinal, domain.MessageFinalPayload{Message: *msg})
	return nil
}

func (o *Orchestrator) emitAgentError(ctx context.Context, meetingID domain.MeetingID, agentID domain.AgentID, err error) {
	_, _ = o.events.Emit(ctx, meetingID, domain.EventError, domain.ErrorPayload{
		Code:    domain.ErrCodeAgentError,
		Message: err.Error(),
		Details: map[string]any{"agent_id": string(agentID)},
	})
}

// runFacilitatorPass implements spec §4.1's Facilitator pass, invoked
// before each discussion round with round > 0. Returns the rolling
// summary to use going forward: the new one on success, unchanged on
// failure (facilitator failure never halts discussion).
func (o *Orchestrator) runFacilitatorPass(ctx context.Context, m *domain.Meeting, completedRound int, rollingSummary string) string {
	messages, err := o.store.ListMessages(ctx, m.ID, 20, "")
	if err != nil {
		return rollingSummary
	}
	recent := filterMessagesFromRound(derefMessages(messages), completedRound)

	provider, model := facilitatorProviderModel(m)
	timeoutMS := facilitatorTimeoutMS(m)

	output, err := o.facilitator.Summarize(ctx, domain.FacilitatorInput{
		Topic:          m.Topic,
		Round:          completedRound,
		RollingSummary: rollingSummary,
		RecentMessages: recent,
		ProposalDraft:  buildProposalText(recent, completedRound),
		Provider:       provider,
		Model:          model,
		Temperature:    m.Config.Facilitator.Temperature,
		TimeoutMS:      timeoutMS,
	})
	if err != nil || output.IsFallbackSentinel() {
		return rollingSummary
	}

	content := formatFacilitatorMessage(output)
	msg := &domain.Message{
		ID:        domain.MessageID(uuid.NewString()),
		MeetingID: m.ID,
		CreatedAt: time.Now().UTC(),
		Role:      domain.RoleSystem,
		SystemID:  domain.SystemFacilitator,
		Content:   content,
		Meta:      domain.MessageMeta{Round: completedRound + 1},
	}
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		return rollingSummary
	}
	_, _ = o.events.Emit(ctx, m.ID, domain.EventMessageFinal, domain.MessageFinalPayload{Message: *msg})
	_, _ = o.events.Emit(ctx, m.ID, domain.EventFacilitatorOutput, domain.FacilitatorOutputPayload{
		StageVersion: m.StageVersion, Round: completedRound, Output: output,
	})

	return output.RoundSummary
}

func formatFacilitatorMessage(o domain.FacilitatorOutput) string {
	var b strings.Builder
	b.WriteString(o.RoundSummary)
	if len(o.Disagreements) > 0 {
		b.WriteString("\n\nDisagreements:\n")
		for _, d := range o.Disagreements {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if o.ProposedPatch != "" {
		fmt.Fprintf(&b, "\nProposed patch:\n%s\n", o.ProposedPatch)
	}
	if len(o.NextFocus) > 0 {
		b.WriteString("\nNext focus:\n")
		for _, f := range o.NextFocus {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func filterMessagesFromRound(messages []domain.Message, round int) []domain.Message {
	var out []domain.Message
	for _, m := range messages {
		if m.Meta.Round >= round {
			out = append(out, m)
		}
	}
	return out
}

// buildProposalText concatenates the given round's agent messages with
// agent-id prefixes, the mechanically-joined "proposal" spec §4.2 and
// §9's Open Question describe.
func buildProposalText(messages []domain.Message, round int) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != domain.RoleAgent || m.Meta.Round != round {
			continue
		}
		fmt.Fprintf(&b, "[%s]: %s\n\n", m.AgentID, m.Content)
	}
	return b.String()
}

func facilitatorProviderModel(m *domain.Meeting) (string, string) {
	if m.Config.Facilitator.Provider != "" {
		return m.Config.Facilitator.Provider, m.Config.Facilitator.Model
	}
	agents := m.Config.EnabledAgents()
	if len(agents) == 0 {
		return "mock", "mock-default"
	}
	return agents[0].Provider, agents[0].Model
}

func facilitatorTimeoutMS(m *domain.Meeting) int {
	return maxInt(m.Config.Facilitator.TimeoutMS, minFacilitatorTimeoutMS)
}

func discussionTimeoutMS(m *domain.Meeting) int {
	return maxInt(minDiscussionTimeoutMS, m.Config.Threshold.VoteTimeoutMS)
}

func voteTimeoutMS(m *domain.Meeting) int {
	return maxInt(minVoteTimeoutMS, m.Config.Threshold.VoteTimeoutMS)
}

func buildAgentRequest(a domain.AgentConfig, prompt []domain.ChatMessage, timeoutMS int) domain.GenerateRequest {
	return domain.GenerateRequest{
		ProviderID:  a.Provider,
		Model:       a.Model,
		Messages:    prompt,
		Temperature: a.Temperature,
		MaxTokens:   a.MaxOutputTokens,
		TimeoutMS:   timeoutMS,
	}
}

func derefMessages(in []*domain.Message) []domain.Message {
	out := make([]domain.Message, len(in))
	for i, m := range in {
		out[i] = *m
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
