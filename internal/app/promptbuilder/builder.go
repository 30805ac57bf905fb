// Package promptbuilder deterministically constructs discussion, vote,
// facilitator, and final-document prompts from context (spec §4.4).
// Every function here is pure: same inputs, byte-identical prompt.
package promptbuilder

import (
	"fmt"
	"strings"

	"github.com/farumcollective/convene/internal/domain"
)

const (
	maxHistoryMessages  = 10
	maxMessageContent   = 800
	maxQuoteChars       = 200
	maxFacilitatorPatch = 4000
	maxFacilitatorSummary = 2000
)

const fixedInstructionBlock = `Respond with 1-3 core points. If you disagree with another participant, you must propose a concrete alternative rather than only objecting. Be concise and specific.`

// ComputeReplyTargets scans messages in reverse chronological order and
// picks the most recent message from each distinct other Agent, up to
// maxTargets (spec §4.4). Round 0 (blind) callers pass an empty
// messages slice and get an empty result.
func ComputeReplyTargets(messages []domain.Message, self domain.AgentID, maxTargets int) []domain.ReplyTarget {
	if maxTargets <= 0 {
		return nil
	}
	seen := make(map[domain.AgentID]bool)
	var targets []domain.ReplyTarget
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role != domain.RoleAgent || m.AgentID == "" || m.AgentID == self {
			continue
		}
		if seen[m.AgentID] {
			continue
		}
		seen[m.AgentID] = true
		targets = append(targets, domain.ReplyTarget{
			TargetAgentID: m.AgentID,
			Quote:         truncate(m.Content, maxQuoteChars),
		})
		if len(targets) >= maxTargets {
			break
		}
	}
	return targets
}

// DiscussionPromptInput bundles everything BuildDiscussionPrompt needs.
type DiscussionPromptInput struct {
	Agent          domain.AgentConfig
	Topic          string
	Round          int
	RollingSummary string
	RollingSummaryMaxChars int
	RecentMessages []domain.Message // only the last maxHistoryMessages are rendered
	ReplyTargets   []domain.ReplyTarget
}

// BuildDiscussionPrompt builds the system + user message pair for one
// Agent's discussion turn (spec §4.4).
func BuildDiscussionPrompt(in DiscussionPromptInput) []domain.ChatMessage {
	var b strings.Builder

	fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	fmt.Fprintf(&b, "Round: %d\n", in.Round)

	if in.RollingSummary != "" {
		maxChars := in.RollingSummaryMaxChars
		if maxChars <= 0 {
			maxChars = 1500
		}
		fmt.Fprintf(&b, "\nRolling summary so far:\n%s\n", truncate(in.RollingSummary, maxChars))
	}

	recent := in.RecentMessages
	if len(recent) > maxHistoryMessages {
		recent = recent[len(recent)-maxHistoryMessages:]
	}
	if len(recent) > 0 {
		b.WriteString("\nRecent messages:\n")
		for _, m := range recent {
			b.WriteString(speakerPrefix(m))
			b.WriteString(": ")
			b.WriteString(truncate(m.Content, maxMessageContent))
			b.WriteString("\n")
		}
	}

	if len(in.ReplyTargets) > 0 {
		b.WriteString("\nYou MUST respond to:\n")
		for _, t := range in.ReplyTargets {
			fmt.Fprintf(&b, "- %s said: %q\n", t.TargetAgentID, t.Quote)
		}
	}

	b.WriteString("\n")
	b.WriteString(fixedInstructionBlock)

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: in.Agent.SystemPrompt},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

const voteJSONContract = `Respond with a single JSON object only, no prose, matching exactly: {"score": <integer 0-100>, "pass": <bool>, "rationale": "<optional short string>"}.`

// BuildVotePrompt builds the proposal-vote prompt for one Agent (spec §4.2/§4.4).
func BuildVotePrompt(agent domain.AgentConfig, topic, rollingSummary, proposalText string) []domain.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", topic)
	if rollingSummary != "" {
		fmt.Fprintf(&b, "\nRolling summary so far:\n%s\n", rollingSummary)
	}
	fmt.Fprintf(&b, "\nProposal to vote on:\n%s\n", proposalText)
	b.WriteString("\nScore how well this proposal resolves the topic, 0-100, and say whether you would pass it.\n")

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: agent.SystemPrompt + "\n\n" + voteJSONContract},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

const facilitatorSystemPrompt = `You are the meeting Facilitator. Read the discussion so far and produce a structured round summary. Respond with a single JSON object only, no prose, matching exactly: {"disagreements": ["...", ...] (1-3 items), "proposed_patch": "<string, at most 4000 chars>", "next_focus": ["...", ...] (1-2 items), "round_summary": "<string, at most 2000 chars>"}.`

// BuildFacilitatorPrompt builds the fixed-shape Facilitator prompt (spec §4.1/§4.4).
func BuildFacilitatorPrompt(in domain.FacilitatorInput) []domain.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", in.Topic)
	fmt.Fprintf(&b, "Completed round: %d\n", in.Round)
	if in.RollingSummary != "" {
		fmt.Fprintf(&b, "\nPrevious rolling summary:\n%s\n", in.RollingSummary)
	}
	if len(in.RecentMessages) > 0 {
		b.WriteString("\nMessages from this round:\n")
		for _, m := range in.RecentMessages {
			b.WriteString(speakerPrefix(m))
			b.WriteString(": ")
			b.WriteString(truncate(m.Content, maxMessageContent))
			b.WriteString("\n")
		}
	}
	if in.ProposalDraft != "" {
		fmt.Fprintf(&b, "\nCurrent proposal draft:\n%s\n", in.ProposalDraft)
	}

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: facilitatorSystemPrompt},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

const finalDocumentOutline = `Decision
Scope & Assumptions
Key Evidence & Trade-offs
Agreed Plan
Action Items
Risks & Mitigations
Open Questions
Acceptance Criteria`

// BuildFinalDocumentDraftPrompt builds the editor's first-pass prompt
// (spec §4.2 Phase 2). proposal and discussion are pre-truncated by the
// caller to the ~5KB/~7KB budgets spec §4.2 names.
func BuildFinalDocumentDraftPrompt(topic, proposal, discussion string) []domain.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	b.WriteString("Write a Final Result Document in markdown with exactly these sections, in order:\n")
	b.WriteString(finalDocumentOutline)
	b.WriteString("\n\nThe Action Items section must be a markdown table.\n")
	fmt.Fprintf(&b, "\nProposal voted on by the group:\n%s\n", proposal)
	if discussion != "" {
		fmt.Fprintf(&b, "\nRecent discussion context:\n%s\n", discussion)
	}

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "You are the meeting's editor, producing the group's final result document."},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

// BuildFinalDocumentRevisePrompt builds the editor's "revise to satisfy
// objections" prompt (spec §4.2 Phase 2).
func BuildFinalDocumentRevisePrompt(topic, currentDraft string, dissentRationales []string) []domain.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	b.WriteString("The current draft was not unanimously approved. Revise it to satisfy these objections while keeping the same section outline:\n")
	b.WriteString(finalDocumentOutline)
	b.WriteString("\n\nObjections:\n")
	for _, r := range dissentRationales {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	fmt.Fprintf(&b, "\nCurrent draft:\n%s\n", currentDraft)

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "You are the meeting's editor, revising the group's final result document to satisfy reviewer objections."},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

// BuildApprovalPrompt builds one Agent's final-document approval prompt
// (spec §4.2 Phase 2).
func BuildApprovalPrompt(agent domain.AgentConfig, topic, draft string) []domain.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n\n", topic)
	b.WriteString("Review this Final Result Document. Approve only if it is accurate, complete, and unambiguous.\n")
	fmt.Fprintf(&b, "\nDraft:\n%s\n", draft)

	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: agent.SystemPrompt + "\n\n" + voteJSONContract},
		{Role: domain.RoleUser, Content: b.String()},
	}
}

func speakerPrefix(m domain.Message) string {
	switch m.Role {
	case domain.RoleAgent:
		return string(m.AgentID)
	case domain.RoleSystem:
		return string(m.SystemID)
	default:
		return "user"
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max]
}
