// Package report renders a Meeting's terminal result as markdown (spec
// §4.2's "Report Builder" collaborator). Pure function of
// already-persisted state: meeting, messages, votes, the final document,
// and the approval summary.
package report

import (
	"fmt"
	"strings"

	"github.com/farumcollective/convene/internal/domain"
)

// Build renders the markdown report spec §4.2 names as part of
// MeetingResult.ReportMD. accepted/reason are the terminal verdict the
// caller is about to persist, not read back off m.Result: finish() calls
// Build before the patch lands, while m is still the pre-transition
// snapshot (m.State still RUNNING_*, m.Result still nil).
func Build(m *domain.Meeting, accepted bool, reason string, messages []*domain.Message, votes []domain.Vote, finalDocument string, approvals []domain.ApprovalSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Meeting Report: %s\n\n", m.Topic)
	fmt.Fprintf(&b, "- Status: %s\n", statusLabel(accepted, reason))
	fmt.Fprintf(&b, "- Rounds run: %d\n", m.Round)
	fmt.Fprintf(&b, "- Messages: %d\n", len(messages))
	fmt.Fprintf(&b, "- Votes cast: %d\n\n", len(votes))

	if finalDocument != "" {
		b.WriteString("## Final Result Document\n\n")
		b.WriteString(finalDocument)
		b.WriteString("\n\n")
	}

	if len(approvals) > 0 {
		b.WriteString("## Approvals\n\n")
		b.WriteString("| Agent | Score | Pass | Rationale |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, a := range approvals {
			fmt.Fprintf(&b, "| %s | %d | %t | %s |\n", a.AgentID, a.Score, a.Pass, a.Rationale)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Discussion Transcript\n\n")
	for _, msg := range messages {
		fmt.Fprintf(&b, "**%s** (round %d): %s\n\n", speakerLabel(msg), msg.Meta.Round, msg.Content)
	}

	return b.String()
}

func statusLabel(accepted bool, reason string) string {
	if accepted {
		return "ACCEPTED"
	}
	return "ABORTED: " + reason
}

func speakerLabel(m *domain.Message) string {
	switch m.Role {
	case domain.RoleAgent:
		return string(m.AgentID)
	case domain.RoleSystem:
		return string(m.SystemID)
	default:
		return "user"
	}
}
