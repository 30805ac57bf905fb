package domain

// Meeting is the aggregate root the orchestrator drives (spec §3).
//
// Invariant: State moves only through the transitions of spec §4.1.
// StageVersion never decreases. Once a FINISHED_* state is entered, no
// field other than Result is rewritten.
type Meeting struct {
	ID                      MeetingID
	Topic                   string
	State                   MeetingState
	Round                   int
	StageVersion            int
	EffectiveDiscussionMode DiscussionMode // empty until Start resolves it
	ActiveVoteSessionID     VoteSessionID  // empty when no vote is running
	Result                  *MeetingResult
	Config                  MeetingConfig
	CreatedAt               Timestamp
	UpdatedAt               Timestamp
}

// MeetingResult is written exactly once, when a Meeting enters a
// FINISHED_* state.
type MeetingResult struct {
	Accepted      bool
	ConcludedAt   Timestamp
	Reason        string
	ReportMD      string
	SummaryJSON   ResultSummary
}

// ResultSummary is the structured counterpart of ReportMD (spec §7:
// "every terminal state writes a result with ... a structured summary
// payload that includes vote and message counts and the latest draft").
type ResultSummary struct {
	MessageCount      int                  `json:"message_count"`
	VoteCount         int                  `json:"vote_count"`
	FinalDocumentMD   string               `json:"final_document_md,omitempty"`
	Approvals         []ApprovalSummary    `json:"approvals,omitempty"`
}

// ApprovalSummary records one reviewer's final-document verdict.
type ApprovalSummary struct {
	AgentID   AgentID `json:"agent_id"`
	Score     int     `json:"score"`
	Pass      bool    `json:"pass"`
	Rationale string  `json:"rationale,omitempty"`
}

// AgentConfig configures one Agent participant within a meeting (spec §3).
type AgentConfig struct {
	ID              AgentID
	DisplayName     string
	Provider        string
	Model           string
	SystemPrompt    string
	Temperature     float64
	MaxOutputTokens int
	Enabled         bool
}

// DiscussionConfig controls discussion-round shape (spec §3).
type DiscussionConfig struct {
	Mode                      DiscussionMode
	AutoParallelMinAgents     int
	CrossReplyTargetsPerAgent int
	RollingSummaryEnabled     bool
	RollingSummaryMaxChars    int
}

// FacilitatorConfig controls the Facilitator pass (spec §3/§4.1).
type FacilitatorConfig struct {
	Enabled         bool
	Provider        string // optional override; empty = facilitator uses first enabled agent's provider
	Model           string
	Temperature     float64
	TimeoutMS       int
}

// ThresholdConfig controls the Threshold Evaluator (spec §3/§4.5).
type ThresholdConfig struct {
	Mode             ThresholdMode
	AvgScoreThreshold int
	MinRounds        int
	MaxRounds        int
	VoteTimeoutMS    int
}

// OutputConfig controls which result artifacts are produced.
type OutputConfig struct {
	Format OutputFormat
}

// MeetingConfig is the frozen configuration a Meeting is created with
// (spec §3). Defaults are applied by config.ApplyMeetingDefaults, never by the
// orchestrator itself.
type MeetingConfig struct {
	Agents      []AgentConfig
	Discussion  DiscussionConfig
	Facilitator FacilitatorConfig
	Threshold   ThresholdConfig
	Output      OutputConfig
}

// EnabledAgents returns Agents with Enabled == true, preserving config order.
func (c MeetingConfig) EnabledAgents() []AgentConfig {
	out := make([]AgentConfig, 0, len(c.Agents))
	for _, a := range c.Agents {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out
}
