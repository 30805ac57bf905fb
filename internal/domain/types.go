package domain

import "time"

// Timestamp aliases time.Time the way the rest of the domain expects it:
// always UTC, serialized as RFC3339 by the adapters.
type Timestamp = time.Time

type MeetingID string
type AgentID string
type MessageID string
type VoteID string
type VoteSessionID string
type EventID int64

// MeetingState is the state-machine position of a Meeting (spec §4.1).
type MeetingState string

const (
	StateDraft             MeetingState = "DRAFT"
	StateRunningDiscussion MeetingState = "RUNNING_DISCUSSION"
	StateRunningVote       MeetingState = "RUNNING_VOTE"
	StateFinishedAccepted  MeetingState = "FINISHED_ACCEPTED"
	StateFinishedAborted   MeetingState = "FINISHED_ABORTED"
)

// DiscussionMode selects how a discussion round is driven.
type DiscussionMode string

const (
	DiscussionAuto          DiscussionMode = "auto"
	DiscussionSerialTurn    DiscussionMode = "serial_turn"
	DiscussionParallelRound DiscussionMode = "parallel_round"
)

// MessageRole identifies the speaker kind of a Message.
type MessageRole string

const (
	RoleUser   MessageRole = "user"
	RoleAgent  MessageRole = "agent"
	RoleSystem MessageRole = "system"
)

// SystemSpeaker identifies which system component authored a system Message.
type SystemSpeaker string

const (
	SystemFacilitator  SystemSpeaker = "facilitator"
	SystemOrchestrator SystemSpeaker = "orchestrator"
)

// VoteSessionStatus is the lifecycle state of a VoteSession (spec §3).
type VoteSessionStatus string

const (
	VoteSessionRunning    VoteSessionStatus = "RUNNING"
	VoteSessionFinalized  VoteSessionStatus = "FINALIZED"
	VoteSessionAborted    VoteSessionStatus = "ABORTED"
	VoteSessionIncomplete VoteSessionStatus = "INCOMPLETE"
)

// ThresholdMode selects the Threshold Evaluator's decision rule.
type ThresholdMode string

const (
	ThresholdAvgScore ThresholdMode = "avg_score"
)

// OutputFormat selects which artifacts the Report Builder emits.
type OutputFormat string

const (
	OutputMarkdown OutputFormat = "markdown"
	OutputJSON     OutputFormat = "json"
	OutputBoth     OutputFormat = "both"
)

// VoteSessionKind distinguishes the two vote-session phases of §4.2 for
// event payloads and logging; it is not part of the persisted VoteSession
// identity.
type VoteSessionKind string

const (
	VoteKindProposal VoteSessionKind = "proposal"
	VoteKindApproval VoteSessionKind = "approval"
)

// ErrorEventCode enumerates the `error` event codes of spec §6/§7.
type ErrorEventCode string

const (
	ErrCodeAgentError          ErrorEventCode = "AGENT_ERROR"
	ErrCodeRunnerError         ErrorEventCode = "RUNNER_ERROR"
	ErrCodeDiscussionEmptySkip ErrorEventCode = "DISCUSSION_EMPTY_SKIP_VOTE"
)
