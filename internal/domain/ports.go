package domain

import "context"

// Store is the persistence + per-meeting mutual-exclusion + event-log
// contract the orchestrator depends on (spec §6). Implementations:
// internal/adapters/storage/memory, internal/adapters/storage/firestore.
type Store interface {
	// WithMeetingLock runs fn while holding the per-meeting lock for id.
	// Fairness is not required; reentrancy is not required.
	WithMeetingLock(ctx context.Context, id MeetingID, fn func(ctx context.Context) error) error

	CreateMeeting(ctx context.Context, topic string, cfg MeetingConfig) (*Meeting, error)
	GetMeeting(ctx context.Context, id MeetingID) (*Meeting, error)
	ListMeetings(ctx context.Context, limit int, cursor string) ([]*Meeting, string, error)
	// UpdateMeeting applies patch to the stored Meeting. Applying the same
	// patch twice is equivalent to applying it once.
	UpdateMeeting(ctx context.Context, id MeetingID, patch MeetingPatch) error

	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, meetingID MeetingID, limit int, afterMessageID MessageID) ([]*Message, error)

	CreateVoteSession(ctx context.Context, vs *VoteSession) error
	GetVoteSession(ctx context.Context, meetingID MeetingID, id VoteSessionID) (*VoteSession, error)
	FinalizeVoteSession(ctx context.Context, meetingID MeetingID, id VoteSessionID, status VoteSessionStatus, endedAt Timestamp) error

	// AppendVote persists v only if v.StageVersion equals the current
	// Meeting's StageVersion; returns ErrStaleVote otherwise (spec §3,
	// invariant 2 of spec §8).
	AppendVote(ctx context.Context, v *Vote) error
	ListVotes(ctx context.Context, meetingID MeetingID, voteSessionID VoteSessionID) ([]Vote, error)

	AppendEvent(ctx context.Context, e EventDraft) (*Event, error)
	ListEvents(ctx context.Context, meetingID MeetingID, after EventID, limit int) ([]Event, error)
}

// MeetingPatch is the restricted set of Meeting fields UpdateMeeting may
// rewrite (spec §6). Nil/zero-value pointer fields are left untouched.
type MeetingPatch struct {
	State                   *MeetingState
	Round                   *int
	StageVersion            *int
	EffectiveDiscussionMode *DiscussionMode
	ActiveVoteSessionID     *VoteSessionID
	Result                  *MeetingResult
	UpdatedAt               *Timestamp
}

// EventDraft is an Event before the Store assigns it a monotone ID.
type EventDraft struct {
	MeetingID MeetingID
	At        Timestamp
	Type      EventType
	Payload   any
}

// EventEmitter is the orchestrator's view of the Event Bus: appending an
// event to the Store and fanning it out to live subscribers are one
// atomic-from-the-caller's-perspective operation (spec §2, §6).
type EventEmitter interface {
	Emit(ctx context.Context, meetingID MeetingID, typ EventType, payload any) (Event, error)
}

// EventSubscriber is the consumer-facing view of the Event Bus (spec §6's
// "Replay semantics": a subscriber backfills via ListEvents(after=cursor)
// then switches to the live channel).
type EventSubscriber interface {
	Subscribe(meetingID MeetingID) (<-chan Event, func())
}

// EventBus combines both views; internal/app/eventbus.Bus implements it.
type EventBus interface {
	EventEmitter
	EventSubscriber
}

// Gateway is the unified LLM text-generation contract every provider
// implements (spec §4.6).
type Gateway interface {
	GenerateText(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// ResponseFormat constrains how the provider should shape its output.
type ResponseFormat string

const (
	ResponseFormatText ResponseFormat = "text"
	ResponseFormatJSON ResponseFormat = "json_object"
)

// ChatMessage is one turn in a Gateway call's message list.
type ChatMessage struct {
	Role    MessageRole // RoleSystem, RoleUser, or RoleAgent (assistant)
	Content string
}

// GenerateRequest is the Gateway's single operation's input (spec §4.6).
type GenerateRequest struct {
	ProviderID     string
	Model          string
	Messages       []ChatMessage
	Temperature    float64
	MaxTokens      int
	TimeoutMS      int
	ResponseFormat ResponseFormat
	Metadata       map[string]string
}

// GenerateResponse is the Gateway's single operation's output.
type GenerateResponse struct {
	Text              string
	Usage             *TokenUsage
	ProviderRequestID string
	Raw               any
}

// Facilitator produces a structured round summary from discussion
// context (spec §4.1, §4.4).
type Facilitator interface {
	Summarize(ctx context.Context, in FacilitatorInput) (FacilitatorOutput, error)
}

// FacilitatorInput is everything the Facilitator Service needs to build
// its prompt and call the Gateway.
type FacilitatorInput struct {
	Topic          string
	Round          int
	RollingSummary string
	RecentMessages []Message
	ProposalDraft  string
	Provider       string
	Model          string
	Temperature    float64
	TimeoutMS      int
}

// ThresholdEvaluator is the pure accept/reject decision over an
// aggregated vote session (spec §4.5).
type ThresholdEvaluator interface {
	Evaluate(cfg ThresholdConfig, round int, agg VoteAggregation) ThresholdVerdict
}
