package domain

import "errors"

var (
	// ErrStaleVote is returned by Store.AppendVote when the vote's
	// stage-version no longer matches the meeting's (spec §3 invariant).
	ErrStaleVote = errors.New("vote stage_version is stale")

	// ErrMeetingNotFound is returned by Store.GetMeeting and friends.
	ErrMeetingNotFound = errors.New("meeting not found")

	// ErrVoteSessionNotFound is returned by Store.GetVoteSession.
	ErrVoteSessionNotFound = errors.New("vote session not found")

	// ErrInvalidConfig is returned at the creation boundary for a
	// MeetingConfig that fails validation (spec §7's "Configuration /
	// validation" taxonomy entry).
	ErrInvalidConfig = errors.New("invalid meeting config")

	// ErrCancelled distinguishes cooperative cancellation from a normal
	// Agent/Gateway failure (spec §5, §7).
	ErrCancelled = errors.New("operation cancelled")
)
