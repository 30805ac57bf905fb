package domain

// Vote is one Agent's verdict on a proposal, cast within a VoteSession
// (spec §3).
//
// Invariant: a Vote is persisted only if the current Meeting's
// StageVersion equals the Vote's StageVersion at persistence time.
type Vote struct {
	ID            VoteID
	MeetingID     MeetingID
	VoteSessionID VoteSessionID
	VoterAgentID  AgentID
	Score         int // [0,100]
	Pass          bool
	Rationale     string
	StageVersion  int
	CreatedAt     Timestamp
}

// VoteSession is a bounded set of vote calls over a single proposal
// text at a single stage-version (spec §3).
type VoteSession struct {
	ID                    VoteSessionID
	MeetingID             MeetingID
	Round                 int
	StageVersion          int
	ProposalText          string
	Status                VoteSessionStatus
	StartedAt             Timestamp
	EndedAt               *Timestamp
	ExpectedVoterAgentIDs []AgentID
}

// VoteAggregation is the pure summary of the votes that actually landed
// in a VoteSession, as consumed by the Threshold Evaluator (spec §4.5).
type VoteAggregation struct {
	Votes    []Vote
	AvgScore int
	MinScore int
	MaxScore int
}

// Aggregate computes a VoteAggregation over persisted votes only.
// Votes with no arriving responses are excluded from the mean by
// construction: callers pass only the votes that landed.
func Aggregate(votes []Vote) VoteAggregation {
	agg := VoteAggregation{Votes: votes}
	if len(votes) == 0 {
		return agg
	}
	sum, min, max := 0, votes[0].Score, votes[0].Score
	for _, v := range votes {
		sum += v.Score
		if v.Score < min {
			min = v.Score
		}
		if v.Score > max {
			max = v.Score
		}
	}
	// round(mean), ties away from zero — matches spec §4.5 "integer-rounded".
	mean := float64(sum) / float64(len(votes))
	agg.AvgScore = int(mean + 0.5)
	agg.MinScore = min
	agg.MaxScore = max
	return agg
}

// ThresholdVerdict is the pure output of the Threshold Evaluator.
type ThresholdVerdict struct {
	Accepted bool
	Reason   string
}
