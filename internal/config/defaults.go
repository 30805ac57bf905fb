package config

import "github.com/farumcollective/convene/internal/domain"

// ApplyMeetingDefaults fills the zero-valued fields of cfg with the
// defaults spec §3 names, without overwriting any non-zero value the
// caller set. An explicit zero (for example MinRounds 0) cannot be told
// apart from an omitted field and is replaced too. It never mutates
// cfg.Agents.
func ApplyMeetingDefaults(cfg domain.MeetingConfig) domain.MeetingConfig {
	if cfg.Discussion.Mode == "" {
		cfg.Discussion.Mode = domain.DiscussionAuto
	}
	if cfg.Discussion.AutoParallelMinAgents == 0 {
		cfg.Discussion.AutoParallelMinAgents = 6
	}
	if cfg.Discussion.CrossReplyTargetsPerAgent == 0 {
		cfg.Discussion.CrossReplyTargetsPerAgent = 2
	}
	if cfg.Discussion.RollingSummaryMaxChars == 0 {
		cfg.Discussion.RollingSummaryMaxChars = 1500
	}

	if cfg.Facilitator.Temperature == 0 {
		cfg.Facilitator.Temperature = 0.2
	}
	if cfg.Facilitator.TimeoutMS == 0 {
		cfg.Facilitator.TimeoutMS = 90_000
	}

	if cfg.Threshold.Mode == "" {
		cfg.Threshold.Mode = domain.ThresholdAvgScore
	}
	if cfg.Threshold.AvgScoreThreshold == 0 {
		cfg.Threshold.AvgScoreThreshold = 80
	}
	if cfg.Threshold.MinRounds == 0 {
		cfg.Threshold.MinRounds = 2
	}
	if cfg.Threshold.MaxRounds == 0 {
		cfg.Threshold.MaxRounds = 8
	}
	if cfg.Threshold.VoteTimeoutMS == 0 {
		cfg.Threshold.VoteTimeoutMS = 15_000
	}

	if cfg.Output.Format == "" {
		cfg.Output.Format = domain.OutputBoth
	}

	return cfg
}
