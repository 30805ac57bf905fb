// Package threshold implements the pure Threshold Evaluator (spec §4.5):
// a decision on whether an aggregated vote session meets the accept
// rule. It has no dependency on the Store, the Gateway, or the clock.
package threshold

import (
	"fmt"

	"github.com/farumcollective/convene/internal/domain"
)

// Evaluator implements domain.ThresholdEvaluator.
type Evaluator struct{}

func New() Evaluator { return Evaluator{} }

// Evaluate is pure: same (cfg, round, agg) always yields the same
// verdict (spec §8's round-trip law).
func (Evaluator) Evaluate(cfg domain.ThresholdConfig, round int, agg domain.VoteAggregation) domain.ThresholdVerdict {
	if round < cfg.MinRounds {
		return domain.ThresholdVerdict{Accepted: false, Reason: "min rounds not reached"}
	}

	switch cfg.Mode {
	case domain.ThresholdAvgScore, "":
		if agg.AvgScore >= cfg.AvgScoreThreshold {
			return domain.ThresholdVerdict{
				Accepted: true,
				Reason:   fmt.Sprintf("avg_score %d >= threshold %d", agg.AvgScore, cfg.AvgScoreThreshold),
			}
		}
		return domain.ThresholdVerdict{
			Accepted: false,
			Reason:   fmt.Sprintf("avg_score %d < threshold %d", agg.AvgScore, cfg.AvgScoreThreshold),
		}
	default:
		return domain.ThresholdVerdict{Accepted: false, Reason: fmt.Sprintf("unknown threshold mode %q", cfg.Mode)}
	}
}
