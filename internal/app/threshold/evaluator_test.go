package threshold_test

import (
	"testing"

	"github.com/farumcollective/convene/internal/app/threshold"
	"github.com/farumcollective/convene/internal/domain"
)

func cfg() domain.ThresholdConfig {
	return domain.ThresholdConfig{
		Mode:              domain.ThresholdAvgScore,
		AvgScoreThreshold: 80,
		MinRounds:         2,
		MaxRounds:         8,
	}
}

func TestEvaluate_MinRoundsNotReached(t *testing.T) {
	ev := threshold.New()
	verdict := ev.Evaluate(cfg(), 1, domain.VoteAggregation{AvgScore: 95})
	if verdict.Accepted {
		t.Fatalf("expected rejection before min_rounds, got accepted")
	}
}

func TestEvaluate_AcceptsAtThreshold(t *testing.T) {
	ev := threshold.New()
	verdict := ev.Evaluate(cfg(), 2, domain.VoteAggregation{AvgScore: 80})
	if !verdict.Accepted {
		t.Fatalf("expected acceptance at exactly threshold, got rejected: %s", verdict.Reason)
	}
}

func TestEvaluate_RejectsBelowThreshold(t *testing.T) {
	ev := threshold.New()
	verdict := ev.Evaluate(cfg(), 2, domain.VoteAggregation{AvgScore: 79})
	if verdict.Accepted {
		t.Fatalf("expected rejection below threshold, got accepted")
	}
}

func TestEvaluate_UnknownModeRejects(t *testing.T) {
	ev := threshold.New()
	c := cfg()
	c.Mode = "quorum"
	verdict := ev.Evaluate(c, 5, domain.VoteAggregation{AvgScore: 100})
	if verdict.Accepted {
		t.Fatalf("expected unknown mode to reject")
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	ev := threshold.New()
	a := ev.Evaluate(cfg(), 3, domain.VoteAggregation{AvgScore: 85})
	b := ev.Evaluate(cfg(), 3, domain.VoteAggregation{AvgScore: 85})
	if a != b {
		t.Fatalf("expected identical verdicts for identical inputs, got %+v vs %+v", a, b)
	}
}
