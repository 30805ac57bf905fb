package meeting

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/farumcollective/convene/internal/domain"
)

// agentCallResult captures one Agent's outcome from a fanned-out Gateway
// call. Callers always get one slot per agent regardless of success or
// failure — "await all-settled, never all-or-nothing" (spec §5).
type agentCallResult struct {
	Agent    domain.AgentConfig
	Response domain.GenerateResponse
	Err      error
}

// dispatchAgents runs one Gateway call per agent concurrently via
// errgroup.WithContext, the idiomatic structured-concurrency vehicle for
// this fan-out (spec_full §5). Each goroutine recovers its own error into
// its result slot instead of returning it to the group, so one agent's
// failure never cancels the others or aborts the collection — the group's
// own Wait() error is always nil by construction.
func dispatchAgents(
	ctx context.Context,
	gateway domain.Gateway,
	agents []domain.AgentConfig,
	buildRequest func(domain.AgentConfig) domain.GenerateRequest,
) []agentCallResult {
	results := make([]agentCallResult, len(agents))
	g, gctx := errgroup.WithContext(ctx)

	for i, agent := range agents {
		i, agent := i, agent
		g.Go(func() error {
			resp, err := gateway.GenerateText(gctx, buildRequest(agent))
			results[i] = agentCallResult{Agent: agent, Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
