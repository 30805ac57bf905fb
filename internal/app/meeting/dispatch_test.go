package meeting

import (
	"context"
	"errors"
	"testing"

	"github.com/farumcollective/convene/internal/domain"
)

// failingModelGateway fails any call whose requested Model is in failModels
// and otherwise echoes the Model back as the response text. Tests encode
// the agent under test into the request's Model field via buildRequest,
// since GenerateRequest carries no agent identity of its own.
type failingModelGateway struct {
	failModels map[string]error
}

func (g *failingModelGateway) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	if err, ok := g.failModels[req.Model]; ok {
		return domain.GenerateResponse{}, err
	}
	return domain.GenerateResponse{Text: req.Model}, nil
}

func TestDispatchAgents_AllSettled_OneSlotPerAgentRegardlessOfFailure(t *testing.T) {
	agents := []domain.AgentConfig{
		{ID: "a1", Provider: "mock", Model: "model-a1"},
		{ID: "a2", Provider: "mock", Model: "model-a2"},
		{ID: "a3", Provider: "mock", Model: "model-a3"},
	}
	gw := &failingModelGateway{failModels: map[string]error{"model-a2": errors.New("boom")}}

	results := dispatchAgents(context.Background(), gw, agents, func(a domain.AgentConfig) domain.GenerateRequest {
		return domain.GenerateRequest{ProviderID: a.Provider, Model: a.Model}
	})

	if len(results) != len(agents) {
		t.Fatalf("expected one result slot per agent, got %d", len(results))
	}

	var failed, succeeded int
	for i, r := range results {
		if r.Agent.ID != agents[i].ID {
			t.Fatalf("expected result %d to correspond to agent %s, got %s", i, agents[i].ID, r.Agent.ID)
		}
		if r.Err != nil {
			failed++
			continue
		}
		succeeded++
		if r.Response.Text != agents[i].Model {
			t.Fatalf("expected successful response text %q, got %q", agents[i].Model, r.Response.Text)
		}
	}
	if failed != 1 || succeeded != 2 {
		t.Fatalf("expected exactly one failure and two successes, got failed=%d succeeded=%d", failed, succeeded)
	}
}

func TestDispatchAgents_EmptyAgentList(t *testing.T) {
	gw := &failingModelGateway{}
	results := dispatchAgents(context.Background(), gw, nil, func(a domain.AgentConfig) domain.GenerateRequest {
		return domain.GenerateRequest{}
	})
	if len(results) != 0 {
		t.Fatalf("expected zero results for an empty agent list, got %d", len(results))
	}
}
