package llm

import (
	"context"

	"github.com/farumcollective/convene/internal/domain"
)

// FallbackGateway wraps a Gateway and layers the orchestrator's mock
// fallback around discussion and vote calls (spec §4.6/§7): a
// recoverable upstream error triggers one retry against
// provider_id="mock", model="mock-default", and the response's
// ProviderRequestID is rewritten to record the substitution. A
// non-recoverable error propagates unchanged, as does a second mock
// failure (which should not happen, since the mock never errors except
// on a cancelled context).
type FallbackGateway struct {
	inner domain.Gateway
	mock  domain.Gateway
}

func NewFallbackGateway(inner, mock domain.Gateway) *FallbackGateway {
	return &FallbackGateway{inner: inner, mock: mock}
}

func (g *FallbackGateway) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	resp, err := g.inner.GenerateText(ctx, req)
	if err == nil {
		return resp, nil
	}
	if err == domain.ErrCancelled {
		return domain.GenerateResponse{}, err
	}
	if Classify(err) != RecoverableUpstream {
		return domain.GenerateResponse{}, err
	}

	fallbackReq := req
	fallbackReq.ProviderID = "mock"
	fallbackReq.Model = "mock-default"

	resp, mockErr := g.mock.GenerateText(ctx, fallbackReq)
	if mockErr != nil {
		return domain.GenerateResponse{}, mockErr
	}
	resp.ProviderRequestID = "fallback:" + req.ProviderID + "->mock"
	return resp, nil
}
