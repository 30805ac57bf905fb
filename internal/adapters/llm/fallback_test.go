package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/farumcollective/convene/internal/adapters/llm"
	"github.com/farumcollective/convene/internal/domain"
)

type erroringProvider struct {
	err error
}

func (p erroringProvider) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	return domain.GenerateResponse{}, p.err
}

type fixedProvider struct {
	resp domain.GenerateResponse
}

func (p fixedProvider) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	return p.resp, nil
}

func TestFallbackGateway_RetriesRecoverableErrorAgainstMock(t *testing.T) {
	inner := erroringProvider{err: context.DeadlineExceeded}
	mock := fixedProvider{resp: domain.GenerateResponse{Text: "mock said hi"}}

	gw := llm.NewFallbackGateway(inner, mock)
	resp, err := gw.GenerateText(context.Background(), domain.GenerateRequest{ProviderID: "openai", Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("expected fallback success, got error: %v", err)
	}
	if resp.Text != "mock said hi" {
		t.Fatalf("expected mock's response, got %q", resp.Text)
	}
	if resp.ProviderRequestID != "fallback:openai->mock" {
		t.Fatalf("expected provider_request_id to record the fallback, got %q", resp.ProviderRequestID)
	}
}

func TestFallbackGateway_PropagatesNonRecoverableErrorUnchanged(t *testing.T) {
	wantErr := errors.New("invalid api key")
	inner := erroringProvider{err: wantErr}
	mock := fixedProvider{}

	gw := llm.NewFallbackGateway(inner, mock)
	_, err := gw.GenerateText(context.Background(), domain.GenerateRequest{ProviderID: "openai", Model: "gpt-4o"})
	if err != wantErr {
		t.Fatalf("expected non-recoverable error to propagate unchanged, got %v", err)
	}
}

func TestFallbackGateway_PropagatesCancellationWithoutFallback(t *testing.T) {
	inner := erroringProvider{err: domain.ErrCancelled}
	mock := fixedProvider{resp: domain.GenerateResponse{Text: "should not be used"}}

	gw := llm.NewFallbackGateway(inner, mock)
	_, err := gw.GenerateText(context.Background(), domain.GenerateRequest{})
	if err != domain.ErrCancelled {
		t.Fatalf("expected ErrCancelled to propagate without falling back, got %v", err)
	}
}

func TestFallbackGateway_PassesThroughSuccessUnmodified(t *testing.T) {
	inner := fixedProvider{resp: domain.GenerateResponse{Text: "direct success"}}
	mock := fixedProvider{}

	gw := llm.NewFallbackGateway(inner, mock)
	resp, err := gw.GenerateText(context.Background(), domain.GenerateRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "direct success" {
		t.Fatalf("expected direct success response, got %q", resp.Text)
	}
}
