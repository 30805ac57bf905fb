// Package llm holds the LLM Gateway's concrete providers and the virtual
// "auto" router in front of them (spec §4.6, spec_full §4.8).
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/farumcollective/convene/internal/domain"
)

// Router implements domain.Gateway by dispatching to a named provider,
// resolving the virtual "auto" provider id by the requested model's
// prefix (spec §4.6).
type Router struct {
	providers map[string]domain.Gateway
}

func NewRouter(providers map[string]domain.Gateway) *Router {
	return &Router{providers: providers}
}

func (r *Router) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	providerID := req.ProviderID
	if providerID == "auto" || providerID == "" {
		providerID = resolveAutoProvider(req.Model)
	}

	provider, ok := r.providers[providerID]
	if !ok {
		return domain.GenerateResponse{}, fmt.Errorf("llm gateway: unknown provider %q", providerID)
	}

	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	return provider.GenerateText(ctx, req)
}

// resolveAutoProvider implements spec §4.6's model-id prefix routing table.
func resolveAutoProvider(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gemini"):
		return "vertex"
	case strings.HasPrefix(model, "mock"):
		return "mock"
	default:
		return "mock"
	}
}

// RecoverableKind classifies a Gateway error per spec §7's table.
type RecoverableKind string

const (
	RecoverableUpstream RecoverableKind = "recoverable_upstream"
	NonRecoverable      RecoverableKind = "non_recoverable"
)

// Classify implements the pure classification function spec_full §7
// names: HTTP 408/409/425/429/5xx, malformed provider JSON, a network
// reset, or a deadline are recoverable; everything else (auth,
// validation, unknown provider) is not.
func Classify(err error) RecoverableKind {
	if err == nil {
		return NonRecoverable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return RecoverableUpstream
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return RecoverableUpstream
	}

	var upstream *upstreamError
	if errors.As(err, &upstream) {
		if upstream.malformedJSON {
			return RecoverableUpstream
		}
		switch upstream.statusCode {
		case 408, 409, 425, 429:
			return RecoverableUpstream
		}
		if upstream.statusCode >= 500 {
			return RecoverableUpstream
		}
		return NonRecoverable
	}

	return NonRecoverable
}
