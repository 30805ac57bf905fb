package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/farumcollective/convene/internal/domain"
)

// HTTPProvider is a minimal chat-completion REST client for
// OpenAI/Anthropic-compatible APIs (spec_full §4.8). Neither vendor's Go
// SDK appears anywhere in the retrieval pack, so this follows the
// corpus's own practice of hand-rolling net/http + encoding/json clients
// rather than importing a dependency nothing in the pack reaches for.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	authHeader string
	httpClient *http.Client
}

func NewHTTPProvider(baseURL, apiKey, authHeader string) *HTTPProvider {
	if authHeader == "" {
		authHeader = "Authorization"
	}
	return &HTTPProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		authHeader: authHeader,
		httpClient: &http.Client{},
	}
}

type httpChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type httpChatRequest struct {
	Model       string             `json:"model"`
	Messages    []httpChatMessage  `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

type httpChatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message httpChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (p *HTTPProvider) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	body := httpChatRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		role := "user"
		switch m.Role {
		case domain.RoleSystem:
			role = "system"
		case domain.RoleAgent:
			role = "assistant"
		}
		body.Messages = append(body.Messages, httpChatMessage{Role: role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return domain.GenerateResponse{}, fmt.Errorf("http provider: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return domain.GenerateResponse{}, fmt.Errorf("http provider: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(p.authHeader, p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return domain.GenerateResponse{}, domain.ErrCancelled
		}
		return domain.GenerateResponse{}, &upstreamError{cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GenerateResponse{}, fmt.Errorf("http provider: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return domain.GenerateResponse{}, &upstreamError{statusCode: resp.StatusCode, body: string(respBody)}
	}

	var parsed httpChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return domain.GenerateResponse{}, &upstreamError{malformedJSON: true, cause: err}
	}
	if len(parsed.Choices) == 0 {
		return domain.GenerateResponse{}, &upstreamError{malformedJSON: true}
	}

	return domain.GenerateResponse{
		Text:              parsed.Choices[0].Message.Content,
		ProviderRequestID: parsed.ID,
		Usage: &domain.TokenUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
		Raw: parsed,
	}, nil
}

// upstreamError carries enough shape for Classify to tell a recoverable
// upstream failure (§7's table: 408/409/425/429/5xx, malformed JSON,
// network reset) from a non-recoverable one (auth, validation).
type upstreamError struct {
	statusCode    int
	malformedJSON bool
	body          string
	cause         error
}

func (e *upstreamError) Error() string {
	switch {
	case e.malformedJSON:
		return fmt.Sprintf("http provider: malformed response body: %v", e.cause)
	case e.statusCode != 0:
		return fmt.Sprintf("http provider: upstream status %d: %s", e.statusCode, e.body)
	default:
		return fmt.Sprintf("http provider: request failed: %v", e.cause)
	}
}

func (e *upstreamError) Unwrap() error { return e.cause }
