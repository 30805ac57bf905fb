package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/farumcollective/convene/internal/domain"
)

// VertexProvider implements domain.Gateway against Vertex AI (Gemini),
// generalized from the teacher's VertexClient: instead of a hardcoded
// system prompt and conversation shape, it builds its []genai.Content
// from whatever []domain.ChatMessage the caller's GenerateRequest carries.
type VertexProvider struct {
	client       *genai.Client
	defaultModel string
}

func newTextContent(text, role string) *genai.Content {
	return &genai.Content{
		Parts: []*genai.Part{genai.NewPartFromText(text)},
		Role:  role,
	}
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func NewVertexProvider(ctx context.Context, projectID, location, defaultModel string) (*VertexProvider, error) {
	if projectID == "" || location == "" {
		return nil, fmt.Errorf("vertex provider: project and location must be set")
	}
	if defaultModel == "" {
		defaultModel = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexProvider{client: client, defaultModel: defaultModel}, nil
}

func (v *VertexProvider) GenerateText(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	model := req.Model
	if model == "" {
		model = v.defaultModel
	}

	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	var systemPrompt string
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case domain.RoleAgent:
			contents = append(contents, newTextContent(m.Content, "model"))
		default:
			contents = append(contents, newTextContent(m.Content, "user"))
		}
	}

	temp := float64(req.Temperature)
	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = 2048
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: &maxTokens,
	}
	if systemPrompt != "" {
		cfg.SystemInstruction = newTextContent(systemPrompt, "user")
	}
	if req.ResponseFormat == domain.ResponseFormatJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	res, err := v.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return domain.GenerateResponse{}, domain.ErrCancelled
		}
		return domain.GenerateResponse{}, fmt.Errorf("vertex generate content: %w", err)
	}

	text, err := res.Text()
	if err != nil {
		return domain.GenerateResponse{}, fmt.Errorf("vertex generate content: %w", err)
	}
	if text == "" {
		return domain.GenerateResponse{}, fmt.Errorf("vertex returned empty text")
	}

	var usage *domain.TokenUsage
	if res.UsageMetadata != nil {
		usage = &domain.TokenUsage{
			PromptTokens:     int(derefInt64(res.UsageMetadata.PromptTokenCount)),
			CompletionTokens: int(derefInt64(res.UsageMetadata.CandidatesTokenCount)),
		}
	}

	return domain.GenerateResponse{
		Text:  text,
		Usage: usage,
		Raw:   res,
	}, nil
}
