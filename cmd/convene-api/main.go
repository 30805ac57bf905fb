// convene-api is the process composition root (spec_full §9): it reads
// Config, wires one Gateway, one Store, and the Facilitator/Threshold
// Evaluator/Event Bus the Runtime Binder needs, resumes in-flight
// meetings, and serves the HTTP transport. Grounded in the teacher's own
// cmd/farum-api/main.go env-var-driven wiring.
package main

import (
	"context"
	"log"
	"net/http"

	httpadapter "github.com/farumcollective/convene/internal/adapters/http"
	"github.com/farumcollective/convene/internal/adapters/llm"
	firestorestore "github.com/farumcollective/convene/internal/adapters/storage/firestore"
	memstore "github.com/farumcollective/convene/internal/adapters/storage/memory"
	"github.com/farumcollective/convene/internal/app/eventbus"
	"github.com/farumcollective/convene/internal/app/facilitator"
	"github.com/farumcollective/convene/internal/app/runtime"
	"github.com/farumcollective/convene/internal/app/threshold"
	"github.com/farumcollective/convene/internal/config"
	"github.com/farumcollective/convene/internal/domain"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	gateway := buildGateway(ctx, cfg)
	store := buildStore(ctx, cfg)

	var template *domain.MeetingConfig
	if cfg.AgentsFile != "" {
		tpl, err := config.LoadAgentsFile(cfg.AgentsFile)
		if err != nil {
			log.Fatalf("error loading agents file %q: %v", cfg.AgentsFile, err)
		}
		template = &tpl
	}

	bus := eventbus.New(store)
	fac := facilitator.New(gateway)
	thr := threshold.New()

	binder := runtime.New(store, gateway, fac, thr, bus, template)
	if err := binder.ResumeAll(ctx); err != nil {
		log.Fatalf("error resuming in-flight meetings: %v", err)
	}

	handler := httpadapter.NewServer(binder)

	addr := ":" + cfg.Port
	log.Println("convene-api listening on", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatal(err)
	}
}

func buildGateway(ctx context.Context, cfg *config.Config) domain.Gateway {
	mock := llm.NewMockProvider()

	if cfg.UseMockLLM {
		log.Println("[LLM] using mock gateway")
		return mock
	}

	vertex, err := llm.NewVertexProvider(ctx, cfg.GCPProjectID, cfg.GCPLocation, cfg.ModelName)
	if err != nil {
		log.Fatalf("error initializing Vertex provider: %v", err)
	}

	providers := map[string]domain.Gateway{
		"vertex": vertex,
		"mock":   mock,
	}
	if cfg.OpenAIAPIKey != "" {
		providers["openai"] = llm.NewHTTPProvider("https://api.openai.com/v1/chat/completions", cfg.OpenAIAPIKey, "Authorization")
	}
	if cfg.AnthropicAPIKey != "" {
		providers["anthropic"] = llm.NewHTTPProvider("https://api.anthropic.com/v1/messages", cfg.AnthropicAPIKey, "x-api-key")
	}

	router := llm.NewRouter(providers)
	log.Println("[LLM] using Vertex gateway (project=" + cfg.GCPProjectID + "), mock as fallback")
	return llm.NewFallbackGateway(router, mock)
}

func buildStore(ctx context.Context, cfg *config.Config) domain.Store {
	switch cfg.StorageBackend {
	case "firestore":
		if cfg.GCPProjectID == "" {
			log.Fatal("CONVENE_GCP_PROJECT is required for the firestore storage backend")
		}
		log.Printf("[STORE] using Firestore storage (project=%s)", cfg.GCPProjectID)
		fsStore, err := firestorestore.NewStore(ctx, cfg.GCPProjectID)
		if err != nil {
			log.Fatalf("error initializing Firestore store: %v", err)
		}
		return fsStore
	default:
		log.Println("[STORE] using in-memory storage")
		return memstore.NewStore()
	}
}
