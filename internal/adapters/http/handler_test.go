package httpadapter_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	httpadapter "github.com/farumcollective/convene/internal/adapters/http"
	"github.com/farumcollective/convene/internal/adapters/llm"
	"github.com/farumcollective/convene/internal/adapters/storage/memory"
	"github.com/farumcollective/convene/internal/app/eventbus"
	"github.com/farumcollective/convene/internal/app/facilitator"
	"github.com/farumcollective/convene/internal/app/runtime"
	"github.com/farumcollective/convene/internal/app/threshold"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	store := memory.NewStore()
	mock := llm.NewMockProvider()
	bus := eventbus.New(store)
	fac := facilitator.New(mock)
	thr := threshold.New()

	binder := runtime.New(store, mock, fac, thr, bus, nil)
	return httpadapter.NewServer(binder)
}

func validCreateBody() []byte {
	body := map[string]any{
		"topic": "Should we adopt the new deploy pipeline?",
		"config": map[string]any{
			"agents": []map[string]any{
				{"id": "a1", "provider": "mock", "model": "mock-optimist", "system_prompt": "You are an optimist.", "temperature": 0.5, "max_output_tokens": 512},
				{"id": "a2", "provider": "mock", "model": "mock-skeptic", "system_prompt": "You are a skeptic.", "temperature": 0.5, "max_output_tokens": 512},
				{"id": "a3", "provider": "mock", "model": "mock-default", "system_prompt": "You are neutral.", "temperature": 0.5, "max_output_tokens": 512},
			},
		},
	}
	b, _ := json.Marshal(body)
	return b
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCreateMeeting(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/meetings", bytes.NewReader(validCreateBody()))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("expected a meeting id")
	}
}

func TestCreateMeeting_RejectsEmptyTopic(t *testing.T) {
	srv := newTestServer(t)

	body := []byte(`{"topic":"","config":{"agents":[]}}`)
	req := httptest.NewRequest(http.MethodPost, "/meetings", bytes.NewReader(body))
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", w.Code, w.Body.String())
	}
}

func TestGetMeeting_NotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/meetings/does-not-exist", nil)
	w := httptest.NewRecorder()

	srv.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCreateThenGetMeeting(t *testing.T) {
	srv := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/meetings", bytes.NewReader(validCreateBody()))
	createW := httptest.NewRecorder()
	srv.ServeHTTP(createW, createReq)
	if createW.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", createW.Code)
	}

	var created struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(createW.Body.Bytes(), &created)

	getReq := httptest.NewRequest(http.MethodGet, "/meetings/"+created.ID, nil)
	getW := httptest.NewRecorder()
	srv.ServeHTTP(getW, getReq)
	if getW.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d, body=%s", getW.Code, getW.Body.String())
	}
}
