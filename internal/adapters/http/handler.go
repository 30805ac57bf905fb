// Package httpadapter is the thin net/http transport spec_full §6 names:
// "explicitly out of scope for correctness of the core ... exists only
// so the module is runnable end-to-end." Grounded in the teacher's own
// ServeMux-based Server (internal/adapters/http/handler.go), generalized
// from two session/message routes to the six meeting routes below.
package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/farumcollective/convene/internal/app/runtime"
	"github.com/farumcollective/convene/internal/domain"
)

type Server struct {
	binder *runtime.Binder
}

func NewServer(binder *runtime.Binder) http.Handler {
	s := &Server{binder: binder}
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/meetings", s.handleMeetings)
	mux.HandleFunc("/meetings/", s.handleMeetingWithID)

	return chainMiddlewares(mux, withLogging, withCORS)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// /meetings
func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateMeeting(w, r)
	case http.MethodGet:
		s.handleListMeetings(w, r)
	default:
		methodNotAllowed(w)
	}
}

// /meetings/{id}, /meetings/{id}/messages, /meetings/{id}/abort,
// /meetings/{id}/events
func (s *Server) handleMeetingWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/meetings/")
	if path == "" {
		http.NotFound(w, r)
		return
	}
	parts := strings.Split(path, "/")
	id := domain.MeetingID(parts[0])
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleGetMeeting(w, r, id)
	case len(parts) == 2 && parts[1] == "messages":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handlePostMessage(w, r, id)
	case len(parts) == 2 && parts[1] == "abort":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleAbort(w, r, id)
	case len(parts) == 2 && parts[1] == "events":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleEvents(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

// ── DTOs ──────────────────────────────────────────────────────────────

type createMeetingRequest struct {
	Topic  string          `json:"topic"`
	Config meetingConfigDTO `json:"config"`
}

type meetingConfigDTO struct {
	Agents      []agentDTO      `json:"agents,omitempty"`
	Discussion  discussionDTO   `json:"discussion,omitempty"`
	Facilitator facilitatorDTO  `json:"facilitator,omitempty"`
	Threshold   thresholdDTO    `json:"threshold,omitempty"`
	Output      outputDTO       `json:"output,omitempty"`
}

type agentDTO struct {
	ID              string  `json:"id"`
	DisplayName     string  `json:"display_name,omitempty"`
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	SystemPrompt    string  `json:"system_prompt,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
	Enabled         *bool   `json:"enabled,omitempty"`
}

type discussionDTO struct {
	Mode                      string `json:"mode,omitempty"`
	AutoParallelMinAgents     int    `json:"auto_parallel_min_agents,omitempty"`
	CrossReplyTargetsPerAgent int    `json:"cross_reply_targets_per_agent,omitempty"`
}

type facilitatorDTO struct {
	Enabled     *bool   `json:"enabled,omitempty"`
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	TimeoutMS   int     `json:"timeout_ms,omitempty"`
}

type thresholdDTO struct {
	Mode              string `json:"mode,omitempty"`
	AvgScoreThreshold int    `json:"avg_score_threshold,omitempty"`
	MinRounds         int    `json:"min_rounds,omitempty"`
	MaxRounds         int    `json:"max_rounds,omitempty"`
	VoteTimeoutMS     int    `json:"vote_timeout_ms,omitempty"`
}

type outputDTO struct {
	Format string `json:"format,omitempty"`
}

type meetingResponse struct {
	ID                      string     `json:"id"`
	Topic                   string     `json:"topic"`
	State                   string     `json:"state"`
	Round                   int        `json:"round"`
	StageVersion            int        `json:"stage_version"`
	EffectiveDiscussionMode string     `json:"effective_discussion_mode,omitempty"`
	ActiveVoteSessionID     string     `json:"active_vote_session_id,omitempty"`
	Result                  *resultDTO `json:"result,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

type resultDTO struct {
	Accepted    bool      `json:"accepted"`
	ConcludedAt time.Time `json:"concluded_at"`
	Reason      string    `json:"reason"`
	ReportMD    string    `json:"report_md"`
}

type messageResponse struct {
	ID        string    `json:"id"`
	MeetingID string    `json:"meeting_id"`
	Role      string    `json:"role"`
	AgentID   string    `json:"agent_id,omitempty"`
	Content   string    `json:"content"`
	Round     int       `json:"round"`
	CreatedAt time.Time `json:"created_at"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type abortRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ── Handlers ──────────────────────────────────────────────────────────

func (s *Server) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	cfg := toMeetingConfig(req.Config)

	m, err := s.binder.CreateMeeting(r.Context(), req.Topic, cfg)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfig) {
			badRequest(w, err.Error())
			return
		}
		internalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toMeetingResponse(m))
}

func (s *Server) handleListMeetings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	cursor := r.URL.Query().Get("cursor")

	meetings, nextCursor, err := s.binder.ListMeetings(r.Context(), limit, cursor)
	if err != nil {
		internalError(w, err)
		return
	}

	resp := make([]meetingResponse, 0, len(meetings))
	for _, m := range meetings {
		resp = append(resp, toMeetingResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"meetings": resp, "next_cursor": nextCursor})
}

func (s *Server) handleGetMeeting(w http.ResponseWriter, r *http.Request, id domain.MeetingID) {
	m, err := s.binder.GetMeeting(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrMeetingNotFound) {
			http.NotFound(w, r)
			return
		}
		internalError(w, err)
		return
	}

	messages, err := s.binder.ListMessages(r.Context(), id)
	if err != nil {
		internalError(w, err)
		return
	}

	resp := struct {
		Meeting  meetingResponse   `json:"meeting"`
		Messages []messageResponse `json:"messages"`
	}{
		Meeting:  toMeetingResponse(m),
		Messages: toMessagesResponse(messages),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request, id domain.MeetingID) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(w, "content is required")
		return
	}

	if err := s.binder.PostUserMessage(r.Context(), id, req.Content); err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request, id domain.MeetingID) {
	var req abortRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional

	if err := s.binder.AbortMeeting(r.Context(), id, req.Reason); err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

// handleEvents implements spec §6's SSE live subscription with
// Last-Event-ID-based backfill/replay.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, id domain.MeetingID) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		internalError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	var cursor domain.EventID
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cursor = domain.EventID(n)
		}
	}

	backfill, live, unsubscribe, err := s.binder.SubscribeEvents(r.Context(), id, cursor)
	if err != nil {
		internalError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, evt := range backfill {
		writeSSEEvent(w, evt)
	}
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-live:
			if !ok {
				return
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt domain.Event) {
	payload, _ := json.Marshal(evt.Payload)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, payload)
}

// ── Conversions ───────────────────────────────────────────────────────

func toMeetingConfig(dto meetingConfigDTO) domain.MeetingConfig {
	cfg := domain.MeetingConfig{
		Discussion: domain.DiscussionConfig{
			Mode:                      domain.DiscussionMode(dto.Discussion.Mode),
			AutoParallelMinAgents:     dto.Discussion.AutoParallelMinAgents,
			CrossReplyTargetsPerAgent: dto.Discussion.CrossReplyTargetsPerAgent,
		},
		Threshold: domain.ThresholdConfig{
			Mode:              domain.ThresholdMode(dto.Threshold.Mode),
			AvgScoreThreshold: dto.Threshold.AvgScoreThreshold,
			MinRounds:         dto.Threshold.MinRounds,
			MaxRounds:         dto.Threshold.MaxRounds,
			VoteTimeoutMS:     dto.Threshold.VoteTimeoutMS,
		},
		Output: domain.OutputConfig{Format: domain.OutputFormat(dto.Output.Format)},
	}

	facilitatorEnabled := true
	if dto.Facilitator.Enabled != nil {
		facilitatorEnabled = *dto.Facilitator.Enabled
	}
	cfg.Facilitator = domain.FacilitatorConfig{
		Enabled:     facilitatorEnabled,
		Provider:    dto.Facilitator.Provider,
		Model:       dto.Facilitator.Model,
		Temperature: dto.Facilitator.Temperature,
		TimeoutMS:   dto.Facilitator.TimeoutMS,
	}

	for _, a := range dto.Agents {
		enabled := true
		if a.Enabled != nil {
			enabled = *a.Enabled
		}
		cfg.Agents = append(cfg.Agents, domain.AgentConfig{
			ID:              domain.AgentID(a.ID),
			DisplayName:     a.DisplayName,
			Provider:        a.Provider,
			Model:           a.Model,
			SystemPrompt:    a.SystemPrompt,
			Temperature:     a.Temperature,
			MaxOutputTokens: a.MaxOutputTokens,
			Enabled:         enabled,
		})
	}

	return cfg
}

func toMeetingResponse(m *domain.Meeting) meetingResponse {
	resp := meetingResponse{
		ID:                      string(m.ID),
		Topic:                   m.Topic,
		State:                   string(m.State),
		Round:                   m.Round,
		StageVersion:            m.StageVersion,
		EffectiveDiscussionMode: string(m.EffectiveDiscussionMode),
		ActiveVoteSessionID:     string(m.ActiveVoteSessionID),
		CreatedAt:               m.CreatedAt,
		UpdatedAt:               m.UpdatedAt,
	}
	if m.Result != nil {
		resp.Result = &resultDTO{
			Accepted:    m.Result.Accepted,
			ConcludedAt: m.Result.ConcludedAt,
			Reason:      m.Result.Reason,
			ReportMD:    m.Result.ReportMD,
		}
	}
	return resp
}

func toMessageResponse(m *domain.Message) messageResponse {
	return messageResponse{
		ID:        string(m.ID),
		MeetingID: string(m.MeetingID),
		Role:      string(m.Role),
		AgentID:   string(m.AgentID),
		Content:   m.Content,
		Round:     m.Meta.Round,
		CreatedAt: m.CreatedAt,
	}
}

func toMessagesResponse(msgs []*domain.Message) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageResponse(m))
	}
	return out
}

// ── HTTP helpers ──────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
