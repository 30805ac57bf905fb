// Package runtime implements the Runtime Binder (spec §6's External
// Interfaces, spec.md's Component Table): the composition root that
// wires one Store, one Gateway, and the per-meeting orchestrator runs
// and subscriber sets that the transport layer drives.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/farumcollective/convene/internal/app/meeting"
	"github.com/farumcollective/convene/internal/config"
	"github.com/farumcollective/convene/internal/domain"
	"github.com/farumcollective/convene/internal/observability"
)

// Binder owns the single Store, the single Event Bus, and the
// Orchestrator, and tracks which meetings currently have a Run
// goroutine in flight so CreateMeeting/Resume never double-starts one.
type Binder struct {
	store        domain.Store
	events       domain.EventBus
	orchestrator *meeting.Orchestrator
	template     *domain.MeetingConfig

	mu      sync.Mutex
	running map[domain.MeetingID]bool
}

func New(store domain.Store, gateway domain.Gateway, facilitator domain.Facilitator, threshold domain.ThresholdEvaluator, events domain.EventBus, template *domain.MeetingConfig) *Binder {
	return &Binder{
		store:        store,
		events:       events,
		orchestrator: meeting.New(store, gateway, facilitator, threshold, events),
		template:     template,
		running:      make(map[domain.MeetingID]bool),
	}
}

// CreateMeeting validates cfg (merging the agents-file template's agents
// and config sections when the caller didn't set them), persists a DRAFT
// Meeting, and starts its Run loop in the background.
func (b *Binder) CreateMeeting(ctx context.Context, topic string, cfg domain.MeetingConfig) (*domain.Meeting, error) {
	if err := domain.ValidateTopic(topic); err != nil {
		return nil, err
	}

	cfg = b.applyTemplate(cfg)
	cfg = config.ApplyMeetingDefaults(cfg)

	if err := domain.ValidateMeetingConfig(cfg); err != nil {
		return nil, err
	}

	m, err := b.store.CreateMeeting(ctx, topic, cfg)
	if err != nil {
		return nil, fmt.Errorf("create meeting: %w", err)
	}

	b.startRun(m.ID)
	return m, nil
}

// applyTemplate fills cfg.Agents and any zero-valued config sections
// from the process-wide agents-file template when the caller omitted
// them (spec_full §4.9).
func (b *Binder) applyTemplate(cfg domain.MeetingConfig) domain.MeetingConfig {
	if b.template == nil {
		return cfg
	}
	if len(cfg.Agents) == 0 {
		cfg.Agents = b.template.Agents
	}
	if cfg.Discussion == (domain.DiscussionConfig{}) {
		cfg.Discussion = b.template.Discussion
	}
	if cfg.Facilitator == (domain.FacilitatorConfig{}) {
		cfg.Facilitator = b.template.Facilitator
	}
	if cfg.Threshold == (domain.ThresholdConfig{}) {
		cfg.Threshold = b.template.Threshold
	}
	if cfg.Output == (domain.OutputConfig{}) {
		cfg.Output = b.template.Output
	}
	return cfg
}

// startRun launches the Orchestrator's Run loop for meetingID exactly
// once; a second call while one is already in flight is a no-op.
func (b *Binder) startRun(meetingID domain.MeetingID) {
	b.mu.Lock()
	if b.running[meetingID] {
		b.mu.Unlock()
		return
	}
	b.running[meetingID] = true
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.running, meetingID)
			b.mu.Unlock()
		}()

		ctx := observability.WithMeetingID(context.Background(), string(meetingID))
		log := observability.LoggerFromContext(ctx)
		if err := b.orchestrator.Run(ctx, meetingID); err != nil {
			log.Error("orchestrator run exited with error", "meeting_id", string(meetingID), "error", err)
		}
	}()
}

// ResumeAll restarts the Run loop for every meeting the Store reports as
// still non-terminal (spec_full §9: process restarts must not strand a
// meeting mid-run). Intended to be called once, at process startup.
func (b *Binder) ResumeAll(ctx context.Context) error {
	meetings, _, err := b.store.ListMeetings(ctx, 0, "")
	if err != nil {
		return fmt.Errorf("resume all: list meetings: %w", err)
	}
	for _, m := range meetings {
		if m.State != domain.StateFinishedAccepted && m.State != domain.StateFinishedAborted {
			b.startRun(m.ID)
		}
	}
	return nil
}

func (b *Binder) GetMeeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	return b.store.GetMeeting(ctx, id)
}

func (b *Binder) ListMeetings(ctx context.Context, limit int, cursor string) ([]*domain.Meeting, string, error) {
	return b.store.ListMeetings(ctx, limit, cursor)
}

func (b *Binder) ListMessages(ctx context.Context, id domain.MeetingID) ([]*domain.Message, error) {
	return b.store.ListMessages(ctx, id, 0, "")
}

// PostUserMessage implements spec §4.3: append a user message, aborting
// any active vote session if one is running.
func (b *Binder) PostUserMessage(ctx context.Context, id domain.MeetingID, content string) error {
	return b.orchestrator.HandleUserMessage(ctx, id, content)
}

// AbortMeeting implements the explicit-abort transition of spec §4.1/§4.3.
func (b *Binder) AbortMeeting(ctx context.Context, id domain.MeetingID, reason string) error {
	return b.orchestrator.Abort(ctx, id, reason)
}

// SubscribeEvents subscribes to the live channel and then backfills via
// ListEvents(after=cursor), so no event is lost between the two; an event
// emitted in that window can appear in both the backfill and the channel.
func (b *Binder) SubscribeEvents(ctx context.Context, id domain.MeetingID, cursor domain.EventID) ([]domain.Event, <-chan domain.Event, func(), error) {
	ch, unsubscribe := b.events.Subscribe(id)
	backfill, err := b.store.ListEvents(ctx, id, cursor, 0)
	if err != nil {
		unsubscribe()
		return nil, nil, nil, fmt.Errorf("subscribe events: backfill: %w", err)
	}
	return backfill, ch, unsubscribe, nil
}
