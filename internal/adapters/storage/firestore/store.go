// Package firestore is the production Store backend (spec_full §4.7),
// grounded in the teacher's own Firestore store (internal/adapters/
// storage/firestore/store.go): one collection per meeting-scoped
// entity, generalized from the teacher's sessions/messages pair to the
// five collections a Meeting needs. Nested config/payload structs are
// round-tripped through JSON into a single document field, the way the
// teacher's flat session/message docs never had to address polymorphic
// payloads (events.Payload is `any`) — a plain `firestore:"..."` struct
// tag can't express that, so we keep it as an opaque blob and decode on
// read instead of fighting the client's reflection-based encoder.
package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/google/uuid"

	"github.com/farumcollective/convene/internal/domain"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

func unixNanoToTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

type Store struct {
	client *firestore.Client

	locksMu sync.Mutex
	locks   map[domain.MeetingID]*sync.Mutex

	// eventSeq is spec §3's "monotone per process" event-id counter:
	// allocated process-wide, not per meeting, matching the memory
	// backend. A process restart starts a fresh sequence; Event ids are
	// a Last-Event-ID cursor scoped to one process's lifetime, not a
	// cross-restart durable ordering.
	eventSeq int64
}

// NewStore creates a Firestore-backed Store against projectID.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, locks: make(map[domain.MeetingID]*sync.Mutex)}, nil
}

// ── collection/doc helpers ──────────────────────────────────────────────

func (s *Store) meetingsCol() *firestore.CollectionRef {
	return s.client.Collection("meetings")
}

func (s *Store) meetingDoc(id domain.MeetingID) *firestore.DocumentRef {
	return s.meetingsCol().Doc(string(id))
}

func (s *Store) messagesCol(meetingID domain.MeetingID) *firestore.CollectionRef {
	return s.meetingDoc(meetingID).Collection("messages")
}

func (s *Store) voteSessionsCol(meetingID domain.MeetingID) *firestore.CollectionRef {
	return s.meetingDoc(meetingID).Collection("vote_sessions")
}

func (s *Store) votesCol(meetingID domain.MeetingID) *firestore.CollectionRef {
	return s.meetingDoc(meetingID).Collection("votes")
}

func (s *Store) eventsCol(meetingID domain.MeetingID) *firestore.CollectionRef {
	return s.meetingDoc(meetingID).Collection("events")
}

// ── per-process meeting lock ────────────────────────────────────────────
//
// Firestore has no built-in mutex; this process is the only writer the
// deployment topology of spec_full §9 assumes (single Binder instance),
// so a local per-meeting mutex is sufficient — the same guarantee the
// memory Store gives, not a cross-instance distributed lock.

func (s *Store) meetingLock(id domain.MeetingID) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) WithMeetingLock(ctx context.Context, id domain.MeetingID, fn func(ctx context.Context) error) error {
	l := s.meetingLock(id)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// ── document shapes ──────────────────────────────────────────────────────

type meetingDoc struct {
	Topic                   string `firestore:"topic"`
	State                   string `firestore:"state"`
	Round                   int    `firestore:"round"`
	StageVersion            int    `firestore:"stage_version"`
	EffectiveDiscussionMode string `firestore:"effective_discussion_mode"`
	ActiveVoteSessionID     string `firestore:"active_vote_session_id"`
	ResultJSON              string `firestore:"result_json,omitempty"`
	ConfigJSON              string `firestore:"config_json"`
	CreatedAt               int64  `firestore:"created_at"`
	UpdatedAt               int64  `firestore:"updated_at"`
}

type messageDoc struct {
	Role      string `firestore:"role"`
	AgentID   string `firestore:"agent_id,omitempty"`
	SystemID  string `firestore:"system_id,omitempty"`
	Content   string `firestore:"content"`
	MetaJSON  string `firestore:"meta_json"`
	CreatedAt int64  `firestore:"created_at"`
}

type voteSessionDoc struct {
	Round         int    `firestore:"round"`
	StageVersion  int    `firestore:"stage_version"`
	ProposalText  string `firestore:"proposal_text"`
	Status        string `firestore:"status"`
	StartedAt     int64  `firestore:"started_at"`
	EndedAt       int64  `firestore:"ended_at,omitempty"`
	ExpectedJSON  string `firestore:"expected_json"`
}

type voteDoc struct {
	VoteSessionID string `firestore:"vote_session_id"`
	VoterAgentID  string `firestore:"voter_agent_id"`
	Score         int    `firestore:"score"`
	Pass          bool   `firestore:"pass"`
	Rationale     string `firestore:"rationale"`
	StageVersion  int    `firestore:"stage_version"`
	CreatedAt     int64  `firestore:"created_at"`
}

type eventDoc struct {
	ID          int64  `firestore:"id"`
	Type        string `firestore:"type"`
	At          int64  `firestore:"at"`
	PayloadJSON string `firestore:"payload_json"`
}

// ── Meeting ───────────────────────────────────────────────────────────

func (s *Store) CreateMeeting(ctx context.Context, topic string, cfg domain.MeetingConfig) (*domain.Meeting, error) {
	if err := domain.ValidateTopic(topic); err != nil {
		return nil, err
	}
	if err := domain.ValidateMeetingConfig(cfg); err != nil {
		return nil, err
	}

	now := nowUTC()
	m := &domain.Meeting{
		ID:           domain.MeetingID(uuid.NewString()),
		Topic:        topic,
		State:        domain.StateDraft,
		Round:        0,
		StageVersion: 0,
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	doc, err := toMeetingDoc(m)
	if err != nil {
		return nil, fmt.Errorf("firestore CreateMeeting: encode: %w", err)
	}

	if _, err := s.meetingDoc(m.ID).Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("firestore CreateMeeting: %w", err)
	}
	return m, nil
}

func (s *Store) GetMeeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	snap, err := s.meetingDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrMeetingNotFound
		}
		return nil, fmt.Errorf("firestore GetMeeting: %w", err)
	}

	var doc meetingDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetMeeting: decode: %w", err)
	}
	return fromMeetingDoc(id, doc)
}

func (s *Store) ListMeetings(ctx context.Context, limit int, cursor string) ([]*domain.Meeting, string, error) {
	q := s.meetingsCol().OrderBy("created_at", firestore.Asc)
	if cursor != "" {
		snap, err := s.meetingDoc(domain.MeetingID(cursor)).Get(ctx)
		if err == nil {
			q = q.StartAfter(snap)
		}
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Meeting
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, "", fmt.Errorf("firestore ListMeetings: %w", err)
		}
		var doc meetingDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, "", fmt.Errorf("firestore ListMeetings: decode: %w", err)
		}
		m, err := fromMeetingDoc(domain.MeetingID(snap.Ref.ID), doc)
		if err != nil {
			return nil, "", err
		}
		out = append(out, m)
	}

	nextCursor := ""
	if limit > 0 && len(out) == limit {
		nextCursor = string(out[len(out)-1].ID)
	}
	return out, nextCursor, nil
}

func (s *Store) UpdateMeeting(ctx context.Context, id domain.MeetingID, patch domain.MeetingPatch) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := s.meetingDoc(id)
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrMeetingNotFound
			}
			return fmt.Errorf("firestore UpdateMeeting: get: %w", err)
		}
		var doc meetingDoc
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore UpdateMeeting: decode: %w", err)
		}
		m, err := fromMeetingDoc(id, doc)
		if err != nil {
			return err
		}

		if patch.State != nil {
			m.State = *patch.State
		}
		if patch.Round != nil {
			m.Round = *patch.Round
		}
		if patch.StageVersion != nil {
			m.StageVersion = *patch.StageVersion
		}
		if patch.EffectiveDiscussionMode != nil {
			m.EffectiveDiscussionMode = *patch.EffectiveDiscussionMode
		}
		if patch.ActiveVoteSessionID != nil {
			m.ActiveVoteSessionID = *patch.ActiveVoteSessionID
		}
		if patch.Result != nil {
			m.Result = patch.Result
		}
		if patch.UpdatedAt != nil {
			m.UpdatedAt = *patch.UpdatedAt
		}

		newDoc, err := toMeetingDoc(m)
		if err != nil {
			return fmt.Errorf("firestore UpdateMeeting: encode: %w", err)
		}
		return tx.Set(ref, newDoc)
	})
}

func toMeetingDoc(m *domain.Meeting) (meetingDoc, error) {
	cfgJSON, err := json.Marshal(m.Config)
	if err != nil {
		return meetingDoc{}, err
	}
	doc := meetingDoc{
		Topic:                   m.Topic,
		State:                   string(m.State),
		Round:                   m.Round,
		StageVersion:            m.StageVersion,
		EffectiveDiscussionMode: string(m.EffectiveDiscussionMode),
		ActiveVoteSessionID:     string(m.ActiveVoteSessionID),
		ConfigJSON:              string(cfgJSON),
		CreatedAt:               m.CreatedAt.UnixNano(),
		UpdatedAt:               m.UpdatedAt.UnixNano(),
	}
	if m.Result != nil {
		resultJSON, err := json.Marshal(m.Result)
		if err != nil {
			return meetingDoc{}, err
		}
		doc.ResultJSON = string(resultJSON)
	}
	return doc, nil
}

func fromMeetingDoc(id domain.MeetingID, doc meetingDoc) (*domain.Meeting, error) {
	var cfg domain.MeetingConfig
	if err := json.Unmarshal([]byte(doc.ConfigJSON), &cfg); err != nil {
		return nil, fmt.Errorf("decode meeting config: %w", err)
	}
	m := &domain.Meeting{
		ID:                      id,
		Topic:                   doc.Topic,
		State:                   domain.MeetingState(doc.State),
		Round:                   doc.Round,
		StageVersion:            doc.StageVersion,
		EffectiveDiscussionMode: domain.DiscussionMode(doc.EffectiveDiscussionMode),
		ActiveVoteSessionID:     domain.VoteSessionID(doc.ActiveVoteSessionID),
		Config:                  cfg,
		CreatedAt:               unixNanoToTime(doc.CreatedAt),
		UpdatedAt:               unixNanoToTime(doc.UpdatedAt),
	}
	if doc.ResultJSON != "" {
		var result domain.MeetingResult
		if err := json.Unmarshal([]byte(doc.ResultJSON), &result); err != nil {
			return nil, fmt.Errorf("decode meeting result: %w", err)
		}
		m.Result = &result
	}
	return m, nil
}

// ── Messages ──────────────────────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	metaJSON, err := json.Marshal(msg.Meta)
	if err != nil {
		return fmt.Errorf("firestore AppendMessage: encode meta: %w", err)
	}
	doc := messageDoc{
		Role:      string(msg.Role),
		AgentID:   string(msg.AgentID),
		SystemID:  string(msg.SystemID),
		Content:   msg.Content,
		MetaJSON:  string(metaJSON),
		CreatedAt: msg.CreatedAt.UnixNano(),
	}
	ref := s.messagesCol(msg.MeetingID).Doc(string(msg.ID))
	if _, err := ref.Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, meetingID domain.MeetingID, limit int, afterMessageID domain.MessageID) ([]*domain.Message, error) {
	q := s.messagesCol(meetingID).OrderBy("created_at", firestore.Asc)

	if afterMessageID != "" {
		snap, err := s.messagesCol(meetingID).Doc(string(afterMessageID)).Get(ctx)
		if err == nil {
			q = q.StartAfter(snap)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []*domain.Message
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListMessages: %w", err)
		}
		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore ListMessages: decode: %w", err)
		}
		var meta domain.MessageMeta
		if err := json.Unmarshal([]byte(doc.MetaJSON), &meta); err != nil {
			return nil, fmt.Errorf("decode message meta: %w", err)
		}
		out = append(out, &domain.Message{
			ID:        domain.MessageID(snap.Ref.ID),
			MeetingID: meetingID,
			CreatedAt: unixNanoToTime(doc.CreatedAt),
			Role:      domain.MessageRole(doc.Role),
			AgentID:   domain.AgentID(doc.AgentID),
			SystemID:  domain.SystemSpeaker(doc.SystemID),
			Content:   doc.Content,
			Meta:      meta,
		})
	}

	if afterMessageID == "" && limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ── Vote sessions ─────────────────────────────────────────────────────

func (s *Store) CreateVoteSession(ctx context.Context, vs *domain.VoteSession) error {
	expectedJSON, err := json.Marshal(vs.ExpectedVoterAgentIDs)
	if err != nil {
		return fmt.Errorf("firestore CreateVoteSession: encode: %w", err)
	}
	doc := voteSessionDoc{
		Round:        vs.Round,
		StageVersion: vs.StageVersion,
		ProposalText: vs.ProposalText,
		Status:       string(vs.Status),
		StartedAt:    vs.StartedAt.UnixNano(),
		ExpectedJSON: string(expectedJSON),
	}
	if vs.EndedAt != nil {
		doc.EndedAt = vs.EndedAt.UnixNano()
	}
	ref := s.voteSessionsCol(vs.MeetingID).Doc(string(vs.ID))
	if _, err := ref.Create(ctx, doc); err != nil {
		return fmt.Errorf("firestore CreateVoteSession: %w", err)
	}
	return nil
}

func (s *Store) GetVoteSession(ctx context.Context, meetingID domain.MeetingID, id domain.VoteSessionID) (*domain.VoteSession, error) {
	snap, err := s.voteSessionsCol(meetingID).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrVoteSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetVoteSession: %w", err)
	}
	var doc voteSessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetVoteSession: decode: %w", err)
	}
	return fromVoteSessionDoc(meetingID, id, doc)
}

func (s *Store) FinalizeVoteSession(ctx context.Context, meetingID domain.MeetingID, id domain.VoteSessionID, status_ domain.VoteSessionStatus, endedAt domain.Timestamp) error {
	ref := s.voteSessionsCol(meetingID).Doc(string(id))
	_, err := ref.Update(ctx, []firestore.Update{
		{Path: "status", Value: string(status_)},
		{Path: "ended_at", Value: endedAt.UnixNano()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrVoteSessionNotFound
		}
		return fmt.Errorf("firestore FinalizeVoteSession: %w", err)
	}
	return nil
}

func fromVoteSessionDoc(meetingID domain.MeetingID, id domain.VoteSessionID, doc voteSessionDoc) (*domain.VoteSession, error) {
	var expected []domain.AgentID
	if err := json.Unmarshal([]byte(doc.ExpectedJSON), &expected); err != nil {
		return nil, fmt.Errorf("decode expected voters: %w", err)
	}
	vs := &domain.VoteSession{
		ID:                    id,
		MeetingID:             meetingID,
		Round:                 doc.Round,
		StageVersion:          doc.StageVersion,
		ProposalText:          doc.ProposalText,
		Status:                domain.VoteSessionStatus(doc.Status),
		StartedAt:             unixNanoToTime(doc.StartedAt),
		ExpectedVoterAgentIDs: expected,
	}
	if doc.EndedAt != 0 {
		ea := unixNanoToTime(doc.EndedAt)
		vs.EndedAt = &ea
	}
	return vs, nil
}

// ── Votes ─────────────────────────────────────────────────────────────

func (s *Store) AppendVote(ctx context.Context, v *domain.Vote) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		mSnap, err := tx.Get(s.meetingDoc(v.MeetingID))
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrMeetingNotFound
			}
			return fmt.Errorf("firestore AppendVote: get meeting: %w", err)
		}
		var mDoc meetingDoc
		if err := mSnap.DataTo(&mDoc); err != nil {
			return fmt.Errorf("firestore AppendVote: decode meeting: %w", err)
		}
		if mDoc.StageVersion != v.StageVersion {
			return domain.ErrStaleVote
		}

		doc := voteDoc{
			VoteSessionID: string(v.VoteSessionID),
			VoterAgentID:  string(v.VoterAgentID),
			Score:         v.Score,
			Pass:          v.Pass,
			Rationale:     v.Rationale,
			StageVersion:  v.StageVersion,
			CreatedAt:     v.CreatedAt.UnixNano(),
		}
		ref := s.votesCol(v.MeetingID).Doc(string(v.ID))
		return tx.Create(ref, doc)
	})
}

func (s *Store) ListVotes(ctx context.Context, meetingID domain.MeetingID, voteSessionID domain.VoteSessionID) ([]domain.Vote, error) {
	var q firestore.Query = s.votesCol(meetingID).Query
	if voteSessionID != "" {
		q = q.Where("vote_session_id", "==", string(voteSessionID))
	}
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []domain.Vote
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListVotes: %w", err)
		}
		var doc voteDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore ListVotes: decode: %w", err)
		}
		out = append(out, domain.Vote{
			ID:            domain.VoteID(snap.Ref.ID),
			MeetingID:     meetingID,
			VoteSessionID: domain.VoteSessionID(doc.VoteSessionID),
			VoterAgentID:  domain.AgentID(doc.VoterAgentID),
			Score:         doc.Score,
			Pass:          doc.Pass,
			Rationale:     doc.Rationale,
			StageVersion:  doc.StageVersion,
			CreatedAt:     unixNanoToTime(doc.CreatedAt),
		})
	}
	return out, nil
}

// ── Events ────────────────────────────────────────────────────────────
//
// Event IDs must be monotone per process, matching the memory Store's
// mutex-guarded counter; here that's an atomic int64 on the Store.

func (s *Store) AppendEvent(ctx context.Context, draft domain.EventDraft) (*domain.Event, error) {
	payloadJSON, err := json.Marshal(draft.Payload)
	if err != nil {
		return nil, fmt.Errorf("firestore AppendEvent: encode payload: %w", err)
	}

	nextID := atomic.AddInt64(&s.eventSeq, 1)

	doc := eventDoc{
		ID:          nextID,
		Type:        string(draft.Type),
		At:          draft.At.UnixNano(),
		PayloadJSON: string(payloadJSON),
	}
	ref := s.eventsCol(draft.MeetingID).Doc(fmt.Sprintf("%020d", nextID))
	if _, err := ref.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("firestore AppendEvent: %w", err)
	}

	return &domain.Event{
		ID:        domain.EventID(nextID),
		MeetingID: draft.MeetingID,
		At:        draft.At,
		Type:      draft.Type,
		Payload:   draft.Payload,
	}, nil
}

func (s *Store) ListEvents(ctx context.Context, meetingID domain.MeetingID, after domain.EventID, limit int) ([]domain.Event, error) {
	q := s.eventsCol(meetingID).OrderBy("id", firestore.Asc).Where("id", ">", int64(after))
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []domain.Event
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore ListEvents: %w", err)
		}
		var doc eventDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore ListEvents: decode: %w", err)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(doc.PayloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, domain.Event{
			ID:        domain.EventID(doc.ID),
			MeetingID: meetingID,
			At:        unixNanoToTime(doc.At),
			Type:      domain.EventType(doc.Type),
			Payload:   payload,
		})
	}
	return out, nil
}
