// Package memory is the development/test Store backend (spec_full §4.7):
// meetings, messages, votes, vote sessions, and the event log live in
// guarded maps. Generalized from the teacher's one-guarded-struct-per
// entity pattern (SessionStore, MessageStore) into a single Store that
// also owns the per-meeting locking primitive the orchestrator needs.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/farumcollective/convene/internal/domain"
)

type Store struct {
	dataMu sync.Mutex

	meetings     map[domain.MeetingID]*domain.Meeting
	messages     map[domain.MeetingID][]*domain.Message
	voteSessions map[domain.MeetingID]map[domain.VoteSessionID]*domain.VoteSession
	votes        map[domain.MeetingID][]domain.Vote
	events       map[domain.MeetingID][]domain.Event

	nextEventID int64

	locksMu sync.Mutex
	locks   map[domain.MeetingID]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		meetings:     make(map[domain.MeetingID]*domain.Meeting),
		messages:     make(map[domain.MeetingID][]*domain.Message),
		voteSessions: make(map[domain.MeetingID]map[domain.VoteSessionID]*domain.VoteSession),
		votes:        make(map[domain.MeetingID][]domain.Vote),
		events:       make(map[domain.MeetingID][]domain.Event),
		locks:        make(map[domain.MeetingID]*sync.Mutex),
	}
}

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

// WithMeetingLock implements domain.Store.
func (s *Store) WithMeetingLock(ctx context.Context, id domain.MeetingID, fn func(ctx context.Context) error) error {
	l := s.meetingLock(id)
	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

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

	s.dataMu.Lock()
	s.meetings[m.ID] = m
	s.dataMu.Unlock()

	copy := *m
	return &copy, nil
}

func (s *Store) GetMeeting(ctx context.Context, id domain.MeetingID) (*domain.Meeting, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	m, ok := s.meetings[id]
	if !ok {
		return nil, domain.ErrMeetingNotFound
	}
	copy := *m
	return &copy, nil
}

func (s *Store) ListMeetings(ctx context.Context, limit int, cursor string) ([]*domain.Meeting, string, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	ids := make([]domain.MeetingID, 0, len(s.meetings))
	for id := range s.meetings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.meetings[ids[i]].CreatedAt.Before(s.meetings[ids[j]].CreatedAt)
	})

	start := 0
	if cursor != "" {
		for i, id := range ids {
			if string(id) == cursor {
				start = i + 1
				break
			}
		}
	}

	end := len(ids)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	var out []*domain.Meeting
	for _, id := range ids[start:end] {
		copy := *s.meetings[id]
		out = append(out, &copy)
	}

	nextCursor := ""
	if end < len(ids) {
		nextCursor = string(ids[end-1])
	}

	return out, nextCursor, nil
}

func (s *Store) UpdateMeeting(ctx context.Context, id domain.MeetingID, patch domain.MeetingPatch) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return domain.ErrMeetingNotFound
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

	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg *domain.Message) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	if _, ok := s.meetings[msg.MeetingID]; !ok {
		return domain.ErrMeetingNotFound
	}

	copy := *msg
	s.messages[msg.MeetingID] = append(s.messages[msg.MeetingID], &copy)
	return nil
}

func (s *Store) ListMessages(ctx context.Context, meetingID domain.MeetingID, limit int, afterMessageID domain.MessageID) ([]*domain.Message, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	all := s.messages[meetingID]

	start := 0
	if afterMessageID != "" {
		for i, m := range all {
			if m.ID == afterMessageID {
				start = i + 1
				break
			}
		}
		window := all[start:]
		if limit > 0 && len(window) > limit {
			window = window[:limit]
		}
		return cloneMessages(window), nil
	}

	window := all
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return cloneMessages(window), nil
}

func cloneMessages(in []*domain.Message) []*domain.Message {
	out := make([]*domain.Message, len(in))
	for i, m := range in {
		copy := *m
		out[i] = &copy
	}
	return out
}

func (s *Store) CreateVoteSession(ctx context.Context, vs *domain.VoteSession) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	if _, ok := s.meetings[vs.MeetingID]; !ok {
		return domain.ErrMeetingNotFound
	}
	if s.voteSessions[vs.MeetingID] == nil {
		s.voteSessions[vs.MeetingID] = make(map[domain.VoteSessionID]*domain.VoteSession)
	}
	copy := *vs
	s.voteSessions[vs.MeetingID][vs.ID] = &copy
	return nil
}

func (s *Store) GetVoteSession(ctx context.Context, meetingID domain.MeetingID, id domain.VoteSessionID) (*domain.VoteSession, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	vs, ok := s.voteSessions[meetingID][id]
	if !ok {
		return nil, domain.ErrVoteSessionNotFound
	}
	copy := *vs
	return &copy, nil
}

func (s *Store) FinalizeVoteSession(ctx context.Context, meetingID domain.MeetingID, id domain.VoteSessionID, status domain.VoteSessionStatus, endedAt domain.Timestamp) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	vs, ok := s.voteSessions[meetingID][id]
	if !ok {
		return domain.ErrVoteSessionNotFound
	}
	vs.Status = status
	ea := endedAt
	vs.EndedAt = &ea
	return nil
}

func (s *Store) AppendVote(ctx context.Context, v *domain.Vote) error {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	m, ok := s.meetings[v.MeetingID]
	if !ok {
		return domain.ErrMeetingNotFound
	}
	if m.StageVersion != v.StageVersion {
		return domain.ErrStaleVote
	}

	copy := *v
	s.votes[v.MeetingID] = append(s.votes[v.MeetingID], copy)
	return nil
}

func (s *Store) ListVotes(ctx context.Context, meetingID domain.MeetingID, voteSessionID domain.VoteSessionID) ([]domain.Vote, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	var out []domain.Vote
	for _, v := range s.votes[meetingID] {
		if voteSessionID == "" || v.VoteSessionID == voteSessionID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, draft domain.EventDraft) (*domain.Event, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	s.nextEventID++
	evt := &domain.Event{
		ID:        domain.EventID(s.nextEventID),
		MeetingID: draft.MeetingID,
		At:        draft.At,
		Type:      draft.Type,
		Payload:   draft.Payload,
	}
	s.events[draft.MeetingID] = append(s.events[draft.MeetingID], *evt)
	return evt, nil
}

func (s *Store) ListEvents(ctx context.Context, meetingID domain.MeetingID, after domain.EventID, limit int) ([]domain.Event, error) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	var out []domain.Event
	for _, e := range s.events[meetingID] {
		if e.ID > after {
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
