// Package eventbus implements the in-memory fan-out of meeting events to
// live subscribers, backed by the Store for replay (spec §2).
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/farumcollective/convene/internal/domain"
)

const subscriberBuffer = 64

// Bus implements domain.EventBus: every Emit call appends to the Store
// (which assigns the monotone event id) and then fans the resulting
// Event out to that meeting's live subscribers. A subscriber whose buffer
// is full misses that event (it stays subscribed) rather than being
// allowed to block the orchestrator
// (spec §5: "Event emission ... [is] non-blocking relative to the
// orchestrator path").
type Bus struct {
	store domain.Store

	mu   sync.Mutex
	subs map[domain.MeetingID]map[int]chan domain.Event
	next int
}

func New(store domain.Store) *Bus {
	return &Bus{
		store: store,
		subs:  make(map[domain.MeetingID]map[int]chan domain.Event),
	}
}

// Emit appends the event to the Store and publishes it to live
// subscribers of meetingID. Order is preserved: the Store assigns the id
// before any subscriber observes the event, so every event this process
// emits is appended before the next event that causally depends on it
// (spec §6's replay guarantee).
func (b *Bus) Emit(ctx context.Context, meetingID domain.MeetingID, typ domain.EventType, payload any) (domain.Event, error) {
	evt, err := b.store.AppendEvent(ctx, domain.EventDraft{
		MeetingID: meetingID,
		At:        time.Now().UTC(),
		Type:      typ,
		Payload:   payload,
	})
	if err != nil {
		return domain.Event{}, err
	}

	b.mu.Lock()
	subs := b.subs[meetingID]
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- *evt:
		default:
			// Slow subscriber; drop rather than block the orchestrator.
		}
	}

	return *evt, nil
}

// Subscribe returns a live channel of events for meetingID and an
// unsubscribe function. Callers should first Subscribe and only then
// backfill via Store.ListEvents(after=cursor), so no event falls between
// the two, accepting the small overlap window as harmless (events carry
// monotone ids, so duplicates are detectable).
func (b *Bus) Subscribe(meetingID domain.MeetingID) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[meetingID] == nil {
		b.subs[meetingID] = make(map[int]chan domain.Event)
	}
	id := b.next
	b.next++
	b.subs[meetingID][id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if m, ok := b.subs[meetingID]; ok {
			delete(m, id)
			if len(m) == 0 {
				delete(b.subs, meetingID)
			}
		}
		close(ch)
	}

	return ch, unsubscribe
}
