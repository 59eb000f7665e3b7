// Package broadcast implements the per-job subscriber registry described
// in §4.9: ordered, best-effort, non-blocking delivery of typed events, with
// item replay for late subscribers (S6) and prompt terminal delivery for
// subscribers joining after a job has already finished or errored.
package broadcast

import (
	"sync"

	"horse.fit/websetdedup/internal/events"
)

const subscriberBufferSize = 256

type jobChannelSet struct {
	mu         sync.Mutex
	subs       map[uint64]chan events.Event
	nextID     uint64
	itemReplay []events.Event
	terminal   *events.Event
}

// Bus holds one jobChannelSet per active or recently-finished job. Non-goal:
// durable replay across process restarts (the spec's own Non-goals).
type Bus struct {
	mu   sync.Mutex
	jobs map[string]*jobChannelSet
}

func New() *Bus {
	return &Bus{jobs: make(map[string]*jobChannelSet)}
}

// CreateJob registers a fresh, empty channel set for jobID. Must be called
// once before any Publish/Subscribe for that job.
func (b *Bus) CreateJob(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[jobID] = &jobChannelSet{subs: make(map[uint64]chan events.Event)}
}

func (b *Bus) setFor(jobID string) *jobChannelSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.jobs[jobID]
}

// Publish delivers ev to every current subscriber of jobID. Delivery never
// blocks the caller: a subscriber whose buffer is full is treated as a
// failed sink and dropped, never head-of-line-blocking the others.
func (b *Bus) Publish(jobID string, ev events.Event) {
	set := b.setFor(jobID)
	if set == nil {
		return
	}
	set.publish(ev)
}

func (s *jobChannelSet) publish(ev events.Event) {
	s.mu.Lock()
	if ev.Type == events.KindItem {
		s.itemReplay = append(s.itemReplay, ev)
	}
	if ev.Type == events.KindFinished || ev.Type == events.KindError {
		terminalCopy := ev
		s.terminal = &terminalCopy
	}
	snapshot := make(map[uint64]chan events.Event, len(s.subs))
	for id, ch := range s.subs {
		snapshot[id] = ch
	}
	s.mu.Unlock()

	for id, ch := range snapshot {
		select {
		case ch <- ev:
		default:
			s.unsubscribe(id)
		}
	}
}

func (s *jobChannelSet) subscribe() (uint64, chan events.Event, []events.Event, *events.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan events.Event, subscriberBufferSize)
	s.subs[id] = ch
	replay := append([]events.Event(nil), s.itemReplay...)
	return id, ch, replay, s.terminal
}

func (s *jobChannelSet) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

// Subscription is returned by Subscribe; Cancel must be called when the
// subscriber disconnects to release the buffered channel.
type Subscription struct {
	Replay   []events.Event
	Terminal *events.Event
	Events   <-chan events.Event
	Cancel   func()
}

// Subscribe joins jobID's live stream. Per §4.9 the caller is expected to
// emit `connected` itself, then the returned Replay (accepted items so
// far), then either Terminal immediately (job already finished/errored) or
// the live Events channel.
func (b *Bus) Subscribe(jobID string) (Subscription, bool) {
	set := b.setFor(jobID)
	if set == nil {
		return Subscription{}, false
	}
	id, ch, replay, terminal := set.subscribe()
	return Subscription{
		Replay:   replay,
		Terminal: terminal,
		Events:   ch,
		Cancel:   func() { set.unsubscribe(id) },
	}, true
}
