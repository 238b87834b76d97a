package practice

import (
	"log"
	"sync"
)

const subscriberBuffer = 32

// broadcaster fans events out to subscribers without blocking the recorder.
// A slow subscriber loses its oldest snapshots first; transcription and
// analysis events are kept.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan Event)}
}

func (b *broadcaster) subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if !makeRoom(ch, ev) {
				continue
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

// makeRoom frees one slot in a full subscriber channel by dropping the
// oldest queued snapshot. A result event evicts the oldest result only when
// no snapshot is left to drop.
// Callers hold b.mu, so no other sender races the refill.
func makeRoom(ch chan Event, ev Event) bool {
	queued := make([]Event, 0, cap(ch))
	for len(queued) < cap(ch) {
		select {
		case q := <-ch:
			queued = append(queued, q)
			continue
		default:
		}
		break
	}
	if len(queued) < cap(ch) {
		// 读端在此期间取走了事件，已有空位
		refill(ch, queued)
		return true
	}

	drop := -1
	for i, q := range queued {
		if q.Type == "snapshot" {
			drop = i
			break
		}
	}
	if drop < 0 && ev.Type != "snapshot" {
		drop = 0
		log.Printf("[practice] subscriber backlog full of results, dropping oldest %s event", queued[0].Type)
	}
	if drop < 0 {
		refill(ch, queued)
		return false
	}
	refill(ch, append(queued[:drop], queued[drop+1:]...))
	return true
}

func refill(ch chan Event, events []Event) {
	for _, q := range events {
		ch <- q
	}
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
