package main

import "sync"

// broadcastSubscriberCapacity bounds how many unconsumed chunks a
// subscriber may queue before it is considered lagging and dropped
// (§3/§4.3). This keeps one slow attached client from ever stalling
// the child: Publish never blocks on a subscriber.
const broadcastSubscriberCapacity = 256

// Subscriber is a single consumer's view of a Broadcast: Chunks
// delivers output bytes in emission order; Lagged closes if this
// subscriber fell behind and was dropped from the broadcast.
type Subscriber struct {
	Chunks <-chan []byte
	Lagged <-chan struct{}

	chunks chan []byte
	lagged chan struct{}
	owner  *Broadcast
	once   sync.Once
}

// Unsubscribe detaches this subscriber from its Broadcast and releases
// its queue. Safe to call more than once and safe to call after the
// broadcast closed or dropped this subscriber for lagging.
func (s *Subscriber) Unsubscribe() {
	s.once.Do(func() {
		s.owner.unsubscribe(s)
	})
}

// Broadcast is a multi-consumer publication of session output bytes.
// A subscriber that cannot keep up is disconnected rather than
// buffered indefinitely (§4.3, §9 Broadcast glossary entry).
type Broadcast struct {
	mu     sync.Mutex
	subs   map[*Subscriber]bool
	closed bool
}

func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[*Subscriber]bool)}
}

// Subscribe registers a new consumer. If the broadcast already closed,
// the returned subscriber's Chunks channel is immediately closed.
func (b *Broadcast) Subscribe() *Subscriber {
	chunks := make(chan []byte, broadcastSubscriberCapacity)
	lagged := make(chan struct{})
	sub := &Subscriber{Chunks: chunks, Lagged: lagged, chunks: chunks, lagged: lagged, owner: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(chunks)
		return sub
	}
	b.subs[sub] = true
	return sub
}

// unsubscribe removes sub from the broadcast, if still present, and
// closes its channel.
func (b *Broadcast) unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.chunks)
	}
}

// Publish delivers data to every current subscriber. A subscriber whose
// queue is full is disconnected and signaled via Lagged; Publish itself
// never blocks.
func (b *Broadcast) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.chunks <- data:
		default:
			delete(b.subs, sub)
			close(sub.chunks)
			close(sub.lagged)
		}
	}
}

// Close tears down the broadcast: every subscriber's Chunks channel is
// closed, signaling end-of-stream (§3, session destruction).
func (b *Broadcast) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.chunks)
	}
	b.subs = nil
}
