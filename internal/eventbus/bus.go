// Package eventbus is the daemon's internal publish/subscribe channel,
// used to fan out confirmed-spoof events, dropped-control-message
// events, and secret-rotation events to whichever log sinks or metrics
// consumers are attached, without coupling the daemon's decision logic
// to any particular sink.
package eventbus

import (
	"context"
	"sync"
)

// Topic names one of the event categories the daemon publishes.
type Topic string

const (
	// TopicSpoofConfirmed fires when a SETCOOKIE-NOT-EXPECTED message
	// verifies against the current or previous secret, confirming
	// that an earlier datagram carried a forged source address.
	TopicSpoofConfirmed Topic = "spoof_confirmed"

	// TopicControlDropped fires for every rate-limited drop of a
	// malformed or mismatched control message.
	TopicControlDropped Topic = "control_dropped"

	// TopicSecretRotated fires whenever the daemon rotates the
	// current/previous secret pair.
	TopicSecretRotated Topic = "secret_rotated"
)

// Event is a single published message: the topic it belongs to and an
// arbitrary topic-specific payload.
type Event struct {
	Topic Topic
	Data  interface{}
}

// Subscriber is a live subscription to one topic. Close detaches it
// and drains no further events.
type Subscriber struct {
	Ch   <-chan Event
	stop context.CancelFunc
}

// Bus fans out published events to every current subscriber of the
// matching topic. A slow subscriber never blocks a publisher: events
// are dropped for that subscriber instead.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
	buf  int
}

// New builds a Bus whose per-subscriber channel has capacity buf.
func New(buf int) *Bus {
	return &Bus{subs: make(map[Topic][]chan Event), buf: buf}
}

// Publish sends data to every current subscriber of topic, dropping
// it for any subscriber whose channel is full.
func (b *Bus) Publish(ctx context.Context, topic Topic, data interface{}) {
	b.mu.RLock()
	chs := b.subs[topic]
	b.mu.RUnlock()
	for _, ch := range chs {
		select {
		case ch <- Event{Topic: topic, Data: data}:
		case <-ctx.Done():
			return
		default:
			// Drop: a slow subscriber must never stall publication.
		}
	}
}

// Subscribe registers a new subscriber to topic. The subscription is
// torn down automatically when ctx is canceled; callers may also call
// Subscriber.Close directly.
func (b *Bus) Subscribe(ctx context.Context, topic Topic) *Subscriber {
	ch := make(chan Event, b.buf)
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	cctx, cancel := context.WithCancel(ctx)
	go func() {
		<-cctx.Done()
		b.mu.Lock()
		subs := b.subs[topic]
		for i, c := range subs {
			if c == ch {
				b.subs[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(ch)
	}()
	return &Subscriber{Ch: ch, stop: cancel}
}

// Close detaches the subscription.
func (s *Subscriber) Close() {
	if s.stop != nil {
		s.stop()
	}
}
