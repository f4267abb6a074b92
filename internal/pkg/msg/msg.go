// Package msg is the event fanout between the pipeline and its observer
// handlers (archive, stream, monitor). Observers subscribe per topic and
// receive buffered copies; a slow observer drops events rather than stalling
// the run.
package msg

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Topic partitions the event stream.
type Topic int

const (
	// Progress carries pipeline task state changes.
	Progress Topic = iota
	// Result carries the final run payload of a converged study.
	Result
)

// Msg is one event.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function.
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID.
func (m Msg) PID() uuid.UUID {
	return m.sender
}

// Topic returns the event's topic.
func (m Msg) Topic() Topic {
	return m.topic
}

// Payload returns the event data.
func (m Msg) Payload() interface{} {
	return m.payload
}

// Publisher is the subscription surface handed to observer handlers.
type Publisher interface {
	Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error)
	Unsubscribe(pid uuid.UUID)
}

// PubSub fans events out to topic subscribers.
type PubSub struct {
	mux     sync.Mutex
	pid     uuid.UUID
	members map[Topic]map[uuid.UUID]chan Msg
}

// NewPublisher returns a PubSub owned by the given sender PID.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		pid:     pid,
		members: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID returns the publisher's PID.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe registers a subscriber PID on a topic and returns its channel.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()

	subs, ok := p.members[topic]
	if !ok {
		subs = make(map[uuid.UUID]chan Msg)
		p.members[topic] = subs
	}
	if _, exists := subs[pid]; exists {
		return nil, fmt.Errorf("pid %v already subscribed to topic %v", pid, topic)
	}

	ch := make(chan Msg, 50)
	subs[pid] = ch
	return ch, nil
}

// Unsubscribe removes a subscriber from every topic and closes its channels.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()

	for _, subs := range p.members {
		if ch, ok := subs[pid]; ok {
			close(ch)
			delete(subs, pid)
		}
	}
}

// Publish delivers a payload to every subscriber of the topic. Full
// subscriber buffers drop the event.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.mux.Lock()
	defer p.mux.Unlock()

	for _, ch := range p.members[topic] {
		select {
		case ch <- New(p.pid, topic, payload):
		default:
		}
	}
}

// Close shuts every subscriber channel.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()

	for _, subs := range p.members {
		for pid, ch := range subs {
			close(ch)
			delete(subs, pid)
		}
	}
}
