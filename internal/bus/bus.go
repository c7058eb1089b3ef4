// Package bus implements the group-keyed in-process publish/subscribe bus.
// Dispatch is handed off to threadpool so publishers never block on
// subscriber work.
package bus

import (
	"fmt"
	"log"
	"sync"

	"octopus/internal/threadpool"
)

// Group keys the subscriber map; callers define their own group constants
// (e.g. ipcproto.Group, or a bus-local enum for non-IPC topics).
type Group string

// Message is an opaque payload published to a group.
type Message struct {
	Group   Group
	Payload any
}

// Token identifies a subscription for later Unsubscribe.
type Token uint64

// Callback handles one delivered message.
type Callback func(Message)

// callbackFailureThreshold is the consecutive-panic count at which a
// subscriber is automatically removed.
const callbackFailureThreshold = 3

// subscriber is one callback entry: name, function, consecutive-failure
// count. Same shape as ipcclient's dispatch list.
type subscriber struct {
	name     string
	fn       Callback
	failures int
}

// Bus owns the subscriber map and a FIFO of published messages, drained by
// one or more dispatcher goroutines onto the shared pool.
type Bus struct {
	pool   *threadpool.Pool
	Logger *log.Logger

	mu        sync.Mutex
	subs      map[Group]map[Token]*subscriber
	nextToken Token

	queueMu sync.Mutex
	cond    *sync.Cond
	queue   []Message
	closed  bool
	wg      sync.WaitGroup
}

// New creates a bus dispatching onto pool with the given number of
// dispatcher goroutines (1 preserves strict per-group FIFO; more than 1
// preserves per-group FIFO only with respect to a single dispatcher).
func New(pool *threadpool.Pool, dispatchers int) *Bus {
	if dispatchers <= 0 {
		dispatchers = 1
	}
	b := &Bus{
		pool:   pool,
		Logger: log.Default(),
		subs:   make(map[Group]map[Token]*subscriber),
	}
	b.cond = sync.NewCond(&b.queueMu)
	for i := 0; i < dispatchers; i++ {
		b.wg.Add(1)
		go b.dispatchLoop()
	}
	return b
}

// Subscribe registers callback for group and returns a token for Unsubscribe.
func (b *Bus) Subscribe(group Group, callback Callback) Token {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextToken++
	tok := b.nextToken
	if b.subs[group] == nil {
		b.subs[group] = make(map[Token]*subscriber)
	}
	b.subs[group][tok] = &subscriber{name: fmt.Sprintf("%s#%d", group, tok), fn: callback}
	return tok
}

// Unsubscribe removes the subscription identified by token within group.
func (b *Bus) Unsubscribe(group Group, token Token) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs[group], token)
}

// Publish enqueues msg for asynchronous delivery. It never blocks beyond
// the queue enqueue itself.
func (b *Bus) Publish(msg Message) {
	b.queueMu.Lock()
	b.queue = append(b.queue, msg)
	b.cond.Signal()
	b.queueMu.Unlock()
}

func (b *Bus) dispatchLoop() {
	defer b.wg.Done()
	for {
		b.queueMu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 && b.closed {
			b.queueMu.Unlock()
			return
		}
		msg := b.queue[0]
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		b.mu.Lock()
		subs := make([]*subscriber, 0, len(b.subs[msg.Group]))
		for _, s := range b.subs[msg.Group] {
			subs = append(subs, s)
		}
		b.mu.Unlock()

		for _, s := range subs {
			s, group, msg := s, msg.Group, msg
			b.pool.Submit(func() { b.invoke(group, s, msg) })
		}
	}
}

// invoke calls s.fn, recovering a panic into a recorded failure: after
// callbackFailureThreshold consecutive failures the subscriber is
// automatically unsubscribed.
func (b *Bus) invoke(group Group, s *subscriber, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Printf("bus: subscriber %q panicked on group %q: %v", s.name, group, r)
			b.recordFailure(group, s)
		}
	}()
	s.fn(msg)

	b.mu.Lock()
	s.failures = 0
	b.mu.Unlock()
}

func (b *Bus) recordFailure(group Group, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.failures++
	if s.failures < callbackFailureThreshold {
		return
	}
	for tok, cur := range b.subs[group] {
		if cur == s {
			delete(b.subs[group], tok)
			break
		}
	}
}

// Shutdown stops the dispatcher goroutines once the queue drains.
func (b *Bus) Shutdown() {
	b.queueMu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.queueMu.Unlock()
	b.wg.Wait()
}
