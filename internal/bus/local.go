package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"tradepost/internal/sharding"
)

// LocalBus is an in-process bus. Before Start it delivers synchronously,
// which suits tests and single-shot tools; after Start deliveries run on a
// fixed set of shard workers, with all envelopes for one correlation id
// routed to the same worker.
type LocalBus struct {
	mu         sync.RWMutex
	handlers   map[string][]Handler
	responders map[string]Responder
	letters    []DeadLetter

	shards  []chan Envelope
	started bool
	pending sync.WaitGroup

	journal Journal
	logf    func(format string, args ...any)
}

// NewLocalBus constructs a LocalBus with the given number of shard workers.
func NewLocalBus(shards int, journal Journal, logf func(format string, args ...any)) *LocalBus {
	if shards < 1 {
		shards = 1
	}
	if logf == nil {
		logf = log.Printf
	}
	chans := make([]chan Envelope, shards)
	for i := range chans {
		chans[i] = make(chan Envelope, 256)
	}
	return &LocalBus{
		handlers:   make(map[string][]Handler),
		responders: make(map[string]Responder),
		shards:     chans,
		journal:    journal,
		logf:       logf,
	}
}

// Subscribe registers a handler for a message kind.
func (b *LocalBus) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Respond registers the responder for a request kind.
func (b *LocalBus) Respond(kind string, r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders[kind] = r
}

// Start launches the shard workers. Publish routes to them until ctx ends.
func (b *LocalBus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	for _, ch := range b.shards {
		go func(ch chan Envelope) {
			for {
				select {
				case <-ctx.Done():
					return
				case env := <-ch:
					b.deliver(ctx, env)
					b.pending.Done()
				}
			}
		}(ch)
	}
}

// Publish routes the envelope to its correlation shard, or delivers inline
// when the workers have not been started.
func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	started := b.started
	b.mu.RUnlock()

	if !started {
		b.deliver(ctx, env)
		return nil
	}

	b.pending.Add(1)
	b.shards[sharding.ShardFor(env.CorrelationID, len(b.shards))] <- env
	return nil
}

// Request answers synchronously via the registered responder.
func (b *LocalBus) Request(ctx context.Context, env Envelope) (Envelope, error) {
	b.mu.RLock()
	responder, ok := b.responders[env.Kind]
	b.mu.RUnlock()
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %s", ErrNoResponder, env.Kind)
	}
	return responder(ctx, env)
}

// Drain blocks until every published envelope has been handled.
func (b *LocalBus) Drain() {
	b.pending.Wait()
}

// DeadLetters returns a copy of the dead letters seen so far.
func (b *LocalBus) DeadLetters() []DeadLetter {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]DeadLetter, len(b.letters))
	copy(out, b.letters)
	return out
}

func (b *LocalBus) deliver(ctx context.Context, env Envelope) {
	b.mu.RLock()
	handlers := b.handlers[env.Kind]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := safeHandle(ctx, h, env); err != nil {
			b.deadLetter(env, err)
		}
	}
}

// safeHandle contains handler panics so a bad message cannot take down a
// shard worker; the panic surfaces as a dead letter like any other failure.
func safeHandle(ctx context.Context, h Handler, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic on %s: %v", env.Kind, r)
		}
	}()
	return h(ctx, env)
}

func (b *LocalBus) deadLetter(env Envelope, cause error) {
	letter := DeadLetter{
		Envelope: env,
		Reason:   cause.Error(),
		At:       time.Now().UTC(),
	}
	b.logf("dead letter %s (%s): %v", env.Kind, env.CorrelationID, cause)

	b.mu.Lock()
	b.letters = append(b.letters, letter)
	b.mu.Unlock()

	if b.journal != nil {
		if err := b.journal.Record(letter); err != nil {
			b.logf("dead letter journal: %v", err)
		}
	}
}
