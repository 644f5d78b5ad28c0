package bus

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisBusConfig holds Redis Streams bus settings.
type RedisBusConfig struct {
	Prefix         string
	Group          string
	Consumer       string
	Block          time.Duration
	BatchSize      int64
	RequestTimeout time.Duration
}

// RedisBus carries envelopes over Redis Streams. Each kind maps to one
// stream consumed through a consumer group, which gives at-least-once
// delivery; failed deliveries go to a dead-letter stream and the journal.
type RedisBus struct {
	client *redis.Client
	cfg    RedisBusConfig

	mu         sync.RWMutex
	handlers   map[string][]Handler
	responders map[string]Responder

	journal Journal
	logf    func(format string, args ...any)
}

// NewRedisBus constructs a RedisBus.
func NewRedisBus(client *redis.Client, cfg RedisBusConfig, journal Journal, logf func(format string, args ...any)) *RedisBus {
	if cfg.Prefix == "" {
		cfg.Prefix = "tradepost:"
	}
	if cfg.Group == "" {
		cfg.Group = "tradepost"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if logf == nil {
		logf = log.Printf
	}
	return &RedisBus{
		client:     client,
		cfg:        cfg,
		handlers:   make(map[string][]Handler),
		responders: make(map[string]Responder),
		journal:    journal,
		logf:       logf,
	}
}

// Subscribe registers a handler for a message kind.
func (b *RedisBus) Subscribe(kind string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Respond registers the responder for a request kind.
func (b *RedisBus) Respond(kind string, r Responder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responders[kind] = r
}

// Publish appends the envelope to its kind's stream.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	return b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(env.Kind),
		Values: envelopeValues(env),
	}).Err()
}

// Run starts one consumer loop per subscribed kind and blocks until every
// loop has stopped.
func (b *RedisBus) Run(ctx context.Context) error {
	b.mu.RLock()
	kinds := make([]string, 0, len(b.handlers)+len(b.responders))
	for kind := range b.handlers {
		kinds = append(kinds, kind)
	}
	for kind := range b.responders {
		if _, dup := b.handlers[kind]; !dup {
			kinds = append(kinds, kind)
		}
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, kind := range kinds {
		if err := b.ensureGroup(ctx, kind); err != nil {
			return err
		}
		wg.Add(1)
		go func(kind string) {
			defer wg.Done()
			b.consume(ctx, kind)
		}(kind)
	}
	wg.Wait()
	return nil
}

// Request publishes the envelope with a unique reply stream and waits for
// the reply to arrive there.
func (b *RedisBus) Request(ctx context.Context, env Envelope) (Envelope, error) {
	env.ReplyTo = b.cfg.Prefix + "reply:" + env.ID
	if err := b.Publish(ctx, env); err != nil {
		return Envelope{}, err
	}
	defer b.client.Del(context.WithoutCancel(ctx), env.ReplyTo)

	deadline := time.Now().Add(b.cfg.RequestTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return Envelope{}, err
		}
		msgs, err := b.client.XRange(ctx, env.ReplyTo, "-", "+").Result()
		if err != nil && err != redis.Nil {
			return Envelope{}, err
		}
		if len(msgs) > 0 {
			return envelopeFromValues(msgs[0].Values)
		}
		if time.Now().After(deadline) {
			return Envelope{}, fmt.Errorf("%w: %s", ErrRequestTimeout, env.Kind)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (b *RedisBus) consume(ctx context.Context, kind string) {
	stream := b.stream(kind)
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{stream, ">"},
			Count:    b.cfg.BatchSize,
			Block:    b.cfg.Block,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logf("redis bus read %s: %v", stream, err)
			time.Sleep(b.cfg.Block)
			continue
		}

		for _, sr := range res {
			for _, msg := range sr.Messages {
				b.handleDelivery(ctx, kind, msg)
				if err := b.client.XAck(ctx, stream, b.cfg.Group, msg.ID).Err(); err != nil && ctx.Err() == nil {
					b.logf("redis bus ack %s: %v", stream, err)
				}
			}
		}
	}
}

func (b *RedisBus) handleDelivery(ctx context.Context, kind string, msg redis.XMessage) {
	env, err := envelopeFromValues(msg.Values)
	if err != nil {
		b.deadLetter(ctx, Envelope{Kind: kind, ID: msg.ID}, err)
		return
	}

	if env.ReplyTo != "" {
		b.mu.RLock()
		responder, ok := b.responders[kind]
		b.mu.RUnlock()
		if ok {
			reply, err := responder(ctx, env)
			if err != nil {
				b.deadLetter(ctx, env, err)
				return
			}
			if err := b.client.XAdd(ctx, &redis.XAddArgs{
				Stream: env.ReplyTo,
				Values: envelopeValues(reply),
			}).Err(); err != nil {
				b.deadLetter(ctx, env, err)
			}
			return
		}
	}

	b.mu.RLock()
	handlers := b.handlers[kind]
	b.mu.RUnlock()
	for _, h := range handlers {
		if err := safeHandle(ctx, h, env); err != nil {
			b.deadLetter(ctx, env, err)
		}
	}
}

func (b *RedisBus) deadLetter(ctx context.Context, env Envelope, cause error) {
	letter := DeadLetter{Envelope: env, Reason: cause.Error(), At: time.Now().UTC()}
	b.logf("dead letter %s (%s): %v", env.Kind, env.CorrelationID, cause)

	if err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.cfg.Prefix + "deadletters",
		Values: map[string]any{
			"kind":           env.Kind,
			"correlation_id": env.CorrelationID.String(),
			"payload":        string(env.Payload),
			"reason":         cause.Error(),
		},
	}).Err(); err != nil && ctx.Err() == nil {
		b.logf("dead letter stream: %v", err)
	}

	if b.journal != nil {
		if err := b.journal.Record(letter); err != nil {
			b.logf("dead letter journal: %v", err)
		}
	}
}

func (b *RedisBus) ensureGroup(ctx context.Context, kind string) error {
	err := b.client.XGroupCreateMkStream(ctx, b.stream(kind), b.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (b *RedisBus) stream(kind string) string {
	return b.cfg.Prefix + kind
}

func envelopeValues(env Envelope) map[string]any {
	return map[string]any{
		"id":             env.ID,
		"kind":           env.Kind,
		"correlation_id": env.CorrelationID.String(),
		"payload":        string(env.Payload),
		"reply_to":       env.ReplyTo,
	}
}

func envelopeFromValues(values map[string]any) (Envelope, error) {
	env := Envelope{}
	str := func(key string) string {
		if v, ok := values[key].(string); ok {
			return v
		}
		return ""
	}
	env.ID = str("id")
	env.Kind = str("kind")
	env.Payload = []byte(str("payload"))
	env.ReplyTo = str("reply_to")

	raw := str("correlation_id")
	if raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Envelope{}, fmt.Errorf("parse correlation id: %w", err)
		}
		env.CorrelationID = id
	}
	return env, nil
}
