package outbox

import (
	"context"
	"log"
	"time"
)

// Dispatcher flushes unsent outbox entries to the bus on an interval.
// Entries are marked sent only after a successful publish, so a crash
// between publish and mark leads to a resend, never a loss.
type Dispatcher struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	logf      func(format string, args ...any)
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(store Store, publisher Publisher, interval time.Duration, batchSize int, logf func(format string, args ...any)) *Dispatcher {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logf == nil {
		logf = log.Printf
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logf:      logf,
	}
}

// Run flushes until the context ends.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Flush(ctx); err != nil && ctx.Err() == nil {
				d.logf("outbox flush: %v", err)
			}
		}
	}
}

// Flush performs one pass: publish unsent entries in ID order, then mark
// the published ones sent. A publish failure stops the pass so ordering
// per correlation id is preserved on the next attempt.
func (d *Dispatcher) Flush(ctx context.Context) error {
	entries, err := d.store.ListUnsent(ctx, d.batchSize)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	sent := make([]int64, 0, len(entries))
	var publishErr error
	for _, entry := range entries {
		if err := d.publisher.Publish(ctx, entry.Kind, entry.CorrelationID, entry.Payload); err != nil {
			publishErr = err
			break
		}
		sent = append(sent, entry.ID)
	}

	if len(sent) > 0 {
		if err := d.store.MarkSent(ctx, sent); err != nil {
			return err
		}
	}
	return publishErr
}
