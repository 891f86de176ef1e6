package events

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cuemby/adcm/pkg/log"
	"github.com/cuemby/adcm/pkg/metrics"
	"github.com/cuemby/adcm/pkg/storage"
	"github.com/cuemby/adcm/pkg/types"
	"github.com/rs/zerolog"
)

const (
	batchSize    = 100
	drainPeriod  = 5 * time.Second
	retryInitial = 20 * time.Millisecond
	retryMax     = time.Second
)

func logger() zerolog.Logger {
	return log.WithComponent("events")
}

// Attach feeds the events of every committed transaction to the broker
func (b *Broker) Attach(store *storage.Store) {
	store.OnCommit(func(events []*types.Event) {
		b.Publish(events...)
	})
}

// Sender delivers one event
type Sender interface {
	PostEvent(ctx context.Context, ev *types.Event) error
}

// Emitter drains the store outbox into the status server. Events are sent
// one at a time in commit order; an event that still fails after
// maxRetries retries is logged and discarded.
type Emitter struct {
	store      *storage.Store
	sender     Sender
	maxRetries int
	logger     zerolog.Logger
}

// NewEmitter creates an emitter
func NewEmitter(store *storage.Store, sender Sender, maxRetries int) *Emitter {
	return &Emitter{
		store:      store,
		sender:     sender,
		maxRetries: max(maxRetries, 0),
		logger:     logger(),
	}
}

// Run drains the outbox whenever a transaction commits events, and
// periodically, until ctx is cancelled
func (e *Emitter) Run(ctx context.Context) error {
	ticker := time.NewTicker(drainPeriod)
	defer ticker.Stop()
	for {
		if _, err := e.Drain(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error().Err(err).Msg("outbox drain failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.store.Notify():
		case <-ticker.C:
		}
	}
}

// Drain delivers every pending event and returns how many were sent
func (e *Emitter) Drain(ctx context.Context) (int, error) {
	sent := 0
	for {
		entries, err := e.store.PendingEvents(batchSize)
		if err != nil {
			return sent, err
		}
		if len(entries) == 0 {
			metrics.OutboxPending.Set(0)
			return sent, nil
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return sent, err
			}
			ok := e.deliver(ctx, entry)
			if err := ctx.Err(); err != nil {
				// left in the outbox for the next start
				return sent, err
			}
			if ok {
				sent++
			}
			if err := e.store.AckEvents(entry); err != nil {
				return sent, err
			}
		}
	}
}

// deliver sends one entry with retries and reports whether it got through
func (e *Emitter) deliver(ctx context.Context, entry *storage.OutboxEntry) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitial
	b.MaxInterval = retryMax

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		entry.Attempts++
		err := e.sender.PostEvent(ctx, entry.Event)
		var se *StatusError
		if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
			return struct{}{}, backoff.Permanent(err)
		}
		if errors.Is(err, ErrNotConfigured) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(e.maxRetries+1)))
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		metrics.EventsDropped.Inc()
		e.logger.Warn().Err(err).
			Str("event_id", entry.ID).
			Str("event", entry.Event.String()).
			Int("attempts", entry.Attempts).
			Msg("event discarded")
		return false
	}
	metrics.EventsSent.Inc()
	e.logger.Debug().Str("event_id", entry.ID).Str("event", entry.Event.String()).Msg("event sent")
	return true
}
