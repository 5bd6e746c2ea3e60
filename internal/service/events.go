package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictex/internal/domain"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Publisher fans committed engine events out to the signal bus, the audit
// log and operator alerts. Failures are logged and never reported to the
// caller: the state change they describe is already durable.
type Publisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	logger   *slog.Logger
}

// NewPublisher creates a Publisher. bus, audit and notifier may be nil.
func NewPublisher(bus domain.SignalBus, audit domain.AuditStore, notifier Notifier, logger *slog.Logger) *Publisher {
	return &Publisher{bus: bus, audit: audit, notifier: notifier, logger: logger}
}

// Emit publishes an event on channel and appends it to the channel's stream.
func (p *Publisher) Emit(ctx context.Context, channel, eventType, marketID string, data any) {
	if p == nil || p.bus == nil {
		return
	}
	payload, err := json.Marshal(domain.Event{
		Type:     eventType,
		MarketID: marketID,
		Data:     data,
		At:       time.Now().UTC(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "publisher: marshal event failed",
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "publisher: publish failed",
			slog.String("channel", channel),
			slog.String("type", eventType),
			slog.String("error", err.Error()),
		)
	}
	if err := p.bus.StreamAppend(ctx, channel, payload); err != nil {
		p.logger.WarnContext(ctx, "publisher: stream append failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

// Audit writes an audit log entry.
func (p *Publisher) Audit(ctx context.Context, event string, detail map[string]any) {
	if p == nil || p.audit == nil {
		return
	}
	if err := p.audit.Log(ctx, event, detail); err != nil {
		p.logger.WarnContext(ctx, "publisher: audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Alert forwards an operator notification.
func (p *Publisher) Alert(ctx context.Context, event, title, message string) {
	if p == nil || p.notifier == nil {
		return
	}
	if err := p.notifier.Notify(ctx, event, title, message); err != nil {
		p.logger.WarnContext(ctx, "publisher: notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

const lockRetryInterval = 10 * time.Millisecond

// acquireWait retries lm.Acquire until it succeeds or wait elapses.
func acquireWait(ctx context.Context, lm domain.LockManager, key string, ttl, wait time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		unlock, err := lm.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("%w: lock %s: %w", domain.ErrStore, key, err)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockHeld)
		}

		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: lock %s: %w", domain.ErrStore, key, ctx.Err())
		case <-timer.C:
		}
	}
}

func optionLockKey(optionID string) string {
	return "option:" + optionID
}

func marketLockKey(marketID string) string {
	return "market:" + marketID
}

// validationf builds a domain.ErrValidation with a message.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, fmt.Sprintf(format, args...))
}

// lookup maps a not-found result onto a validation error. Other errors pass
// through unchanged.
func lookup(err error, format string, args ...any) error {
	if errors.Is(err, domain.ErrNotFound) {
		return validationf(format, args...)
	}
	return err
}
