package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/transport"
	"go.uber.org/zap"
)

// Receipts, roster and presence changes are published in order by a single
// worker. They are best effort: a full queue drops the event, and a later
// receipt covers an earlier one because receipts are cumulative.
func (e *Engine) enqueueControl(evt transport.Event) {
	select {
	case e.control <- evt:
	default:
		e.logger.Warn("control queue full, event dropped",
			zap.String("type", string(evt.Type)),
			zap.String("conversation_id", evt.ConversationID))
	}
}

func (e *Engine) runControl(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-e.control:
			e.publish(ctx, evt)
		}
	}
}

func (e *Engine) publish(ctx context.Context, evt transport.Event) {
	cfg := e.opts.Outbox
	b := backoff.NewExponentialBackOff()
	if cfg.BaseDelay > 0 {
		b.InitialInterval = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	}
	b.MaxElapsedTime = 2 * time.Minute
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	op := func() error {
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := e.transport.Publish(actx, evt)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, chat.ErrTransmissionFailed), errors.Is(err, context.DeadlineExceeded):
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Debug("publish retry",
			zap.Error(err),
			zap.String("type", string(evt.Type)),
			zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil && ctx.Err() == nil {
		e.logger.Warn("event not published",
			zap.Error(err),
			zap.String("type", string(evt.Type)),
			zap.String("conversation_id", evt.ConversationID))
	}
}
