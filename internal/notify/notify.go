/*
Package notify fans run notifications out to recipients, renders the run
summary as email and prints the console report.
*/
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/shanehull/listscraper/internal/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 5

// RenderedMessage is a notification ready for delivery.
type RenderedMessage struct {
	Subject string
	Text    string
	HTML    string
}

// Transport delivers one message to one recipient.
type Transport interface {
	Send(ctx context.Context, msg *RenderedMessage, recipient string) error
}

type Dispatcher struct {
	transport   Transport
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewDispatcher builds a dispatcher sending to at most concurrency recipients
// at once. A non-positive concurrency uses DefaultConcurrency. A zero timeout
// leaves each send unbounded.
func NewDispatcher(transport Transport, concurrency int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		transport:   transport,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger,
	}
}

// Dispatch sends msg to every recipient and returns once all sends have
// finished. Each distinct recipient gets exactly one outcome. A send that has
// started runs to completion; recipients not yet started when ctx is canceled
// are marked failed.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *RenderedMessage, recipients []string) map[string]types.NotificationOutcome {
	unique := dedupe(recipients)

	outcomes := make([]types.NotificationOutcome, len(unique))
	for i, r := range unique {
		outcomes[i] = types.NotificationOutcome{Recipient: r, Status: types.NotificationQueued}
	}

	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, recipient := range unique {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				outcomes[i].Status = types.NotificationFailed
				outcomes[i].Reason = fmt.Sprintf("%v: not sent: %v", types.ErrCanceled, err)
				return nil
			}
			outcomes[i] = d.send(ctx, msg, recipient)
			return nil
		})
	}
	_ = g.Wait()

	result := make(map[string]types.NotificationOutcome, len(outcomes))
	for _, o := range outcomes {
		result[o.Recipient] = o
	}
	return result
}

func (d *Dispatcher) send(ctx context.Context, msg *RenderedMessage, recipient string) types.NotificationOutcome {
	sctx := context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, d.timeout)
		defer cancel()
	}

	if err := d.transport.Send(sctx, msg, recipient); err != nil {
		err = fmt.Errorf("%w: %s: %w", types.ErrNotificationFailed, recipient, err)
		d.logger.Warn("Notification failed", zap.String("recipient", recipient), zap.Error(err))
		return types.NotificationOutcome{
			Recipient: recipient,
			Status:    types.NotificationFailed,
			Reason:    err.Error(),
		}
	}

	d.logger.Info("Notification sent", zap.String("recipient", recipient), zap.String("subject", msg.Subject))
	return types.NotificationOutcome{Recipient: recipient, Status: types.NotificationSent}
}

func dedupe(recipients []string) []string {
	seen := make(map[string]bool, len(recipients))
	var out []string
	for _, r := range recipients {
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}
