package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/meshgate/meshgate/internal/audit"
	"github.com/meshgate/meshgate/internal/models"
	"github.com/meshgate/meshgate/internal/transport"
)

// Dispatcher is the single consumer of the outbound queue. It paces sends
// with a token bucket so the gateway never floods the air, and records each
// send in the audit log. A slow transport backs pressure up into the queue
// rather than dropping messages.
type Dispatcher struct {
	queue   *Queue
	sender  transport.Sender
	limiter *rate.Limiter
	auditor *audit.Logger // optional
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher draining queue into sender at most
// sendsPerMinute messages per minute (zero = 30), with bursts of one: radio
// airtime has no use for bursts.
func NewDispatcher(queue *Queue, sender transport.Sender, sendsPerMinute int, auditor *audit.Logger, logger *slog.Logger) *Dispatcher {
	if sendsPerMinute <= 0 {
		sendsPerMinute = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   queue,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(float64(sendsPerMinute)/60.0), 1),
		auditor: auditor,
		logger:  logger,
	}
}

// Start launches the drain loop.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.drain(ctx)
}

// Stop closes the queue and waits up to grace for the backlog to flush.
func (d *Dispatcher) Stop(grace time.Duration) error {
	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if d.cancel != nil {
			d.cancel()
		}
		return nil
	case <-time.After(grace):
		if d.cancel != nil {
			d.cancel()
		}
		return fmt.Errorf("dispatcher stop: backlog not flushed after %v", grace)
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	defer d.wg.Done()

	for {
		msg, ok := d.queue.Pop()
		if !ok {
			return
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}

		start := time.Now()
		err := d.sender.Send(ctx, msg)
		if err != nil {
			d.logger.Error("radio send failed",
				"recipient", msg.Recipient,
				"channel", msg.Channel,
				"error", err)
		} else {
			d.logger.Debug("sent",
				"recipient", msg.Recipient,
				"channel", msg.Channel,
				"priority", msg.Priority.String(),
				"chars", len(msg.Content))
		}
		d.record(ctx, msg, time.Since(start), err)
	}
}

func (d *Dispatcher) record(ctx context.Context, msg *models.OutboundMessage, took time.Duration, sendErr error) {
	if d.auditor == nil {
		return
	}
	e := &audit.Entry{
		Kind:      audit.KindSend,
		Source:    "dispatcher",
		Recipient: msg.Recipient,
		Channel:   msg.Channel,
		Chars:     len(msg.Content),
		Success:   sendErr == nil,
		Duration:  took,
	}
	if sendErr != nil {
		e.Error = sendErr.Error()
	}
	if err := d.auditor.Record(ctx, e); err != nil {
		d.logger.Warn("audit write failed", "error", err)
	}
}
