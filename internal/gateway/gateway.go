// Package gateway ties the dispatch core together: it consumes the inbound
// message stream, runs the matcher, and feeds matched work to the executor
// and assembler.
package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meshgate/meshgate/internal/audit"
	"github.com/meshgate/meshgate/internal/dispatch"
	"github.com/meshgate/meshgate/internal/models"
	"github.com/meshgate/meshgate/internal/plugin"
	"github.com/meshgate/meshgate/internal/rules"
)

// Gateway is the inbound half of the dispatch core. Each message is handled
// on its own goroutine so a plugin call that suspends on I/O never blocks
// the servicing of other inbound traffic.
type Gateway struct {
	matcher   *rules.Matcher
	exec      *plugin.Executor
	assembler *dispatch.Assembler
	auditor   *audit.Logger // optional
	logger    *slog.Logger

	wg sync.WaitGroup
}

// New wires a gateway.
func New(matcher *rules.Matcher, exec *plugin.Executor, assembler *dispatch.Assembler, auditor *audit.Logger, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		matcher:   matcher,
		exec:      exec,
		assembler: assembler,
		auditor:   auditor,
		logger:    logger,
	}
}

// Run consumes the inbound stream until it closes or ctx is cancelled,
// then waits for in-flight handlers.
func (g *Gateway) Run(ctx context.Context, in <-chan *models.InboundMessage) {
	for {
		select {
		case <-ctx.Done():
			g.wg.Wait()
			return
		case msg, ok := <-in:
			if !ok {
				g.wg.Wait()
				return
			}
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				g.Handle(ctx, msg)
			}()
		}
	}
}

// Handle processes one inbound message. A message that matches nothing gets
// no response: silence is intentional, not an error.
func (g *Gateway) Handle(ctx context.Context, msg *models.InboundMessage) {
	rule := g.matcher.Match(ctx, msg)
	if rule == nil {
		return
	}

	g.logger.Info("rule fired",
		"rule", rule.ID,
		"sender", msg.Sender,
		"channel", msg.Channel,
		"emergency", rule.Emergency)
	g.recordFire(ctx, rule, msg)

	// Immediate text goes out before any plugin output.
	g.assembler.RuleText(rule, msg)

	if len(rule.Calls) == 0 {
		return
	}
	results := g.exec.Execute(ctx, rule.Calls, plugin.Trigger{
		Source:  rule.ID,
		Sender:  msg.Sender,
		Channel: msg.Channel,
	})
	g.assembler.CallResults(rule, msg, results)
	g.recordCalls(ctx, rule, msg, results)
}

func (g *Gateway) recordFire(ctx context.Context, rule *rules.Rule, msg *models.InboundMessage) {
	if g.auditor == nil {
		return
	}
	err := g.auditor.Record(ctx, &audit.Entry{
		Kind:    audit.KindRuleFire,
		Source:  rule.ID,
		Sender:  msg.Sender,
		Channel: msg.Channel,
		Success: true,
	})
	if err != nil {
		g.logger.Warn("audit write failed", "error", err)
	}
}

func (g *Gateway) recordCalls(ctx context.Context, rule *rules.Rule, msg *models.InboundMessage, results []plugin.CallResult) {
	if g.auditor == nil {
		return
	}
	for i := range results {
		res := &results[i]
		e := &audit.Entry{
			Kind:     audit.KindPluginCall,
			Source:   res.Plugin + "." + res.Method,
			Sender:   msg.Sender,
			Channel:  res.Channel,
			Chars:    len(res.Content),
			Success:  !res.Failed(),
			Duration: res.Duration,
		}
		if res.Err != nil {
			e.Error = res.Err.Error()
		}
		if err := g.auditor.Record(ctx, e); err != nil {
			g.logger.Warn("audit write failed", "error", err)
		}
	}
}

// Wait blocks until all in-flight message handlers finish, bounded by
// grace.
func (g *Gateway) Wait(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		g.logger.Warn("handlers still running at shutdown", "grace", grace)
	}
}
