package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/meshgate/meshgate/internal/models"
)

// Trigger carries the context a call sequence was fired from: a matched
// rule's message, or a scheduled job. Sender is empty for jobs.
type Trigger struct {
	Source  string // rule id or job name, for logs and audit
	Sender  string
	Channel int
}

// CallResult is the outcome of one plugin call in a sequence. A failed call
// has Err set and no content; the sequence always runs to completion, so the
// result slice is the same length and order as the call list.
type CallResult struct {
	Plugin   string
	Method   string
	Content  string
	Preamble string
	Channel  int // call-level override, else the trigger's channel
	Priority models.Priority
	Duration time.Duration
	Err      error
}

// Failed reports whether the call produced no usable content.
func (r *CallResult) Failed() bool { return r.Err != nil }

// Executor drives ordered plugin-call sequences through the bus. Sequencing
// is a hard guarantee: each call completes before the next starts, and calls
// from one sequence never interleave.
type Executor struct {
	bus     *Bus
	timeout time.Duration // per call
	logger  *slog.Logger
}

// NewExecutor creates an executor. timeout bounds each individual call; zero
// uses the bus default.
func NewExecutor(bus *Bus, timeout time.Duration, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{bus: bus, timeout: timeout, logger: logger}
}

// Execute runs calls strictly in declared order and returns one result per
// call. Failures (not-found, permission, timeout, handler error) are
// recorded in place and never abort the remaining calls; the caller decides
// whether to surface or suppress them.
func (e *Executor) Execute(ctx context.Context, calls []models.PluginCall, trig Trigger) []CallResult {
	results := make([]CallResult, 0, len(calls))

	for i := range calls {
		call := &calls[i]
		res := CallResult{
			Plugin:   call.Plugin,
			Method:   call.MethodName(),
			Preamble: call.Preamble,
			Channel:  trig.Channel,
			Priority: call.Priority,
		}
		if call.Channel != nil {
			res.Channel = *call.Channel
		}

		start := time.Now()
		resp, err := e.bus.Call(ctx, CoreCaller, call.Plugin, res.Method, e.callArgs(call, trig), e.timeout)
		res.Duration = time.Since(start)

		if err != nil {
			res.Err = err
			e.logger.Warn("plugin call failed",
				"source", trig.Source,
				"plugin", call.Plugin,
				"method", res.Method,
				"error", err)
		} else {
			res.Content = renderContent(resp.Data)
		}
		results = append(results, res)
	}
	return results
}

// callArgs copies the declared argument mapping and injects the trigger's
// sender and channel when the config did not set them, so plugins can
// personalize output without per-rule boilerplate.
func (e *Executor) callArgs(call *models.PluginCall, trig Trigger) map[string]any {
	args := make(map[string]any, len(call.Args)+2)
	for k, v := range call.Args {
		args[k] = v
	}
	if _, ok := args["sender"]; !ok && trig.Sender != "" {
		args["sender"] = trig.Sender
	}
	if _, ok := args["channel"]; !ok {
		args["channel"] = trig.Channel
	}
	return args
}

// renderContent flattens a plugin response payload to the string that goes
// on the air. Non-string payloads are JSON-encoded.
func renderContent(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
