package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/meshgate/meshgate/internal/dispatch"
	"github.com/meshgate/meshgate/internal/models"
	"github.com/meshgate/meshgate/internal/plugin"
	"github.com/meshgate/meshgate/internal/ratelimit"
	"github.com/meshgate/meshgate/internal/rules"
)

func compiled(t *testing.T, seq int, r *rules.Rule) *rules.Rule {
	t.Helper()
	if r.ID == "" {
		r.ID = r.Name
	}
	if err := r.Compile(seq, true); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return r
}

func testGateway(t *testing.T, rs ...*rules.Rule) (*Gateway, *dispatch.Queue) {
	t.Helper()

	bus := plugin.NewBus(0, nil)
	bus.Register(&plugin.Plugin{
		Name: "weather",
		Methods: map[string]plugin.Method{
			models.DefaultMethod: func(context.Context, map[string]any) (string, error) {
				return "sunny 21C", nil
			},
		},
	})
	bus.Register(&plugin.Plugin{
		Name: "flaky",
		Methods: map[string]plugin.Method{
			models.DefaultMethod: func(context.Context, map[string]any) (string, error) {
				return "", errors.New("upstream down")
			},
		},
	})

	queue := dispatch.NewQueue()
	matcher := rules.NewMatcher(rs, ratelimit.New(), nil)
	g := New(matcher, plugin.NewExecutor(bus, 0, nil), dispatch.NewAssembler(queue), nil, nil)
	return g, queue
}

// TestHandleMatchedRule: immediate text first, then plugin output, with the
// failing call suppressed from the air.
func TestHandleMatchedRule(t *testing.T) {
	rule := compiled(t, 0, &rules.Rule{
		Name:     "wx",
		Keywords: []string{"weather"},
		Response: "Fetching forecast...",
		Calls: []models.PluginCall{
			{Plugin: "weather", Preamble: "WX:"},
			{Plugin: "flaky"},
		},
	})
	g, queue := testGateway(t, rule)

	g.Handle(context.Background(), &models.InboundMessage{
		Sender: "node1", Channel: 0, Text: "weather please", Timestamp: time.Now(), Direct: true,
	})

	if queue.Len() != 2 {
		t.Fatalf("queue has %d messages, want 2", queue.Len())
	}
	first, _ := queue.Pop()
	if first.Content != "Fetching forecast..." || first.Recipient != "node1" {
		t.Fatalf("first = %+v", first)
	}
	second, _ := queue.Pop()
	if second.Content != "WX: sunny 21C" {
		t.Fatalf("second = %+v", second)
	}
}

// TestHandleNoMatchIsSilent enqueues nothing for unmatched traffic.
func TestHandleNoMatchIsSilent(t *testing.T) {
	rule := compiled(t, 0, &rules.Rule{Name: "wx", Keywords: []string{"weather"}})
	g, queue := testGateway(t, rule)

	g.Handle(context.Background(), &models.InboundMessage{
		Sender: "node1", Channel: 2, Text: "anyone copy?", Timestamp: time.Now(),
	})

	if queue.Len() != 0 {
		t.Fatalf("queue has %d messages, want silence", queue.Len())
	}
}

// TestRunDrainsStream handles messages from the channel until it closes.
func TestRunDrainsStream(t *testing.T) {
	rule := compiled(t, 0, &rules.Rule{
		Name: "ping", Keywords: []string{"ping"}, Response: "pong",
	})
	g, queue := testGateway(t, rule)

	in := make(chan *models.InboundMessage, 3)
	for i := 0; i < 3; i++ {
		in <- &models.InboundMessage{Sender: "n", Channel: 0, Text: "ping", Direct: true}
	}
	close(in)

	g.Run(context.Background(), in)

	// No cooldown configured, so all three respond.
	if queue.Len() != 3 {
		t.Fatalf("queue has %d messages, want 3", queue.Len())
	}
}

// TestRunLetsInFlightHandlersFinish: closing the inbound stream (how
// shutdown stops intake) does not abort a handler mid-call; Run returns
// only after the slow plugin's output reached the queue.
func TestRunLetsInFlightHandlersFinish(t *testing.T) {
	bus := plugin.NewBus(0, nil)
	bus.Register(&plugin.Plugin{
		Name: "slow",
		Methods: map[string]plugin.Method{
			models.DefaultMethod: func(ctx context.Context, _ map[string]any) (string, error) {
				select {
				case <-time.After(50 * time.Millisecond):
					return "done", nil
				case <-ctx.Done():
					return "", ctx.Err()
				}
			},
		},
	})

	rule := compiled(t, 0, &rules.Rule{
		Name:     "slow",
		Keywords: []string{"work"},
		Calls:    []models.PluginCall{{Plugin: "slow"}},
	})
	queue := dispatch.NewQueue()
	matcher := rules.NewMatcher([]*rules.Rule{rule}, ratelimit.New(), nil)
	g := New(matcher, plugin.NewExecutor(bus, 0, nil), dispatch.NewAssembler(queue), nil, nil)

	in := make(chan *models.InboundMessage, 1)
	in <- &models.InboundMessage{Sender: "n", Channel: 0, Text: "work", Direct: true}
	close(in)

	g.Run(context.Background(), in)

	msg, ok := queue.Pop()
	if !ok || msg.Content != "done" {
		t.Fatalf("slow handler output = %v, %v; want \"done\"", msg, ok)
	}
}

// TestStatusPlugin answers calls and pings.
func TestStatusPlugin(t *testing.T) {
	bus := plugin.NewBus(0, nil)
	if err := bus.Register(StatusPlugin(time.Now())); err != nil {
		t.Fatalf("Register: %v", err)
	}

	resp, err := bus.Call(context.Background(), plugin.CoreCaller, "status", "generate_content", nil, 0)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Data == "" {
		t.Error("status content empty")
	}

	resp, err = bus.Send(context.Background(), plugin.CoreCaller, "status", "ping", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp == nil || resp.Data != "pong" {
		t.Fatalf("ping response = %+v", resp)
	}
}
