package gateway

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/meshgate/meshgate/internal/plugin"
)

// StatusPlugin returns the built-in node status plugin, so a stock config
// has at least one callable target. It is read-only: its only grant is
// system state.
func StatusPlugin(started time.Time) *plugin.Plugin {
	return &plugin.Plugin{
		Name:         "status",
		Capabilities: plugin.Capabilities(plugin.CapReadSystemState),
		Methods: map[string]plugin.Method{
			"generate_content": func(_ context.Context, _ map[string]any) (string, error) {
				uptime := time.Since(started).Round(time.Second)
				return fmt.Sprintf("gateway up %s, %d goroutines", uptime, runtime.NumGoroutine()), nil
			},
		},
		Handler: func(_ context.Context, msg *plugin.Message) (*plugin.Response, error) {
			if msg.Type != "ping" {
				return nil, nil
			}
			return &plugin.Response{OK: true, Data: "pong"}, nil
		},
	}
}
