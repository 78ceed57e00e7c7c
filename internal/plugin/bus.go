package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// CoreCaller identifies the dispatch core itself on the bus. The core is
// trusted and bypasses capability checks; plugin callers are checked against
// their registered grants.
const CoreCaller = ""

// Bus routes method calls and messages to registered plugins. Permission is
// checked once at the bus boundary before any plugin code runs; invocations
// may suspend for the duration of the plugin's own I/O without holding the
// registry lock, so calls to different plugins overlap freely.
type Bus struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin

	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewBus creates an empty bus. defaultTimeout bounds calls whose caller
// passes no explicit timeout; zero means 30 seconds.
func NewBus(defaultTimeout time.Duration, logger *slog.Logger) *Bus {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		plugins:        make(map[string]*Plugin),
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
}

// Register adds a plugin to the registry. Names are unique; capability
// grants are immutable after this point.
func (b *Bus) Register(p *Plugin) error {
	if p == nil || p.Name == "" {
		return fmt.Errorf("cannot register unnamed plugin")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.plugins[p.Name]; exists {
		return fmt.Errorf("plugin %q already registered", p.Name)
	}
	b.plugins[p.Name] = p
	b.logger.Info("plugin registered",
		"plugin", p.Name,
		"methods", len(p.Methods),
		"handler", p.Handler != nil)
	return nil
}

// Get returns the named plugin, if registered.
func (b *Bus) Get(name string) (*Plugin, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.plugins[name]
	return p, ok
}

// Plugins returns all registered plugins.
func (b *Bus) Plugins() []*Plugin {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Plugin, 0, len(b.plugins))
	for _, p := range b.plugins {
		out = append(out, p)
	}
	return out
}

// callerAllowed checks the caller's grant for cap. The core caller always
// passes; an unregistered caller never does.
func (b *Bus) callerAllowed(caller string, cap Capability) error {
	if caller == CoreCaller {
		return nil
	}

	b.mu.RLock()
	p, ok := b.plugins[caller]
	b.mu.RUnlock()

	if !ok {
		return fmt.Errorf("caller %q: %w", caller, ErrPluginNotFound)
	}
	if !p.Capabilities.Has(cap) {
		return fmt.Errorf("caller %q lacks %s: %w", caller, cap, ErrPermissionDenied)
	}
	return nil
}

// Call invokes the named method on the named plugin with the argument
// mapping and waits up to timeout (zero = bus default). Failures are typed:
// ErrPluginNotFound, ErrMethodNotFound, ErrPermissionDenied, ErrTimeout, or
// a *HandlerError wrapping the method's own failure.
func (b *Bus) Call(ctx context.Context, caller, plugin, method string, args map[string]any, timeout time.Duration) (*Response, error) {
	if err := b.callerAllowed(caller, CapPluginMessaging); err != nil {
		return nil, err
	}

	p, ok := b.Get(plugin)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", plugin, ErrPluginNotFound)
	}
	fn, ok := p.Methods[method]
	if !ok {
		return nil, fmt.Errorf("plugin %q method %q: %w", plugin, method, ErrMethodNotFound)
	}

	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		content string
		err     error
	}
	done := make(chan result, 1)
	go func() {
		content, err := fn(callCtx, args)
		done <- result{content, err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, &HandlerError{Plugin: plugin, Method: method, Err: res.err}
		}
		return &Response{OK: true, Data: res.content, Plugin: plugin, Type: method}, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("plugin %q method %q after %v: %w", plugin, method, timeout, ErrTimeout)
	}
}

// Send delivers a point-to-point message to the target's handler. A nil
// response with nil error means the target exists but registered no handler.
func (b *Bus) Send(ctx context.Context, sender, target, msgType string, data any) (*Response, error) {
	if err := b.callerAllowed(sender, CapPluginMessaging); err != nil {
		return nil, err
	}

	p, ok := b.Get(target)
	if !ok {
		return nil, fmt.Errorf("plugin %q: %w", target, ErrPluginNotFound)
	}
	if p.Handler == nil {
		return nil, nil
	}

	msg := &Message{Target: target, Type: msgType, Data: data, Sender: sender}
	resp, err := p.Handler(ctx, msg)
	if err != nil {
		return nil, &HandlerError{Plugin: target, Method: "handler", Err: err}
	}
	if resp != nil {
		resp.Plugin = target
		resp.Type = msgType
	}
	return resp, nil
}

// Broadcast fans a message out to every plugin with a handler and collects
// the responses. One failing handler never aborts delivery to the rest; it
// is logged and simply absent from the result.
func (b *Bus) Broadcast(ctx context.Context, sender, msgType string, data any) []*Response {
	if err := b.callerAllowed(sender, CapPluginMessaging); err != nil {
		b.logger.Warn("broadcast denied", "sender", sender, "type", msgType, "error", err)
		return nil
	}

	targets := b.Plugins()

	var wg sync.WaitGroup
	responses := make([]*Response, len(targets))
	for i, p := range targets {
		if p.Handler == nil || p.Name == sender {
			continue
		}
		wg.Add(1)
		go func(idx int, p *Plugin) {
			defer wg.Done()
			msg := &Message{Type: msgType, Data: data, Sender: sender}
			resp, err := p.Handler(ctx, msg)
			if err != nil {
				b.logger.Warn("broadcast handler failed",
					"plugin", p.Name, "type", msgType, "error", err)
				return
			}
			if resp != nil {
				resp.Plugin = p.Name
				resp.Type = msgType
				responses[idx] = resp
			}
		}(i, p)
	}
	wg.Wait()

	var out []*Response
	for _, r := range responses {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}
