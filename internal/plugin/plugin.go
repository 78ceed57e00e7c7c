// Package plugin owns the feature-module registry, the permission-checked
// message bus between the core and plugins, and the sequential call
// executor used by rules and scheduled jobs.
package plugin

import (
	"context"
	"errors"
	"fmt"
)

// Capability tags gate what a plugin may do through the bus. The set is
// fixed when the plugin is registered.
type Capability string

const (
	CapSendMessages    Capability = "send_messages"
	CapReadSystemState Capability = "read_system_state"
	CapPluginMessaging Capability = "plugin_messaging"
	CapStorage         Capability = "storage"
	CapNetwork         Capability = "network"
	CapScheduling      Capability = "schedule_registration"
)

// CapabilitySet is a plugin's granted capabilities.
type CapabilitySet map[Capability]struct{}

// Capabilities builds a set from the given tags.
func Capabilities(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether the set grants c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Method is a callable exposed by a plugin. It returns the rendered content
// for the caller; a non-nil error becomes a HandlerError at the bus.
type Method func(ctx context.Context, args map[string]any) (string, error)

// Message is a point-to-point or broadcast payload between plugins (or from
// the core). An empty Target means broadcast. The payload belongs to the
// receiving handler for the duration of the call; the bus keeps no copy.
type Message struct {
	Target string
	Type   string
	Data   any
	Sender string
}

// Response is a plugin's answer to a bus message or method call.
type Response struct {
	OK     bool
	Data   any
	Err    string
	Plugin string // responding plugin
	Type   string // echoed message type
}

// Handler receives inter-plugin messages. Plugins without a handler simply
// do not appear in broadcast results.
type Handler func(ctx context.Context, msg *Message) (*Response, error)

// Plugin is one registered feature module: a name, its capability grants, an
// explicit method registry populated at load time, and an optional message
// handler.
type Plugin struct {
	Name         string
	Capabilities CapabilitySet
	Methods      map[string]Method
	Handler      Handler
}

// Typed failures surfaced by the bus. Callers can errors.Is against these to
// tell "nothing registered" apart from "misconfigured".
var (
	ErrPluginNotFound   = errors.New("plugin not found")
	ErrMethodNotFound   = errors.New("method not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrTimeout          = errors.New("plugin call timed out")
)

// HandlerError wraps a failure raised by the plugin's own code, as opposed
// to a routing or permission failure.
type HandlerError struct {
	Plugin string
	Method string
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("plugin %s.%s: %v", e.Plugin, e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
