package models

import (
	"fmt"
	"time"
)

// DirectChannel is the reserved channel number for direct (node-to-node)
// messages. Auto delivery mode replies to the sender on this channel and
// broadcasts everywhere else.
const DirectChannel = 0

// BroadcastID is the reserved recipient meaning "all nodes on this channel".
const BroadcastID = "^all"

// Priority orders outbound sends on the radio link. Higher priorities drain
// first; order within a priority tier is stable.
type Priority int

// PriorityNormal is the zero value, so a priority left unset anywhere (a
// struct literal, a decoded payload) means normal rather than low.
const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

// ParsePriority maps a config string to a Priority. Empty means normal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// String returns the config-file spelling of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityHigh:
		return "high"
	default:
		return "normal"
	}
}

// DeliveryMode controls how a response recipient is resolved.
type DeliveryMode string

const (
	// DeliveryAuto replies to the sender on the direct channel and
	// broadcasts on every other channel. This is the default.
	DeliveryAuto DeliveryMode = "auto"
	// DeliveryDirect always replies to the triggering sender.
	DeliveryDirect DeliveryMode = "direct"
	// DeliveryBroadcast always sends to the broadcast address.
	DeliveryBroadcast DeliveryMode = "broadcast"
)

// ParseDeliveryMode maps a config string to a DeliveryMode. Empty means auto.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case "", DeliveryAuto:
		return DeliveryAuto, nil
	case DeliveryDirect:
		return DeliveryDirect, nil
	case DeliveryBroadcast:
		return DeliveryBroadcast, nil
	}
	return DeliveryAuto, fmt.Errorf("unknown delivery mode %q", s)
}

// InboundMessage is a message received from the radio transport.
type InboundMessage struct {
	Sender    string    `json:"sender"`
	Channel   int       `json:"channel"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Direct    bool      `json:"direct"` // addressed to the gateway node itself
}

// OutboundMessage is a send handed to the radio transport.
type OutboundMessage struct {
	Recipient string   `json:"recipient"` // sender id or BroadcastID
	Channel   int      `json:"channel"`
	Content   string   `json:"content"`
	Priority  Priority `json:"priority"`
}

// DefaultMethod is the plugin method invoked when a call names none.
const DefaultMethod = "generate_content"

// PluginCall names one plugin method invocation with its argument mapping.
// Calls inside a rule or job always execute in declared order; Priority only
// affects where the produced output lands in the outbound queue.
type PluginCall struct {
	Plugin   string         `json:"plugin"`
	Method   string         `json:"method"` // default "generate_content"
	Args     map[string]any `json:"args"`
	Preamble string         `json:"preamble"`
	Channel  *int           `json:"channel,omitempty"` // nil = trigger channel
	Priority Priority       `json:"priority"`
}

// MethodName returns the call's method, falling back to DefaultMethod.
func (c *PluginCall) MethodName() string {
	if c.Method == "" {
		return DefaultMethod
	}
	return c.Method
}
