// Package rules holds the auto-response rule model and the matcher that
// selects at most one rule per inbound message.
package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/meshgate/meshgate/internal/models"
)

// MatchMode selects how a rule's keywords are tested against message text.
type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
	MatchRegex    MatchMode = "regex"
)

// ParseMatchMode maps a config string to a MatchMode. Empty means contains.
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(s) {
	case "", MatchContains:
		return MatchContains, nil
	case MatchExact:
		return MatchExact, nil
	case MatchRegex:
		return MatchRegex, nil
	}
	return MatchContains, fmt.Errorf("unknown match mode %q", s)
}

// Rule is one configured keyword-triggered auto-response. Rules are built
// once at load time and immutable afterwards except for the enabled flag,
// which may be toggled while the gateway runs.
type Rule struct {
	ID            string
	Name          string
	Keywords      []string
	Mode          MatchMode
	CaseSensitive bool
	Priority      int // lower fires first; ties broken by declaration order
	Cooldown      time.Duration
	MaxPerHour    int
	Response      string // immediate text, may be empty
	Calls         []models.PluginCall
	AllowChannels []int // empty = all channels
	DenyChannels  []int
	DirectOnly    bool
	Emergency     bool // escalation hint for external collaborators
	Delivery      models.DeliveryMode

	seq      int // declaration order, set by the loader
	enabled  atomic.Bool
	patterns []*regexp.Regexp // compiled keywords for MatchRegex
}

// Compile finalizes a rule after configuration decoding: records its
// declaration order, applies the initial enabled state, and compiles regex
// keywords. A compile failure is a load-time rule error.
func (r *Rule) Compile(seq int, enabled bool) error {
	r.seq = seq
	r.enabled.Store(enabled)

	if len(r.Keywords) == 0 {
		return fmt.Errorf("rule %q has no keywords", r.Name)
	}
	if r.Mode != MatchRegex {
		return nil
	}

	r.patterns = make([]*regexp.Regexp, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		expr := kw
		if !r.CaseSensitive {
			expr = "(?i)" + expr
		}
		p, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("rule %q keyword %q: %w", r.Name, kw, err)
		}
		r.patterns = append(r.patterns, p)
	}
	return nil
}

// Enabled reports whether the rule may currently fire.
func (r *Rule) Enabled() bool { return r.enabled.Load() }

// SetEnabled hot-toggles the rule.
func (r *Rule) SetEnabled(v bool) { r.enabled.Store(v) }

// allowsChannel applies the allow/deny lists. The deny list wins; an empty
// allow list admits every channel.
func (r *Rule) allowsChannel(ch int) bool {
	for _, d := range r.DenyChannels {
		if d == ch {
			return false
		}
	}
	if len(r.AllowChannels) == 0 {
		return true
	}
	for _, a := range r.AllowChannels {
		if a == ch {
			return true
		}
	}
	return false
}

// matchesText tests the rule's keywords against the message text per the
// rule's match mode.
func (r *Rule) matchesText(text string) bool {
	switch r.Mode {
	case MatchRegex:
		for _, p := range r.patterns {
			if p.MatchString(text) {
				return true
			}
		}
		return false
	case MatchExact:
		candidate := strings.TrimSpace(text)
		for _, kw := range r.Keywords {
			if r.CaseSensitive {
				if candidate == kw {
					return true
				}
			} else if strings.EqualFold(candidate, kw) {
				return true
			}
		}
		return false
	default: // MatchContains
		candidate := text
		if !r.CaseSensitive {
			candidate = strings.ToLower(text)
		}
		for _, kw := range r.Keywords {
			if !r.CaseSensitive {
				kw = strings.ToLower(kw)
			}
			if strings.Contains(candidate, kw) {
				return true
			}
		}
		return false
	}
}
