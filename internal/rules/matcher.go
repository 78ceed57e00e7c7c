package rules

import (
	"context"
	"log/slog"
	"sort"

	"github.com/meshgate/meshgate/internal/models"
	"github.com/meshgate/meshgate/internal/ratelimit"
)

// Matcher evaluates inbound messages against the ordered rule set. At most
// one rule fires per message; a rate-limited match falls through to the next
// matching rule in priority order.
type Matcher struct {
	rules   []*Rule // sorted by (priority, declaration order)
	limiter ratelimit.Store
	logger  *slog.Logger
}

// NewMatcher builds a matcher over the loaded rules. The slice is copied and
// sorted; ties in priority keep declaration order.
func NewMatcher(rs []*Rule, limiter ratelimit.Store, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}

	sorted := make([]*Rule, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority < sorted[j].Priority
		}
		return sorted[i].seq < sorted[j].seq
	})

	return &Matcher{rules: sorted, limiter: limiter, logger: logger}
}

// Match returns the single rule that fires for msg, or nil when no rule
// matches or every matching rule is currently rate-limited. A permitted
// match is already recorded against the limiter when Match returns.
func (m *Matcher) Match(ctx context.Context, msg *models.InboundMessage) *Rule {
	for _, r := range m.rules {
		if !r.Enabled() {
			continue
		}
		if !r.allowsChannel(msg.Channel) {
			continue
		}
		if r.DirectOnly && !msg.Direct {
			continue
		}
		if !r.matchesText(msg.Text) {
			continue
		}

		ok, err := m.limiter.Allow(ctx, r.ID, msg.Sender, r.Cooldown, r.MaxPerHour)
		if err != nil {
			// A broken limiter store denies: on a constrained link a
			// missed response beats a flood.
			m.logger.Warn("rate limiter unavailable, denying fire",
				"rule", r.ID, "sender", msg.Sender, "error", err)
			continue
		}
		if !ok {
			m.logger.Debug("rule rate-limited",
				"rule", r.ID, "sender", msg.Sender)
			continue
		}
		return r
	}
	return nil
}

// Rules returns the matcher's rules in evaluation order.
func (m *Matcher) Rules() []*Rule {
	out := make([]*Rule, len(m.rules))
	copy(out, m.rules)
	return out
}

// SetEnabled hot-toggles the named rule and reports whether it was found.
// This is the only runtime mutation the rule set supports.
func (m *Matcher) SetEnabled(ruleID string, enabled bool) bool {
	for _, r := range m.rules {
		if r.ID == ruleID {
			r.SetEnabled(enabled)
			m.logger.Info("rule toggled", "rule", ruleID, "enabled", enabled)
			return true
		}
	}
	return false
}
