package dispatch

import (
	"strings"

	"github.com/meshgate/meshgate/internal/models"
	"github.com/meshgate/meshgate/internal/plugin"
	"github.com/meshgate/meshgate/internal/rules"
	"github.com/meshgate/meshgate/internal/schedule"
)

// Assembler resolves delivery descriptors for every unit of outbound
// content and enqueues the result. It never reorders within one rule's or
// job's own output sequence; cross-trigger ordering is the queue's
// priority discipline.
type Assembler struct {
	queue *Queue
}

// NewAssembler creates an assembler feeding the given queue.
func NewAssembler(queue *Queue) *Assembler {
	return &Assembler{queue: queue}
}

// resolveRecipient applies the delivery-mode table: direct always answers
// the sender, broadcast always goes wide, auto answers the sender only on
// the reserved direct-message channel.
func resolveRecipient(mode models.DeliveryMode, sender string, channel int) string {
	switch mode {
	case models.DeliveryDirect:
		if sender != "" {
			return sender
		}
		return models.BroadcastID
	case models.DeliveryBroadcast:
		return models.BroadcastID
	default: // auto
		if channel == models.DirectChannel && sender != "" {
			return sender
		}
		return models.BroadcastID
	}
}

// merge prepends the declared preamble to content for the constrained link.
func merge(preamble, content string) string {
	if preamble == "" {
		return content
	}
	return preamble + " " + content
}

// RuleText enqueues a matched rule's immediate text response.
func (a *Assembler) RuleText(r *rules.Rule, msg *models.InboundMessage) {
	if r.Response == "" {
		return
	}
	priority := models.PriorityNormal
	if r.Emergency {
		priority = models.PriorityHigh
	}
	a.queue.Push(&models.OutboundMessage{
		Recipient: resolveRecipient(r.Delivery, msg.Sender, msg.Channel),
		Channel:   msg.Channel,
		Content:   r.Response,
		Priority:  priority,
	})
}

// CallResults enqueues the successful outputs of a rule's call sequence in
// order. Failed calls carry no content and are skipped here; they were
// already logged by the executor.
func (a *Assembler) CallResults(r *rules.Rule, msg *models.InboundMessage, results []plugin.CallResult) {
	for i := range results {
		res := &results[i]
		if res.Failed() || strings.TrimSpace(res.Content) == "" {
			continue
		}
		a.queue.Push(&models.OutboundMessage{
			Recipient: resolveRecipient(r.Delivery, msg.Sender, res.Channel),
			Channel:   res.Channel,
			Content:   merge(res.Preamble, res.Content),
			Priority:  res.Priority,
		})
	}
}

// JobOutput enqueues a scheduled job's content. Scheduled output has no
// triggering sender and always targets its channel as a broadcast.
func (a *Assembler) JobOutput(out schedule.Output) {
	a.queue.Push(&models.OutboundMessage{
		Recipient: models.BroadcastID,
		Channel:   out.Channel,
		Content:   merge(out.Preamble, out.Content),
		Priority:  out.Priority,
	})
}
