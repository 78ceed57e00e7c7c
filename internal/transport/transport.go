// Package transport defines the radio-daemon collaborator boundary and a
// websocket client for it. The core only ever sees these interfaces; the
// physical radio driver lives on the far side of the daemon.
package transport

import (
	"context"

	"github.com/meshgate/meshgate/internal/models"
)

// Sender delivers outbound content to the radio link. Send may block while
// the link is busy; the dispatcher relies on that for backpressure.
type Sender interface {
	Send(ctx context.Context, msg *models.OutboundMessage) error
}

// Receiver exposes the inbound message stream. The channel closes when the
// transport shuts down.
type Receiver interface {
	Messages() <-chan *models.InboundMessage
}
