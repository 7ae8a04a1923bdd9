// Package channels connects transport adapters to the agent runtime via
// the message bus.
package channels

import (
	"context"

	"github.com/nextlevelbuilder/valet/internal/bus"
)

// NoReply is the sentinel an agent turn produces when nothing should be
// delivered to the user. Dispatch drops it.
const NoReply = "NO_REPLY"

// Channel is one transport adapter.
type Channel interface {
	// Name identifies the transport ("loopback", "telegram", ...).
	Name() string
	// Start begins receiving; it must return promptly after setup.
	Start(ctx context.Context) error
	// Stop shuts the adapter down.
	Stop(ctx context.Context) error
	// Send delivers one outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error
}
