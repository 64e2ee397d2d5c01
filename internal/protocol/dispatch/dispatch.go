// Package dispatch routes a normalized message to its domain handler,
// enforcing the channel-privacy invariant on the way.
package dispatch

import (
	"context"
	"fmt"

	"social_fed/internal/model"
	"social_fed/internal/protocol"
)

type (
	// Delivery is the channel context a message arrived on.
	Delivery struct {
		// Private is true for deliveries to a single recipient's
		// endpoint, false for the public batch channel.
		Private bool

		// Sender is the envelope signer's handle.
		Sender string

		// UserGUID identifies the recipient of a private delivery.
		UserGUID string
	}

	// Handler consumes one normalized message. Idempotency (duplicate
	// GUIDs) is each handler's own responsibility; the dispatcher only
	// guarantees at-most-once invocation per inbound message.
	Handler func(ctx context.Context, del Delivery, msg *model.Message) error

	Dispatcher struct {
		handlers map[model.MessageType]Handler
	}
)

// routes is the closed type set with its privacy requirements. A type
// missing here is unsupported no matter what handlers are registered.
var routes = map[model.MessageType]struct{ privateOnly bool }{
	model.TypeAccountMigration:  {privateOnly: true},
	model.TypeAccountDeletion:   {},
	model.TypeComment:           {},
	model.TypeContact:           {privateOnly: true},
	model.TypeConversation:      {privateOnly: true},
	model.TypeLike:              {},
	model.TypeMessage:           {privateOnly: true},
	model.TypeParticipation:     {privateOnly: true},
	model.TypePhoto:             {},
	model.TypePollParticipation: {},
	model.TypeProfile:           {privateOnly: true},
	model.TypeReshare:           {},
	model.TypeRetraction:        {},
	model.TypeStatusMessage:     {},
}

func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[model.MessageType]Handler)}
}

func (d *Dispatcher) Register(t model.MessageType, h Handler) {
	d.handlers[t] = h
}

// Dispatch routes msg to its handler. A private-only type arriving on the
// public channel is rejected before the handler is ever looked at.
func (d *Dispatcher) Dispatch(ctx context.Context, del Delivery, msg *model.Message) error {
	route, ok := routes[msg.Type]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrUnsupportedMessageType, msg.Type)
	}
	if route.privateOnly && !del.Private {
		return fmt.Errorf("%w: %s on public channel", protocol.ErrPrivacyViolation, msg.Type)
	}

	h, ok := d.handlers[msg.Type]
	if !ok {
		return fmt.Errorf("%w: no handler for %s", protocol.ErrUnsupportedMessageType, msg.Type)
	}
	return h(ctx, del, msg)
}
