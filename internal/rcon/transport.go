package rcon

import (
	"context"

	"github.com/ernie/warden/internal/domain"
)

// Transport is one open request/response channel to a game server.
// Implementations are not safe for concurrent use; Session serializes access.
type Transport interface {
	// Login verifies the credentials, returning domain.ErrAuthenticationFailed
	// when the server rejects them.
	Login(ctx context.Context) error
	// Exchange sends one command and returns the complete response text.
	Exchange(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens transports to game servers
type Dialer interface {
	Dial(ctx context.Context, target domain.ServerTarget) (Transport, error)
}

// EventSink receives connection state events
type EventSink interface {
	Publish(event domain.Event)
}
