package presence

import (
	"context"
	"errors"
)

// ErrConnClosed is returned by connection operations after the gateway has disconnected
var ErrConnClosed = errors.New("gateway connection closed")

// Dialer opens authenticated connections to the presence gateway
type Dialer interface {
	// Dial connects and authenticates, returning once the connection is ready to be synced
	Dial(ctx context.Context, token string) (Conn, error)
}

// Conn is a single live connection to the presence gateway
type Conn interface {
	// Groups returns the groups this connection belongs to
	Groups() []GroupID

	// Members returns the members of a group as currently loaded locally
	Members(GroupID) []Member

	// Member looks up a user in the locally loaded membership of a group
	Member(GroupID, UserID) (Status, bool)

	// FetchMembers asks the gateway for the full membership of a group with current statuses
	FetchMembers(context.Context, GroupID) ([]Member, error)

	// Events is the stream of live status changes
	Events() <-chan Member

	// Done is closed when the connection has been lost or closed
	Done() <-chan struct{}

	Close() error
}
