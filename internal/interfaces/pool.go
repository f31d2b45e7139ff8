package interfaces

import (
	"context"

	"github.com/ternarybob/roster/internal/models"
)

// ProcessSupervisor owns the automation-server child processes, one per port
type ProcessSupervisor interface {
	Ports() []int
	Shutdown(ctx context.Context) error
}

// Lease is a checked-out session. It owns its slot until Release is called.
type Lease interface {
	Session() BrowserSession
	Port() int
	// Release closes the session and returns the slot. Only the first call has effect.
	Release(ctx context.Context) error
}

// SessionPool hands out authenticated sessions without ever blocking for capacity
type SessionPool interface {
	Checkout(ctx context.Context, creds models.Credentials) (Lease, error)
	Release(ctx context.Context, lease Lease) error
}
