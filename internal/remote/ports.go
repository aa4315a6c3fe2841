package remote

import (
	"context"
)

// Deliverer is the outbound port for sync deliveries. Implementations either
// deliver the mutation to the remote side or return an error; retry policy
// belongs to the caller.
type Deliverer interface {
	Deliver(ctx context.Context, m Mutation) error
}

// Pinger is implemented by deliverers that can cheaply probe connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
