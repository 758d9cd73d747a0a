package coordination

import (
	"context"
)

// Coordinator handles distributed coordination: scheduler leadership
// and the executor node registry.
type Coordinator interface {
	// NewElection creates a new election instance for a campaign name.
	NewElection(name string) Election

	// RegisterNode announces an executor node with a TTL in seconds.
	// The node disappears from the registry when heartbeats stop.
	RegisterNode(ctx context.Context, nodeID string, ttl int) error

	// GetActiveNodes lists executor nodes with a live lease.
	GetActiveNodes(ctx context.Context) ([]string, error)

	// Close terminates the coordinator connection.
	Close() error
}

// Election represents a single leader election campaign.
type Election interface {
	// Campaign blocks until leadership is acquired or an error occurs.
	Campaign(ctx context.Context, value string) error

	// Resign releases leadership.
	Resign(ctx context.Context) error

	// Leader returns the current leader's value (if any).
	Leader(ctx context.Context) (string, error)
}
