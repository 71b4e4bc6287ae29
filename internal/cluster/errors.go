package cluster

import "errors"

var (
	// ErrNoHealthyNode is returned by SelectNode when no node is eligible.
	// Surfaced synchronously; the router never retries or falls back to an
	// unhealthy node.
	ErrNoHealthyNode = errors.New("no healthy node available")

	// ErrUnknownStrategy marks a misconfigured strategy name. Fatal at router
	// construction, never seen at selection time.
	ErrUnknownStrategy = errors.New("unknown balancing strategy")

	// ErrDuplicateNode is returned when registering an id that already exists.
	ErrDuplicateNode = errors.New("node already registered")

	// ErrRegistryFull is returned when the configured node cap is reached.
	ErrRegistryFull = errors.New("node registry full")
)
