package otel

// Metric prefixes, one per subsystem.
const (
	PrefixCore      = "janode"
	PrefixTransport = "janode.transport"
)
