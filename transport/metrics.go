package transport

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/meetecho/janode-go/internal/otel"
)

var (
	connectionsOpened     metric.Int64Counter
	connectAttemptsFailed metric.Int64Counter

	framesSent     metric.Int64Counter
	framesReceived metric.Int64Counter
	pingsFailed    metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("janode.transport", intotel.PrefixTransport)

	f.Int64Counter(&connectionsOpened, "connections.opened",
		metric.WithDescription("Links established to a Janus endpoint"))

	f.Int64Counter(&connectAttemptsFailed, "connect.attempts.failed",
		metric.WithDescription("Failed connect attempts during open/failover"))

	f.Int64Counter(&framesSent, "frames.sent",
		metric.WithDescription("Outbound frames written to the link"))

	f.Int64Counter(&framesReceived, "frames.received",
		metric.WithDescription("Inbound frames read from the link"))

	f.Int64Counter(&pingsFailed, "pings.failed",
		metric.WithDescription("WebSocket liveness pings that timed out"))
}
