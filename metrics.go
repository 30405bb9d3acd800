package janode

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/meetecho/janode-go/internal/otel"
)

var (
	connectionsActive  metric.Int64UpDownCounter
	sessionsActive     metric.Int64UpDownCounter
	handlesActive      metric.Int64UpDownCounter
	transactionsActive metric.Int64UpDownCounter
)

func init() {
	f := intotel.NewFactory("janode", intotel.PrefixCore)

	f.Int64UpDownCounter(&connectionsActive, "connections.active",
		metric.WithDescription("Open connections to Janus"))

	f.Int64UpDownCounter(&sessionsActive, "sessions.active",
		metric.WithDescription("Live Janus sessions"))

	f.Int64UpDownCounter(&handlesActive, "handles.active",
		metric.WithDescription("Attached plugin handles"))

	f.Int64UpDownCounter(&transactionsActive, "transactions.active",
		metric.WithDescription("In-flight request transactions"))
}
