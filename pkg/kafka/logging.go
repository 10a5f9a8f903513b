package kafka

import (
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// clientLog receives kafka-go's internal client messages. The client logs
// outside any request context, so it gets its own structured logger rather
// than the request-scoped application one.
var clientLog = zap.Must(zap.NewProduction()).Sugar().Named("kafka")

func clientErrorLogger() kafka.LoggerFunc {
	return kafka.LoggerFunc(clientLog.Errorf)
}
