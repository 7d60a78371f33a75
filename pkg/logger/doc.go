// Package logger builds *slog.Logger instances for the billing service.
//
// New applies functional options (format, level, output, static attributes)
// and wraps the resulting handler with LogHandlerDecorator, which pulls
// request-scoped values such as the request id out of context.Context on
// every record. NewFromConfig does the same from environment configuration.
//
// attr.go holds constructors for the attribute keys used across the service
// (user_id, order_id, external_id, sweep, ...) so that every component logs
// the same entity under the same key.
//
//	log := logger.New(
//	    logger.WithEnvironment("production", "billing"),
//	    logger.WithContextExtractors(requestid.LoggerExtractor()),
//	)
//	log.InfoContext(ctx, "order paid", logger.OrderID(order.ID), logger.ExternalID(order.ExternalID))
package logger
