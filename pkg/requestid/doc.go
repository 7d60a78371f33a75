// Package requestid correlates log records across the scheduler and the API.
//
// Middleware reuses a well-formed incoming X-Request-ID or generates one, stores
// it in the request context and echoes it in the response. Transport does the
// reverse for outgoing calls: the scheduler starts each tick with a fresh id
// (New) and every hook request it makes carries it, so a sweep can be traced
// from the trigger to the reconciler's log lines. LoggerExtractor plugs the id
// into pkg/logger.
package requestid
