// Package audit records who did what to which resource, and with what outcome.
//
// A Logger builds an Event from the action, the options passed by the caller
// and the values its extractors find in the context, then hands it to a
// Storage. The package has no infrastructure dependencies: storages live next
// to the database code that backs them.
//
//	log := audit.NewLogger(storage,
//	    audit.WithRequestIDExtractor(requestIDFromContext),
//	)
//
//	err := log.Log(ctx, "refund.requested",
//	    audit.WithUserID(userID),
//	    audit.WithResource("order", orderID),
//	    audit.WithMetadata("amount", "12.50"),
//	)
//
// Failed actions are recorded with LogError, which stores the error text and
// marks the event with ResultError.
package audit
