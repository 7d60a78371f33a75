// Package handler provides typed HTTP handlers for JSON APIs.
//
// A HandlerFunc receives a bound request value and returns a Response; Wrap
// turns it into an http.HandlerFunc, runs the configured binders and hands
// any failure to an ErrorHandler:
//
//	type cancelRequest struct{}
//
//	func cancel(ctx handler.Context, _ cancelRequest) handler.Response {
//		sub, err := svc.Cancel(ctx, userID(ctx))
//		if err != nil {
//			return handler.Error(err)
//		}
//		return handler.JSON(sub)
//	}
//
//	r.Post("/cancel", handler.Wrap(cancel, handler.WithErrorHandler[handler.Context, cancelRequest](onErr)))
//
// Successful responses are rendered as {"data": ...}; failures as
// {"error": {"code", "message", "details"}} where code is the HTTPError key.
package handler
