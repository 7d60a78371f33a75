// Package binder fills request structs from an *http.Request.
//
// JSON decodes a strict application/json body (unknown fields and trailing
// data are rejected, size is capped). Path fills fields tagged `path:"name"`
// from router parameters; any type implementing encoding.TextUnmarshaler,
// such as uuid.UUID, is supported alongside strings and integers.
//
//	type confirmRequest struct {
//		PaymentID string `path:"payment_id"`
//	}
//	handler.Wrap(h, handler.WithBinders[confirmRequest](binder.Path(chi.URLParam)))
package binder
