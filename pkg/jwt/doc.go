// Package jwt verifies HS256 access tokens issued by the authentication
// service and exposes the caller to handlers as a Principal.
//
// Tokens are parsed with github.com/golang-jwt/jwt/v5 restricted to HS256.
// The subject claim must be the user UUID; the email claim is optional and is
// used for processor receipts.
//
//	v, err := jwt.New(cfg)
//	if err != nil {
//		return err
//	}
//	r.With(jwt.Middleware(v)).Get("/user/orders", handler)
//
//	p, ok := jwt.PrincipalFromContext(r.Context())
//
// Sign exists for tests and local tooling; production tokens come from the
// authentication service.
package jwt
