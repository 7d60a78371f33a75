// Package api exposes the billing service over HTTP under /api/v1/billing.
//
// User routes authenticate with a Bearer token issued by the auth service
// and act on the caller only. Scheduler routes drive reconciliation and are
// guarded by a shared token in the X-Scheduler-Token header. Every body is
// the handler package envelope: {"data": ...} or {"error": {...}}.
package api
