// Package api exposes the REST interface of openrouted: submitting routes,
// inspecting their execution ledger, resuming paused routes and toggling
// whether a running route may prompt its account holder.
package api
