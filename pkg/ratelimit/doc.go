// Package ratelimit provides per-IP token-bucket rate limiting middleware for
// Gin HTTP servers, with automatic stale-entry cleanup. The escalation API is
// small but its trigger endpoints fan out real notifications, so callers are
// throttled at the edge.
package ratelimit
