// Package server hosts the MediaBin REST API behind a single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, CORS, security headers, rate limiting, and bearer-token auth so
// handlers all share common protections and instrumentation.
package server
