// Package api hosts the HTTP handlers that front the MediaBin REST API.
//
// The handlers assembled by Handler coordinate request validation, token
// awareness, and response shaping while delegating persistence to
// storage.Repository implementations injected at construction time. Token
// issuance and revocation are provided by auth.Issuer and auth.Guard
// instances passed into the handler; the package does not reach for globals
// or singletons and expects callers to supply fully configured dependencies.
//
// Every media payload crosses the boundary in data-URI transfer form via
// internal/transfer; raw bytes never appear in a response field. Errors map
// to a `{"msg": ...}` JSON body at this boundary only — storage and auth
// packages return sentinel errors, never status codes.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced authentication, rate limiting, metrics, and logging
// concerns for the routes that need them. New routes should preserve that
// contract by avoiding duplicate validation and by leaning on the middleware
// guarantees established in the server stack.
package api
