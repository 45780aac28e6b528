// Package session implements warden's refresh-token family state machine.
//
// It provides multi-session tracking with refresh-token rotation, stolen-token
// (reuse) detection, and per-session/per-family revocation.
//
// Access tokens are short-lived JWTs signed with an Ed25519 keypair.
// Refresh tokens are opaque random strings; only their hash is stored in
// Postgres (HMAC-SHA256 when WARDEN_TOKEN_HMAC_KEY is set; otherwise SHA-256
// for dev/back-compat).
//
// The refresh_tokens table is the single source of truth for token validity.
// The sessions table is a human-readable mirror updated best-effort; it may
// lag or fail without compromising security.
//
// Transport (HTTP cookies) integration is intentionally out of scope here.
package session
