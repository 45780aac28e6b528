// Package guard holds the Redis-backed abuse controls sitting in front of
// the session endpoints: a brute-force lockout counter keyed by login
// identifier and a logout denylist for access-token IDs.
//
// Both controls fail open. Redis being unreachable degrades protection but
// never locks legitimate users out of authentication; the relational store
// remains the security boundary.
package guard
