// Package identity owns user records and credential verification for warden.
//
// It verifies email/password pairs (bcrypt) and an optional TOTP second factor,
// and exposes the minimal user lookup surface the session subsystem needs.
// Registration and profile management live outside this service; CreateUser
// exists for seeding and tests only.
package identity
