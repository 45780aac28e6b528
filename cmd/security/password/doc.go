// Package password provides password hashing and verification utilities for warden.
//
// It implements bcrypt hashing and includes:
// - Configurable bcrypt cost (via environment variables)
// - Password policy validation
// - Strict hash validation during Verify
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
// - The cost floor is 12; weaker costs are rejected at configuration time.
package password
