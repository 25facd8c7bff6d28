// Package auth verifies the credentials peers present when opening a session.
//
// Accessories authenticate to a Hub, and Hubs to the Server, with HTTP Basic
// credentials whose username is the peer's UUID. Passwords are stored in
// configuration as Argon2id PHC strings produced by HashPassword.
//
// A peer configured without a hash is accepted with any password; callers
// log a warning when that happens.
package auth
