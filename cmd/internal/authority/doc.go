// Package authority is the access manager consumed by tunnel connection handlers.
//
// It resolves token data through the token record store and drives the
// session authority with it. Tokens that cannot be found surface as
// session.CodeAccessError responses, never as Go errors.
package authority
