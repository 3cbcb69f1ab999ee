// Package token implements the signed-token codec used by the engine:
// compact JWTs carrying subject id, token type, expiry, issued-at, and (for
// refresh tokens) the owning session id in the jti claim.
package token
