// Package auth provides HTTP authentication middleware for the analysis server.
//
// Middleware(mode, header, key, secret) wraps a handler:
//   - "apikey": the request must carry key in the configured header.
//   - "bearer": the request must carry an HS256 JWT signed with secret in
//     "Authorization: Bearer <token>".
//   - "none" (or empty): every request passes.
//
// Browsers cannot set headers on WebSocket upgrades, so both modes also accept
// the credential in the "token" query parameter.
package auth
