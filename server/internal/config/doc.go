// Package config loads the analysis server configuration from the `server:`
// section of a YAML file.
//
// Config fields:
//   - HTTPPort         : port for the REST API and WebSocket hub (default 8080)
//   - Auth.Mode        : "apikey", "bearer" or "none"
//   - Auth.KeyEnv      : environment variable holding the expected API key
//   - Auth.Header      : HTTP header carrying the API key (default "x-api-key")
//   - Auth.SecretEnv   : environment variable holding the HS256 JWT secret
//   - Session.TTL      : idle time after which a session is evicted (default 30m)
//   - Analysis         : default churn threshold for new sessions
//   - MaxUploadBytes   : largest accepted dataset upload (default 64 MiB)
//   - BroadcastInterval: WebSocket refresh period (default 30s)
//
// Load(path) applies defaults before unmarshalling, then validates.
package config
