// Package oauth keeps one bearer credential per vendor valid for the
// process lifetime: authorization-URL construction, the one-shot
// authorization-code exchange, refresh, and the periodic expiry check the
// scheduler drives through EnsureFresh. Tokens are never persisted.
package oauth
