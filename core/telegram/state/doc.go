// Package state keeps per-user conversation state in memory with idle
// expiry and per-user serialization. It is domain-agnostic.
package state
