// Package security covers the admin HTTP surface: API key generation and
// hashing, the bearer-token middleware and the TLS setup for the admin
// listener. The camera TCP protocol itself is unauthenticated.
package security
