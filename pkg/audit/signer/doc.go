// Package signer maintains the tamper-evident hash chain over the audit
// log. Each event's canonical payload incorporates the signature of the
// actor's previous event, so altering any historical event would require
// re-signing every subsequent sidecar with the private key.
//
// Signing backends are pluggable behind the Provider interface: a local
// HMAC-SHA256 secret for development, PEM key files (RSA-PSS or Ed25519)
// for production, and a remote transit-style HMAC service for deployments
// that keep keys in a KMS.
package signer
