// Package session authenticates chat callers from short-lived access tokens.
//
// Access tokens are PASETO v4.public, issued by the accounts service and verified here
// with its public key. Issuing is available only when the secret key is configured
// (dev tooling and tests).
package session
