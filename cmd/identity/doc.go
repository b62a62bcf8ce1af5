// Package identity resolves chat participants to canonical user records.
//
// The user table itself is owned by the accounts service; this package only reads it.
// Resolvers accept either a user id (UUID) or a username and return the same User.
package identity
