// Package auth is the identity gate in front of the relay: it stores
// password hashes, checks credentials and issues the bearer tokens that
// connections present when they open.
package auth

import "errors"

var (
	ErrInvalidCredentials  = errors.New("invalid username or password")
	ErrInvalidRegistration = errors.New("invalid registration")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenGeneration     = errors.New("token generation failed")
)
