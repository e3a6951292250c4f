// Package mfa provides the second-factor primitives of the auth core:
// RFC 6238 time-based one-time passwords with configurable step, digits, and
// drift tolerance, plus single-use backup codes hashed at rest.
package mfa
