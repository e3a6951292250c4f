// Package ratelimit provides Redis-backed fixed-window rate limiting and an
// account lockout guard. Both live in the shared store so limits hold across
// process restarts and multiple instances.
package ratelimit
