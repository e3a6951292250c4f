// Package clavis is an embeddable authentication and authorization engine:
// Argon2id password verification with policy and breach checks, account
// lockout, TOTP second factors with backup codes, JWT access tokens paired
// with rotating opaque refresh tokens, Redis-backed sessions with reuse
// detection, and role-based authorization with inheritance and conditions.
//
// Build an engine with the builder:
//
//	engine, err := clavis.New().
//		WithRedis(rdb).
//		WithUserStore(store).
//		WithConfig(cfg).
//		Build(ctx)
//
// The engine is transport-agnostic; HTTP or gRPC handlers call its methods
// and map the sentinel errors to wire responses.
package clavis
