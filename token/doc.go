// Package token issues and verifies the credential pair used by the auth
// core: self-contained signed access tokens (HS256 or Ed25519) carrying a
// resolved-permission snapshot, and opaque single-use refresh tokens whose
// secrets are persisted only as SHA-256 hashes.
package token
