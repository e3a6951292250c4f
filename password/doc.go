// Package password implements credential hardening for the auth core:
// Argon2id hashing with parameters embedded in the PHC hash string, policy
// validation with a 0-100 strength score, and k-anonymity breach lookups
// that never transmit more than a 5-character digest prefix.
package password
