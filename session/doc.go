// Package session stores server-side sessions in Redis. Each session backs
// one refresh-token family: the current refresh hash lives under a dedicated
// key that a Lua script compares-and-swaps on rotation, so concurrent
// refreshes resolve to exactly one winner and any replay revokes the family.
package session
