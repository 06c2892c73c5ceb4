// Package cache stores downstream responses for routes with a cache
// policy.
//
// Keys carry the route's region as a prefix so a whole region can be
// purged at once. Two backends are available: a sharded in-memory LRU
// with lazy expiry, and Redis. Entries are never served at or after
// their TTL.
package cache
