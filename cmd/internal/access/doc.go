// Package access implements the access-token record store.
//
// Each token lives in two files inside the storage directory:
//   - <tokenId>.token2: the record (identity, secret and limits), rarely rewritten.
//   - <tokenId>.usage:  the traffic ledger, rewritten on every AddUsage.
//
// The files are the source of truth. An in-memory cache of immutable
// snapshots sits in front of them; every write goes through a per-token
// lock, and the cache entry for a token is only replaced while that lock is
// held. Reads never lock on a cache hit.
//
// Tokens written by the v1 format (*.token) are upgraded once, when the store is opened.
package access
