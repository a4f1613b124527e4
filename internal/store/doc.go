// Package store is the content-store capability used by calculations.
//
// Entities are JSON documents keyed by a content-type uid and a numeric id.
// Relation fields hold ids and can be populated (replaced by the related
// documents) on read. Drivers:
//   - "memory": in-process maps
//   - "file": memory plus a JSON snapshot and write journal on disk
//   - "sqlite": SQLite database file (modernc.org/sqlite, documents as JSON)
package store
