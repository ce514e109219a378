// Package storage persists the reminder collection.
//
// A Backend loads and saves the whole collection; every save replaces the
// previous version atomically. Update is the read-modify-write entry point and
// excludes other processes working on the same path. Drivers:
//   - file:   one JSON document, written to a temp file and renamed into place,
//     with writers serialized by flock on <path>.lock
//   - sqlite: one row per reminder, read and replaced inside one BEGIN IMMEDIATE
//     transaction
//   - memory: process-local, for tests and dry runs
package storage
