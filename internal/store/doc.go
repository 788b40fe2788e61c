// Package store persists the registry's four JSON documents (tokens, devices,
// properties, instants).
//
// Each document is the unit of locking and atomic replacement. Writers go
// through Update, which holds the document's exclusive lock across the whole
// load-modify-save cycle and releases it on every exit path. Readers go
// through Load and are not locked against writers, so a Load may observe the
// previous version of a document for as long as a concurrent Update is in
// flight.
//
// # Backends
//
//	┌──────────────┐     ┌───────────────────────────────────────────────┐
//	│    Store     │────▶│ FileBackend: <dir>/<doc>.json                 │
//	│ Load/Update  │     │   flock(<doc>.json.lock), tmp + fsync + rename │
//	│ stamp cache  │     ├───────────────────────────────────────────────┤
//	│ counters     │────▶│ SQLiteBackend: documents(name, content, ...)  │
//	└──────────────┘     │   immediate transactions, version stamp       │
//	                     └───────────────────────────────────────────────┘
//
// # Cached documents
//
// Documents listed in Options.Cached are served from memory while their
// backend Stamp is unchanged. The cache belongs to one Store value; it is
// created by New, dropped by Close, and never consulted by another process.
// Every Load decodes a fresh value, so callers can never alias the cache.
//
// # Malformed content
//
// Content that does not parse is logged, counted, and treated as an empty
// document. Comments and trailing commas (hand-edited documents) are accepted.
package store
