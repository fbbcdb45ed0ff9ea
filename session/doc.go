// Package session persists agent conversations on a sparse wide-column
// store: sessions keyed by (agent, user, id), an ordered event log per
// session, and three tiers of key-value state scoped to the app, the user
// and the session.
//
// Store is the entry point. It speaks to storage only through the Backend
// interface, so the persistence semantics (optimistic versioning, sparse
// rows, recency indexing, payload chunking) live here and the wire details
// live in the adapter package. The tablestore package provides the
// production Backend.
//
// Reads of a single row are strongly consistent. The recency index behind
// ListSessions is application-maintained and best-effort, and the search
// index behind SearchSessions is built asynchronously by the store, so
// both listings can trail the primary table; GetSession is the source of
// truth for any single session.
package session
