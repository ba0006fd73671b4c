// Package grove enriches an extracted symbol graph with inferred
// relationships, duplicate/clone analysis, and derived insights, persisted
// transactionally into SQLite.
package grove
