// Package grove is the semantic graph enrichment engine of a multi-language
// code-intelligence pipeline. It takes the symbol graph produced by an
// extraction subsystem and enriches it with inferred relationships, clone
// analysis, and derived insights, all persisted into SQLite under one
// transaction per run.
//
// # Pipeline
//
// An enrichment pass has three inference stages and one persistence stage:
//
//  1. Similarity: pairwise cosine similarity over symbol embedding vectors,
//     emitting semantic_similarity relationships above a threshold.
//
//  2. Heuristics: a data-driven rule table over symbol metadata (names,
//     signatures, existing relationships) inferring inheritance, factory,
//     callback, RAII, data-flow, and pipeline-ordering relationships plus
//     semantic tags. Optional Risor scripts extend the rule set.
//
//  3. Clones: tree-sitter AST fragments hashed structurally and
//     behaviorally, classified into the four-tier clone taxonomy, grouped,
//     and reduced to anti-pattern signals.
//
//  4. Persist: all artifacts written in a fixed order inside a single
//     transaction, with per-unit failure isolation and idempotent
//     insert-or-ignore semantics.
//
// # Usage
//
// Create an Engine, run an enrichment pass over extraction output, and a
// clone pass over source files:
//
//	e, err := grove.New("graph.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	stats, err := e.Enrich(ctx, &grove.EnrichmentInput{
//		Embeddings: embeddings,
//		Clusters:   clusters,
//		Insights:   insights,
//	})
//
//	report, err := e.AnalyzeDirectory(ctx, "path/to/project")
//
// The returned [Stats] is always non-nil: empty Errors with nonzero
// counters means full success, nonzero Errors means best-effort partial
// success, and zeroed counters alongside a returned error means the whole
// run rolled back.
//
// # Idempotence
//
// Re-running the same enrichment twice never duplicates rows. Relationship
// and clone inserts use insert-or-ignore against canonical pair ordering
// (from < to), tag appends check the tag set first, and embeddings and
// clone groups upsert in place. The RelationshipsStored counter counts
// attempted inserts, not affected rows; see [Engine.Persist].
//
// # Rule scripts
//
// Custom heuristic rules live in Risor scripts loaded via
// [WithRuleScriptsDir] or [WithRuleScriptsFS]. Scripts receive a symbols
// list and emit through relate(from_id, to_id, type, confidence) and
// tag(symbol_id, tag). See the internal/runtime package for the full set
// of globals exposed to scripts.
package grove
