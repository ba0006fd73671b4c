package grove

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jward/grove/internal/store"
)

// relationshipBatchSize is the multi-row insert size for inferred
// relationships. On a batch failure the coordinator falls back to per-row
// inserts so one malformed row cannot void the rest of the batch.
const relationshipBatchSize = 1000

// errorList collects per-unit, non-fatal errors for one persistence run.
// It is an explicit value threaded through each step rather than engine
// state, so concurrent Persist calls never share an accumulator.
type errorList struct {
	msgs []string
}

func (e *errorList) addf(format string, args ...any) {
	e.msgs = append(e.msgs, fmt.Sprintf(format, args...))
}

// Persist writes an enrichment result to the graph store under one
// transaction, resolving symbol keys to durable ids through keyToID.
//
// Write order: symbol updates, embeddings, clusters and memberships,
// insights and recommendations, then relationships in batches. A missing
// key mapping for any individual unit records an error and skips that unit;
// processing continues. An error that escapes a step aborts the run: all
// partial writes roll back and the returned Stats carries zeroed counters
// so a failed run can never read as partial success.
//
// Callers always receive a Stats value, even alongside a non-nil error.
func (e *Engine) Persist(ctx context.Context, result *EnrichmentResult, keyToID map[string]int64) (*Stats, error) {
	start := time.Now()
	stats := &Stats{RunID: uuid.NewString(), Errors: []string{}}
	errs := &errorList{}

	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("persist: begin: %w", err)
		stats.Errors = []string{err.Error()}
		stats.ProcessingTimeMs = time.Since(start).Milliseconds()
		return stats, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	err = e.persistAll(tx, result, keyToID, stats, errs)
	if err == nil {
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("persist: commit: %w", commitErr)
		} else {
			committed = true
		}
	}

	stats.ProcessingTimeMs = time.Since(start).Milliseconds()
	if err != nil {
		// Full rollback: nothing the counters describe was committed, so
		// zero them rather than report misleading success counts.
		*stats = Stats{
			RunID:            stats.RunID,
			ProcessingTimeMs: stats.ProcessingTimeMs,
			Errors:           []string{err.Error()},
		}
		e.log.Error("enrichment run rolled back", zap.String("run_id", stats.RunID), zap.Error(err))
		e.recordRun(start, stats)
		return stats, err
	}

	stats.Errors = append(stats.Errors, errs.msgs...)
	e.log.Info("enrichment run committed",
		zap.String("run_id", stats.RunID),
		zap.Int("symbols_updated", stats.SymbolsUpdated),
		zap.Int("relationships_stored", stats.RelationshipsStored),
		zap.Int("errors", len(stats.Errors)),
		zap.Int64("elapsed_ms", stats.ProcessingTimeMs),
	)
	e.recordRun(start, stats)
	return stats, nil
}

// persistAll runs the ordered write sequence inside tx.
func (e *Engine) persistAll(tx *sql.Tx, result *EnrichmentResult, keyToID map[string]int64, stats *Stats, errs *errorList) error {
	if err := e.persistSymbolUpdates(tx, result, keyToID, stats, errs); err != nil {
		return fmt.Errorf("persist symbols: %w", err)
	}
	if err := e.persistEmbeddings(tx, result.Embeddings, keyToID, stats, errs); err != nil {
		return fmt.Errorf("persist embeddings: %w", err)
	}
	tempToDurable, err := e.persistClusters(tx, result.Clusters, keyToID, stats, errs)
	if err != nil {
		return fmt.Errorf("persist clusters: %w", err)
	}
	if err := e.persistInsights(tx, result.Insights, keyToID, tempToDurable, stats, errs); err != nil {
		return fmt.Errorf("persist insights: %w", err)
	}
	if err := e.persistRelationships(tx, result.Relationships, stats, errs); err != nil {
		return fmt.Errorf("persist relationships: %w", err)
	}
	return nil
}

// persistSymbolUpdates applies derived contexts and inferred tags to the
// symbols table. Tag appends are read-modify-write; the enclosing
// transaction serializes them for this run.
func (e *Engine) persistSymbolUpdates(tx *sql.Tx, result *EnrichmentResult, keyToID map[string]int64, stats *Stats, errs *errorList) error {
	keys := make([]string, 0, len(result.Contexts))
	for key := range result.Contexts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		symCtx := result.Contexts[key]
		id, ok := keyToID[key]
		if !ok {
			errs.addf("symbol update: no durable id for %q", key)
			e.log.Warn("skipping symbol update", zap.String("symbol", key))
			continue
		}

		metrics := ""
		if len(symCtx.ComplexityMetrics) > 0 {
			b, _ := json.Marshal(symCtx.ComplexityMetrics)
			metrics = string(b)
		}
		if err := store.UpdateSymbolEnrichmentTx(tx, id, metrics, symCtx.SemanticRole, symCtx.ArchitecturalLayer, nil); err != nil {
			errs.addf("symbol update %q: %v", key, err)
			e.log.Warn("symbol update failed", zap.String("symbol", key), zap.Error(err))
			continue
		}
		tags := append(append([]string{}, symCtx.UsagePatterns...), symCtx.QualityIndicators...)
		if len(tags) > 0 {
			if _, err := store.AppendSymbolTagsTx(tx, id, tags); err != nil {
				errs.addf("symbol tags %q: %v", key, err)
				continue
			}
		}
		stats.SymbolsUpdated++
	}

	for _, tag := range result.Tags {
		if _, err := store.AppendSymbolTagsTx(tx, tag.SymbolID, []string{tag.Tag}); err != nil {
			errs.addf("tag %q on symbol %d: %v", tag.Tag, tag.SymbolID, err)
			e.log.Warn("tag append failed", zap.Int64("symbol_id", tag.SymbolID), zap.String("tag", tag.Tag), zap.Error(err))
		}
	}
	return nil
}

func (e *Engine) persistEmbeddings(tx *sql.Tx, embeddings []Embedding, keyToID map[string]int64, stats *Stats, errs *errorList) error {
	for _, emb := range embeddings {
		id, ok := keyToID[emb.SymbolKey]
		if !ok {
			errs.addf("embedding: no durable id for %q", emb.SymbolKey)
			e.log.Warn("skipping embedding", zap.String("symbol", emb.SymbolKey))
			continue
		}
		metadata := ""
		if len(emb.Metadata) > 0 {
			b, _ := json.Marshal(emb.Metadata)
			metadata = string(b)
		}
		err := store.UpsertEmbeddingTx(tx, &store.Embedding{
			SymbolID:     id,
			Vector:       emb.Vector,
			Dimensions:   emb.Dimensions,
			ModelVersion: emb.ModelVersion,
			Metadata:     metadata,
		})
		if err != nil {
			errs.addf("embedding %q: %v", emb.SymbolKey, err)
			e.log.Warn("embedding store failed", zap.String("symbol", emb.SymbolKey), zap.Error(err))
			continue
		}
		stats.EmbeddingsStored++
	}
	return nil
}

// persistClusters inserts clusters and memberships, building the
// temp-id -> durable-id map as it goes.
func (e *Engine) persistClusters(tx *sql.Tx, clusters []Cluster, keyToID map[string]int64, stats *Stats, errs *errorList) (map[int64]int64, error) {
	tempToDurable := make(map[int64]int64, len(clusters))
	for _, c := range clusters {
		durableID, err := store.InsertClusterTx(tx, &store.Cluster{
			Name:                c.Name,
			Type:                c.Type,
			Centroid:            c.Centroid,
			SimilarityThreshold: c.SimilarityThreshold,
			Quality:             c.Quality,
			Description:         c.Description,
		})
		if err != nil {
			errs.addf("cluster %q: %v", c.Name, err)
			e.log.Warn("cluster store failed", zap.String("cluster", c.Name), zap.Error(err))
			continue
		}
		tempToDurable[c.TempID] = durableID
		stats.ClustersStored++

		for _, m := range c.Members {
			symID, ok := keyToID[m.SymbolKey]
			if !ok {
				errs.addf("cluster %q member: no durable id for %q", c.Name, m.SymbolKey)
				continue
			}
			err := store.InsertMembershipTx(tx, &store.ClusterMembership{
				ClusterID:  durableID,
				SymbolID:   symID,
				Similarity: m.Similarity,
				Role:       m.Role,
			})
			if err != nil {
				errs.addf("cluster %q member %q: %v", c.Name, m.SymbolKey, err)
				continue
			}
			stats.ClusterMembershipsStored++
		}
	}
	return tempToDurable, nil
}

// persistInsights stores insights and their recommendations. A temporary
// cluster id with no durable mapping nulls the insight's cluster_id; that is
// expected, not an error.
func (e *Engine) persistInsights(tx *sql.Tx, insights []Insight, keyToID map[string]int64, tempToDurable map[int64]int64, stats *Stats, errs *errorList) error {
	for _, ins := range insights {
		var affected []int64
		for _, key := range ins.AffectedSymbols {
			id, ok := keyToID[key]
			if !ok {
				errs.addf("insight %q: no durable id for affected symbol %q", ins.Title, key)
				continue
			}
			affected = append(affected, id)
		}

		var clusterID *int64
		if ins.ClusterTempID != nil {
			if durable, ok := tempToDurable[*ins.ClusterTempID]; ok {
				clusterID = &durable
			}
		}

		metrics := ""
		if len(ins.Metrics) > 0 {
			b, _ := json.Marshal(ins.Metrics)
			metrics = string(b)
		}
		insightID, err := store.InsertInsightTx(tx, &store.Insight{
			Type:              ins.Type,
			Category:          ins.Category,
			Severity:          ins.Severity,
			Confidence:        ins.Confidence,
			Priority:          ins.Priority,
			Title:             ins.Title,
			Description:       ins.Description,
			AffectedSymbolIDs: affected,
			ClusterID:         clusterID,
			Metrics:           metrics,
			Reasoning:         ins.Reasoning,
			DetectedAt:        time.Now(),
			Status:            "open",
		})
		if err != nil {
			errs.addf("insight %q: %v", ins.Title, err)
			e.log.Warn("insight store failed", zap.String("insight", ins.Title), zap.Error(err))
			continue
		}
		stats.InsightsStored++

		for _, rec := range ins.Recommendations {
			var related []int64
			for _, key := range rec.RelatedSymbols {
				if id, ok := keyToID[key]; ok {
					related = append(related, id)
				} else {
					errs.addf("recommendation %q: no durable id for %q", rec.Action, key)
				}
			}
			_, err := store.InsertRecommendationTx(tx, &store.Recommendation{
				InsightID:        insightID,
				Action:           rec.Action,
				Description:      rec.Description,
				Effort:           rec.Effort,
				Impact:           rec.Impact,
				Priority:         rec.Priority,
				RelatedSymbolIDs: related,
			})
			if err != nil {
				errs.addf("recommendation %q: %v", rec.Action, err)
				continue
			}
			stats.RecommendationsStored++
		}
	}
	return nil
}

// persistRelationships writes inferred relationships in multi-row
// insert-or-ignore batches. RelationshipsStored counts attempted inserts,
// not rows affected: SQLite does not report per-logical-row conflicts for
// OR IGNORE batches, so the attempted count is a documented approximation.
func (e *Engine) persistRelationships(tx *sql.Tx, rels []InferredRelationship, stats *Stats, errs *errorList) error {
	for batchStart := 0; batchStart < len(rels); batchStart += relationshipBatchSize {
		end := batchStart + relationshipBatchSize
		if end > len(rels) {
			end = len(rels)
		}
		batch := make([]*store.Relationship, 0, end-batchStart)
		for _, r := range rels[batchStart:end] {
			strength := r.Strength
			batch = append(batch, &store.Relationship{
				FromSymbolID: r.FromSymbolID,
				ToSymbolID:   r.ToSymbolID,
				Type:         r.Type,
				Confidence:   r.Confidence,
				Strength:     &strength,
				Evidence:     r.Evidence,
			})
		}

		if err := store.InsertRelationshipsBatchTx(tx, batch); err == nil {
			stats.RelationshipsStored += len(batch)
			continue
		} else {
			e.log.Warn("relationship batch failed, falling back to per-row inserts",
				zap.Int("batch_size", len(batch)), zap.Error(err))
		}

		// Per-row fallback: one malformed row must not void the batch.
		for _, r := range batch {
			if _, err := store.InsertRelationshipTx(tx, r); err != nil {
				errs.addf("relationship %d->%d (%s): %v", r.FromSymbolID, r.ToSymbolID, r.Type, err)
				continue
			}
			stats.RelationshipsStored++
		}
	}
	return nil
}

// recordRun writes the audit row for a finished run. Best effort; the run
// table lives outside the main transaction so rolled-back runs still leave
// a trace.
func (e *Engine) recordRun(start time.Time, stats *Stats) {
	run := &store.EnrichmentRun{
		ID:                    stats.RunID,
		StartedAt:             start,
		FinishedAt:            time.Now(),
		SymbolsUpdated:        stats.SymbolsUpdated,
		EmbeddingsStored:      stats.EmbeddingsStored,
		ClustersStored:        stats.ClustersStored,
		MembershipsStored:     stats.ClusterMembershipsStored,
		InsightsStored:        stats.InsightsStored,
		RecommendationsStored: stats.RecommendationsStored,
		RelationshipsStored:   stats.RelationshipsStored,
		ErrorCount:            len(stats.Errors),
	}
	if err := e.store.InsertRun(run); err != nil {
		e.log.Warn("run audit write failed", zap.String("run_id", stats.RunID), zap.Error(err))
	}
}

// PersistClones stores extracted fragments, detects clones against all
// stored fragments, and persists clones, groups, and derived anti-patterns
// in one transaction.
func (e *Engine) PersistClones(ctx context.Context, fragments []*Fragment) (*CloneReport, error) {
	report := &CloneReport{Errors: []string{}}
	errs := &errorList{}

	tx, err := e.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("persist clones: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, f := range fragments {
		if _, err := store.UpsertFragmentTx(tx, f); err != nil {
			errs.addf("fragment %s:%d: %v", f.FilePath, f.StartLine, err)
		}
	}

	// Compare against everything stored, including fragments upserted above.
	candidates, err := store.FragmentsForComparisonTx(tx, minCloneTokens)
	if err != nil {
		return report, fmt.Errorf("persist clones: load candidates: %w", err)
	}
	report.FragmentsAnalyzed = len(candidates)

	byID := make(map[int64]*Fragment, len(candidates))
	for _, f := range candidates {
		byID[f.ID] = f
	}

	clones := DetectClones(candidates)
	for _, c := range clones {
		if _, err := store.InsertCloneTx(tx, c); err != nil {
			errs.addf("clone %d/%d: %v", c.Fragment1ID, c.Fragment2ID, err)
		}
	}

	groups, members := GroupClones(clones, byID)
	for i, g := range groups {
		groupID, err := store.UpsertCloneGroupTx(tx, g)
		if err != nil {
			errs.addf("clone group %s: %v", g.StructureHash, err)
			continue
		}
		for _, fragID := range members[int64(i)] {
			if err := store.InsertGroupMemberTx(tx, groupID, fragID); err != nil {
				errs.addf("clone group member %d: %v", fragID, err)
			}
		}
	}

	// Anti-patterns are derived wholesale from this pass; recompute from scratch.
	if err := store.ClearAntiPatternsTx(tx); err != nil {
		return report, fmt.Errorf("persist clones: %w", err)
	}
	antiPatterns := DetectAntiPatterns(clones, groups, members, byID)
	for _, ap := range antiPatterns {
		if _, err := store.InsertAntiPatternTx(tx, ap); err != nil {
			errs.addf("antipattern %q: %v", ap.PatternName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("persist clones: commit: %w", err)
	}
	committed = true

	report.Clones = clones
	report.Groups = groups
	report.AntiPatterns = antiPatterns
	report.Errors = append(report.Errors, errs.msgs...)
	e.log.Info("clone pass committed",
		zap.Int("fragments", report.FragmentsAnalyzed),
		zap.Int("clones", len(clones)),
		zap.Int("groups", len(groups)),
		zap.Int("antipatterns", len(antiPatterns)),
	)
	return report, nil
}
