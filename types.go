package grove

import "github.com/jward/grove/internal/store"

// Public type aliases for internal store types surfaced by the Engine API.
// These are Go type aliases (=), identical to the internal types at compile
// time. External consumers use these names; no conversion is needed.

type Store = store.Store
type Symbol = store.Symbol
type Relationship = store.Relationship
type StoredEmbedding = store.Embedding
type StoredCluster = store.Cluster
type ClusterMembership = store.ClusterMembership
type StoredInsight = store.Insight
type StoredRecommendation = store.Recommendation
type Fragment = store.Fragment
type Clone = store.Clone
type CloneGroup = store.CloneGroup
type AntiPattern = store.AntiPattern
type EnrichmentRun = store.EnrichmentRun

// Enrichment input types. These mirror what the extraction/embedding
// subsystem produces: all symbol references are stable string keys
// (qualified names), resolved to durable ids at persistence time.

// Embedding is one symbol's embedding vector as produced by the embedding
// model. SymbolKey is resolved through the symbol-key map at persist time;
// a key with no mapping skips the embedding and records an error.
type Embedding struct {
	SymbolKey    string         `json:"symbolId"`
	Vector       []float64      `json:"vector"`
	Dimensions   int            `json:"dimensions"`
	ModelVersion string         `json:"modelVersion"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// SymbolContext carries per-symbol derived analysis from the extraction
// subsystem, applied to the symbols table during persistence.
type SymbolContext struct {
	ComplexityMetrics  map[string]float64 `json:"complexityMetrics,omitempty"`
	QualityIndicators  []string           `json:"qualityIndicators,omitempty"`
	SemanticRole       string             `json:"semanticRole,omitempty"`
	ArchitecturalLayer string             `json:"architecturalLayer,omitempty"`
	UsagePatterns      []string           `json:"usagePatterns,omitempty"`
}

// Cluster is an upstream clustering result. TempID is the in-memory id
// assigned by the clustering step; persistence assigns a durable id and
// records the temp->durable mapping for insight remapping.
type Cluster struct {
	TempID              int64           `json:"id"`
	Name                string          `json:"name"`
	Type                string          `json:"type"`
	Centroid            []float64       `json:"centroid,omitempty"`
	SimilarityThreshold float64         `json:"similarityThreshold"`
	Quality             float64         `json:"quality"`
	Description         string          `json:"description,omitempty"`
	Members             []ClusterMember `json:"members"`
}

type ClusterMember struct {
	SymbolKey  string  `json:"symbolId"`
	Similarity float64 `json:"similarity"`
	Role       string  `json:"role,omitempty"`
}

// Insight is a derived finding attached to symbols and optionally a cluster.
// ClusterTempID references the temporary cluster id; if no durable mapping
// exists the insight persists with a null cluster_id; that is expected.
type Insight struct {
	Type            string             `json:"type"`
	Category        string             `json:"category,omitempty"`
	Severity        string             `json:"severity,omitempty"`
	Confidence      float64            `json:"confidence"`
	Priority        int                `json:"priority"`
	Title           string             `json:"title"`
	Description     string             `json:"description,omitempty"`
	AffectedSymbols []string           `json:"affectedSymbols"`
	ClusterTempID   *int64             `json:"clusterId,omitempty"`
	Metrics         map[string]float64 `json:"metrics,omitempty"`
	Reasoning       string             `json:"reasoning,omitempty"`
	Recommendations []Recommendation   `json:"recommendations,omitempty"`
}

type Recommendation struct {
	Action         string   `json:"action"`
	Description    string   `json:"description,omitempty"`
	Effort         string   `json:"effort,omitempty"`
	Impact         string   `json:"impact,omitempty"`
	Priority       int      `json:"priority"`
	RelatedSymbols []string `json:"relatedSymbols,omitempty"`
}

// InferredRelationship is a relationship emitted by similarity or heuristic
// inference, addressed by durable symbol ids. For symmetric types the
// emitter guarantees FromSymbolID < ToSymbolID.
type InferredRelationship struct {
	FromSymbolID int64   `json:"fromSymbolId"`
	ToSymbolID   int64   `json:"toSymbolId"`
	Type         string  `json:"type"`
	Confidence   float64 `json:"confidence"`
	Strength     float64 `json:"strength"`
	Evidence     string  `json:"evidence,omitempty"`
}

// TagAssignment marks a semantic tag to append to a symbol's tag set.
type TagAssignment struct {
	SymbolID int64  `json:"symbolId"`
	Tag      string `json:"tag"`
}

// EnrichmentResult is the full payload handed to the persistence
// coordinator: caller-provided artifacts plus inferred relationships
// and tags.
type EnrichmentResult struct {
	Contexts      map[string]SymbolContext `json:"contexts,omitempty"`
	Embeddings    []Embedding              `json:"embeddings,omitempty"`
	Clusters      []Cluster                `json:"clusters,omitempty"`
	Insights      []Insight                `json:"insights,omitempty"`
	Relationships []InferredRelationship   `json:"relationships,omitempty"`
	Tags          []TagAssignment          `json:"tags,omitempty"`
}

// Stats is the aggregate report for one persistence run. Callers always
// receive one: empty Errors with nonzero counters is full success, nonzero
// Errors with partial counters is best-effort partial success, and zeroed
// counters alongside a returned error is total failure (nothing committed).
type Stats struct {
	RunID                    string   `json:"runId"`
	SymbolsUpdated           int      `json:"symbolsUpdated"`
	EmbeddingsStored         int      `json:"embeddingsStored"`
	ClustersStored           int      `json:"clustersStored"`
	ClusterMembershipsStored int      `json:"clusterMembershipsStored"`
	InsightsStored           int      `json:"insightsStored"`
	RecommendationsStored    int      `json:"recommendationsStored"`
	RelationshipsStored      int      `json:"relationshipsStored"`
	ProcessingTimeMs         int64    `json:"processingTimeMs"`
	Errors                   []string `json:"errors"`
}

// CloneReport summarizes one clone detection pass.
type CloneReport struct {
	FragmentsAnalyzed int            `json:"fragmentsAnalyzed"`
	Clones            []*Clone       `json:"clones"`
	Groups            []*CloneGroup  `json:"groups"`
	AntiPatterns      []*AntiPattern `json:"antiPatterns"`
	Errors            []string       `json:"errors"`
}
