package store

import "time"

// Symbol graph domain types

type Symbol struct {
	ID                 int64
	QualifiedName      string
	Name               string
	Kind               string
	Language           string
	FilePath           string
	StartLine          int
	EndLine            int
	Signature          string
	SemanticTags       []string
	ComplexityMetrics  string
	SemanticRole       string
	ArchitecturalLayer string
	QualityScore       *float64
}

type Relationship struct {
	ID           int64
	FromSymbolID int64
	ToSymbolID   int64
	Type         string
	Confidence   float64
	Strength     *float64
	Evidence     string
}

type Embedding struct {
	ID           int64
	SymbolID     int64
	Vector       []float64
	Dimensions   int
	ModelVersion string
	Metadata     string
}

// Clustering domain types

type Cluster struct {
	ID                  int64
	Name                string
	Type                string
	Centroid            []float64
	SimilarityThreshold float64
	Quality             float64
	Description         string
}

type ClusterMembership struct {
	ID         int64
	ClusterID  int64
	SymbolID   int64
	Similarity float64
	Role       string
}

// Insight domain types

type Insight struct {
	ID                int64
	Type              string
	Category          string
	Severity          string
	Confidence        float64
	Priority          int
	Title             string
	Description       string
	AffectedSymbolIDs []int64
	ClusterID         *int64
	Metrics           string
	Reasoning         string
	DetectedAt        time.Time
	Status            string
}

type Recommendation struct {
	ID               int64
	InsightID        int64
	Action           string
	Description      string
	Effort           string
	Impact           string
	Priority         int
	RelatedSymbolIDs []int64
}

// Clone detection domain types

type Fragment struct {
	ID            int64
	FilePath      string
	NodeType      string
	StartLine     int
	EndLine       int
	StructureHash string
	SemanticHash  string
	TokenCount    int
	Complexity    int
	ParentContext string
}

type Clone struct {
	ID          int64
	CloneType   int
	Similarity  float64
	Fragment1ID int64
	Fragment2ID int64
}

type CloneGroup struct {
	ID                    int64
	CloneType             int
	StructureHash         string
	MemberCount           int
	TotalLines            int
	PatternDescription    string
	RefactoringSuggestion string
}

type AntiPattern struct {
	ID          int64
	PatternName string
	Description string
	Severity    string
	FilePath    string
	Suggestion  string
}

// Run audit type

type EnrichmentRun struct {
	ID                    string
	StartedAt             time.Time
	FinishedAt            time.Time
	SymbolsUpdated        int
	EmbeddingsStored      int
	ClustersStored        int
	MembershipsStored     int
	InsightsStored        int
	RecommendationsStored int
	RelationshipsStored   int
	ErrorCount            int
}
