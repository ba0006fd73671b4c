package grove

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/jward/grove/internal/runtime"
	"github.com/jward/grove/internal/store"
)

// Engine orchestrates the enrichment pipeline: similarity inference,
// heuristic relationship inference, clone detection, and transactional
// persistence into the graph store.
//
// One Engine serves one database. A single Enrich or Persist call is
// single-threaded and sequential; the Engine holds no per-run mutable
// state, so separate runs may proceed concurrently as long as they do not
// touch overlapping symbol sets (tag updates are read-modify-write and rely
// on the per-run transaction for serialization).
type Engine struct {
	store   *store.Store
	runtime *runtime.Runtime
	log     *zap.Logger

	simThreshold float64
	scriptsDir   string
	scriptsFS    fs.FS
	languages    map[string]bool // nil means all languages
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Default is a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithSimilarityThreshold overrides the minimum cosine similarity for
// semantic_similarity relationships. Default is DefaultSimilarityThreshold.
func WithSimilarityThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.simThreshold = threshold
	}
}

// WithRuleScriptsDir points the Engine at a directory of Risor rule scripts
// (*.risor) run after the built-in heuristic rules.
func WithRuleScriptsDir(dir string) Option {
	return func(e *Engine) {
		e.scriptsDir = dir
	}
}

// WithRuleScriptsFS loads Risor rule scripts from the given filesystem
// instead of from disk. Enables embedding scripts via go:embed.
func WithRuleScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithLanguages restricts which languages clone detection will process.
func WithLanguages(languages ...string) Option {
	return func(e *Engine) {
		e.languages = make(map[string]bool, len(languages))
		for _, lang := range languages {
			e.languages[lang] = true
		}
	}
}

// New creates an Engine backed by a SQLite database at dbPath.
func New(dbPath string, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("grove: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("grove: migrate: %w", err)
	}

	e := &Engine{
		store:        s,
		log:          zap.NewNop(),
		simThreshold: DefaultSimilarityThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.scriptsFS != nil {
		e.runtime = runtime.NewRuntime(e.scriptsDir, runtime.WithRuntimeFS(e.scriptsFS))
	} else if e.scriptsDir != "" {
		e.runtime = runtime.NewRuntime(e.scriptsDir)
	}

	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// EnrichmentInput is what the extraction/embedding subsystem hands to one
// enrichment pass: pre-computed artifacts keyed by stable symbol keys.
type EnrichmentInput struct {
	Embeddings []Embedding              `json:"embeddings,omitempty"`
	Contexts   map[string]SymbolContext `json:"contexts,omitempty"`
	Clusters   []Cluster                `json:"clusters,omitempty"`
	Insights   []Insight                `json:"insights,omitempty"`
}

// Enrich runs the full enrichment pass over the symbols already in the
// store: similarity inference over the input embeddings, the built-in
// heuristic rule table, any configured Risor rule scripts, and finally a
// transactional persist of everything together with the caller-provided
// clusters and insights.
func (e *Engine) Enrich(ctx context.Context, input *EnrichmentInput) (*Stats, error) {
	if input == nil {
		input = &EnrichmentInput{}
	}

	keyToID, err := e.store.SymbolKeyToID()
	if err != nil {
		return nil, fmt.Errorf("grove: load symbol keys: %w", err)
	}
	views, edges, err := e.loadSymbolViews()
	if err != nil {
		return nil, fmt.Errorf("grove: load symbol views: %w", err)
	}

	rc := NewRuleContext(views, edges)
	rels, tags := InferHeuristics(rc, BuiltinRules())
	rels = append(rels, InferSimilarities(input.Embeddings, keyToID, e.simThreshold)...)

	if e.runtime != nil {
		scriptRels, scriptTags, err := e.runRuleScripts(ctx, views)
		if err != nil {
			return nil, fmt.Errorf("grove: rule scripts: %w", err)
		}
		rels = append(rels, scriptRels...)
		tags = append(tags, scriptTags...)
	}

	result := &EnrichmentResult{
		Contexts:      input.Contexts,
		Embeddings:    input.Embeddings,
		Clusters:      input.Clusters,
		Insights:      input.Insights,
		Relationships: rels,
		Tags:          tags,
	}
	return e.Persist(ctx, result, keyToID)
}

// loadSymbolViews projects the symbols and relationships tables into the
// in-memory views rules evaluate against.
func (e *Engine) loadSymbolViews() ([]*SymbolView, []Edge, error) {
	symbols, err := e.store.AllSymbols()
	if err != nil {
		return nil, nil, err
	}
	views := make([]*SymbolView, 0, len(symbols))
	for _, s := range symbols {
		views = append(views, &SymbolView{
			ID:            s.ID,
			QualifiedName: s.QualifiedName,
			Name:          s.Name,
			Kind:          s.Kind,
			Language:      s.Language,
			FilePath:      s.FilePath,
			Signature:     s.Signature,
			Tags:          s.SemanticTags,
		})
	}

	rels, err := e.store.AllRelationships()
	if err != nil {
		return nil, nil, err
	}
	edges := make([]Edge, 0, len(rels))
	for _, r := range rels {
		edges = append(edges, Edge{FromID: r.FromSymbolID, ToID: r.ToSymbolID, Type: r.Type})
	}
	return views, edges, nil
}

// runRuleScripts executes every configured Risor rule script over the
// symbol views and converts its emissions.
func (e *Engine) runRuleScripts(ctx context.Context, views []*SymbolView) ([]InferredRelationship, []TagAssignment, error) {
	symbolMaps := make([]map[string]any, 0, len(views))
	for _, v := range views {
		tags := make([]any, 0, len(v.Tags))
		for _, t := range v.Tags {
			tags = append(tags, t)
		}
		symbolMaps = append(symbolMaps, map[string]any{
			"id":             v.ID,
			"qualified_name": v.QualifiedName,
			"name":           v.Name,
			"kind":           v.Kind,
			"language":       v.Language,
			"file_path":      v.FilePath,
			"signature":      v.Signature,
			"tags":           tags,
		})
	}

	scripts, err := e.runtime.RuleScripts()
	if err != nil {
		return nil, nil, err
	}

	var rels []InferredRelationship
	var tags []TagAssignment
	for _, script := range scripts {
		findings, tagFindings, err := e.runtime.RunRuleScript(ctx, script, symbolMaps)
		if err != nil {
			return nil, nil, fmt.Errorf("script %s: %w", script, err)
		}
		for _, f := range findings {
			rels = append(rels, InferredRelationship{
				FromSymbolID: f.FromID,
				ToSymbolID:   f.ToID,
				Type:         f.Type,
				Confidence:   f.Confidence,
				Strength:     f.Confidence,
				Evidence:     fmt.Sprintf(`{"rule":%q}`, script),
			})
		}
		for _, t := range tagFindings {
			tags = append(tags, TagAssignment{SymbolID: t.SymbolID, Tag: t.Tag})
		}
	}
	return rels, tags, nil
}

// AnalyzeFiles extracts AST fragments from the given files and runs a clone
// detection pass over them plus everything already stored. Errors on
// individual files are recorded in the report and skipped.
func (e *Engine) AnalyzeFiles(ctx context.Context, paths []string) (*CloneReport, error) {
	var fragments []*Fragment
	var fileErrs []string
	for _, path := range paths {
		lang, ok := LanguageForFile(path)
		if !ok {
			continue
		}
		if e.languages != nil && !e.languages[lang] {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			fileErrs = append(fileErrs, fmt.Sprintf("read %s: %v", path, err))
			continue
		}
		frags, err := ExtractFragments(ctx, path, content)
		if err != nil {
			fileErrs = append(fileErrs, fmt.Sprintf("extract %s: %v", path, err))
			e.log.Warn("fragment extraction failed", zap.String("path", path), zap.Error(err))
			continue
		}
		fragments = append(fragments, frags...)
	}

	report, err := e.PersistClones(ctx, fragments)
	if report != nil {
		report.Errors = append(fileErrs, report.Errors...)
	}
	return report, err
}

// skipDirs are directories excluded from directory scans.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// AnalyzeDirectory walks root and runs clone detection over all supported
// files, honoring a .gitignore at root if present. Hidden directories,
// node_modules, vendor, and __pycache__ are always skipped.
func (e *Engine) AnalyzeDirectory(ctx context.Context, root string) (*CloneReport, error) {
	var ignore *gitignore.GitIgnore
	if gi, err := gitignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		ignore = gi
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			if ignore != nil && rel != "." && ignore.MatchesPath(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignore != nil && ignore.MatchesPath(rel) {
			return nil
		}
		if _, ok := LanguageForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("grove: walk directory: %w", err)
	}
	return e.AnalyzeFiles(ctx, paths)
}
