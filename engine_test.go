package grove

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrich_EndToEnd(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	shapeID := seedSymbol(t, e, "Shape", "Shape", "class", "")
	circleID := seedSymbol(t, e, "Circle", "Circle", "class", "")
	baseDrawID := seedSymbol(t, e, "Shape::draw", "draw", "method", "virtual void draw() const")
	seedSymbol(t, e, "Circle::draw", "draw", "method", "void draw() const override")

	input := &EnrichmentInput{
		Embeddings: []Embedding{
			{SymbolKey: "Shape", Vector: []float64{1, 0}, Dimensions: 2},
			{SymbolKey: "Circle", Vector: []float64{1, 0}, Dimensions: 2},
		},
	}

	stats, err := e.Enrich(context.Background(), input)
	require.NoError(t, err)
	assert.Empty(t, stats.Errors)
	assert.Equal(t, 2, stats.EmbeddingsStored)
	// Heuristics: overrides_virtual + inherits_from; similarity: one pair.
	assert.Equal(t, 3, stats.RelationshipsStored)

	overrides, err := e.Store().RelationshipsByType(RelOverridesVirtual)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, baseDrawID, overrides[0].ToSymbolID)

	inherits, err := e.Store().RelationshipsByType(RelInheritsFrom)
	require.NoError(t, err)
	require.Len(t, inherits, 1)
	assert.Equal(t, circleID, inherits[0].FromSymbolID)
	assert.Equal(t, shapeID, inherits[0].ToSymbolID)

	sims, err := e.Store().RelationshipsByType(RelSemanticSimilarity)
	require.NoError(t, err)
	require.Len(t, sims, 1)
	assert.Equal(t, shapeID, sims[0].FromSymbolID)
	assert.Equal(t, circleID, sims[0].ToSymbolID)
	require.NotNil(t, sims[0].Strength)
	assert.InDelta(t, 1.0, *sims[0].Strength, 1e-9)
}

func TestEnrich_RerunLeavesGraphUnchanged(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	seedSymbol(t, e, "Shape::draw", "draw", "method", "virtual void draw() const")
	seedSymbol(t, e, "Circle::draw", "draw", "method", "void draw() const override")

	_, err := e.Enrich(context.Background(), nil)
	require.NoError(t, err)
	first, err := e.Store().DistinctPairCount()
	require.NoError(t, err)

	_, err = e.Enrich(context.Background(), nil)
	require.NoError(t, err)
	second, err := e.Store().DistinctPairCount()
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEnrich_RuleScripts(t *testing.T) {
	t.Parallel()

	scriptsDir := t.TempDir()
	script := `
for _, s := range symbols {
    if s["kind"] == "class" {
        tag(s["id"], "from_script")
    }
}
`
	require.NoError(t, os.WriteFile(filepath.Join(scriptsDir, "tag_classes.risor"), []byte(script), 0o644))

	e := newTestEngine(t, WithRuleScriptsDir(scriptsDir))
	id := seedSymbol(t, e, "Widget", "Widget", "class", "")

	_, err := e.Enrich(context.Background(), nil)
	require.NoError(t, err)

	sym, err := e.Store().SymbolByID(id)
	require.NoError(t, err)
	assert.Contains(t, sym.SemanticTags, "from_script")
}

func TestEnrich_SimilarityThresholdOption(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithSimilarityThreshold(0.99))

	seedSymbol(t, e, "A", "A", "class", "")
	seedSymbol(t, e, "B", "B", "class", "")

	input := &EnrichmentInput{
		Embeddings: []Embedding{
			{SymbolKey: "A", Vector: []float64{1, 0.2}, Dimensions: 2},
			{SymbolKey: "B", Vector: []float64{1, 0}, Dimensions: 2},
		},
	}
	stats, err := e.Enrich(context.Background(), input)
	require.NoError(t, err)

	// Cosine ~0.98 stays under the raised threshold.
	assert.Equal(t, 0, stats.RelationshipsStored)
}

func TestAnalyzeDirectory(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.go"), []byte(goTwoRenamedFuncs), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "skip.txt"), []byte("plain text"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "vendor"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vendor", "dep.go"), []byte(goTwoRenamedFuncs), 0o644))

	report, err := e.AnalyzeDirectory(context.Background(), dir)
	require.NoError(t, err)

	// Only the two functions in a.go; vendor/ and non-source files skipped.
	assert.Equal(t, 2, report.FragmentsAnalyzed)
	require.Len(t, report.Clones, 1)
	assert.Equal(t, CloneTypeExact, report.Clones[0].CloneType)
}

func TestAnalyzeDirectory_GitignoreHonored(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("generated/\n"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "generated"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "generated", "gen.go"), []byte(goTwoRenamedFuncs), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n\nfunc main() {}\n"), 0o644))

	report, err := e.AnalyzeDirectory(context.Background(), dir)
	require.NoError(t, err)

	// main() is tiny and below the comparison floor; nothing from generated/.
	assert.Zero(t, report.FragmentsAnalyzed)
}

func TestAnalyzeFiles_LanguageFilter(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, WithLanguages("python"))

	dir := t.TempDir()
	path := filepath.Join(dir, "a.go")
	require.NoError(t, os.WriteFile(path, []byte(goTwoRenamedFuncs), 0o644))

	report, err := e.AnalyzeFiles(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Zero(t, report.FragmentsAnalyzed)
}
