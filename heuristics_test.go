package grove

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sv builds a SymbolView with the fields heuristic rules inspect.
func sv(id int64, qname, kind, sig string) *SymbolView {
	name := qname
	if base := scopeBase(qname); base != qname {
		name = base
	}
	return &SymbolView{
		ID:            id,
		QualifiedName: qname,
		Name:          name,
		Kind:          kind,
		Language:      "cpp",
		Signature:     sig,
	}
}

// findRel returns the inferred relationships of a given type.
func findRels(rels []InferredRelationship, relType string) []InferredRelationship {
	var out []InferredRelationship
	for _, r := range rels {
		if r.Type == relType {
			out = append(out, r)
		}
	}
	return out
}

func hasTag(tags []TagAssignment, symbolID int64, tag string) bool {
	for _, t := range tags {
		if t.SymbolID == symbolID && t.Tag == tag {
			return true
		}
	}
	return false
}

func TestSymbolView_Scope(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Renderer", sv(1, "Renderer::draw", "method", "").Scope())
	assert.Equal(t, "geometry::Circle", sv(1, "geometry::Circle::area", "method", "").Scope())
	assert.Equal(t, "module", (&SymbolView{QualifiedName: "module.helper"}).Scope())
	assert.Equal(t, "", sv(1, "main", "function", "").Scope())
}

func TestRuleInheritance_VirtualOverride(t *testing.T) {
	t.Parallel()

	base := sv(1, "Shape::draw", "method", "virtual void draw() const")
	derived := sv(2, "Circle::draw", "method", "void draw() const override")
	shapeClass := sv(3, "Shape", "class", "")
	circleClass := sv(4, "Circle", "class", "")
	rc := NewRuleContext([]*SymbolView{base, derived, shapeClass, circleClass}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())

	overrides := findRels(rels, RelOverridesVirtual)
	require.Len(t, overrides, 1)
	assert.Equal(t, int64(2), overrides[0].FromSymbolID)
	assert.Equal(t, int64(1), overrides[0].ToSymbolID)
	assert.InDelta(t, 0.85, overrides[0].Confidence, 1e-9)

	inherits := findRels(rels, RelInheritsFrom)
	require.Len(t, inherits, 1)
	assert.Equal(t, int64(4), inherits[0].FromSymbolID)
	assert.Equal(t, int64(3), inherits[0].ToSymbolID)
	assert.InDelta(t, 0.8, inherits[0].Confidence, 1e-9)
}

func TestRuleInheritance_SameScopeIgnored(t *testing.T) {
	t.Parallel()

	a := sv(1, "Shape::draw", "method", "virtual void draw()")
	b := sv(2, "Shape::draw", "method", "void draw()")
	rc := NewRuleContext([]*SymbolView{a, b}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())
	assert.Empty(t, findRels(rels, RelOverridesVirtual))
}

func TestRuleTemplateInstantiation(t *testing.T) {
	t.Parallel()

	tmpl := sv(1, "Pool", "class", "template <typename T> class Pool")
	user := sv(2, "TerrainCache", "class", "class TerrainCache { Pool<Chunk> chunks; }")
	rc := NewRuleContext([]*SymbolView{tmpl, user}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())
	inst := findRels(rels, RelInstantiatesTemplate)
	require.Len(t, inst, 1)
	assert.Equal(t, int64(2), inst[0].FromSymbolID)
	assert.Equal(t, int64(1), inst[0].ToSymbolID)
	assert.InDelta(t, 0.75, inst[0].Confidence, 1e-9)
}

func TestRuleFactory(t *testing.T) {
	t.Parallel()

	factory := sv(1, "MeshFactory::createMesh", "method", "std::unique_ptr<Mesh> createMesh(int lod)")
	product := sv(2, "Mesh", "class", "")
	rc := NewRuleContext([]*SymbolView{factory, product}, nil)

	rels, tags := InferHeuristics(rc, BuiltinRules())
	creates := findRels(rels, RelCreatesInstance)
	require.Len(t, creates, 1)
	assert.Equal(t, int64(1), creates[0].FromSymbolID)
	assert.Equal(t, int64(2), creates[0].ToSymbolID)
	assert.InDelta(t, 0.9, creates[0].Confidence, 1e-9)

	assert.True(t, hasTag(tags, 1, TagFactoryMethod))
	assert.True(t, hasTag(tags, 2, TagFactoryProduct))
}

func TestRuleFactory_ValueReturnIgnored(t *testing.T) {
	t.Parallel()

	// Creation verb but not an owning pointer: no relationship.
	fn := sv(1, "makeIdentity", "function", "Matrix makeIdentity()")
	cls := sv(2, "Matrix", "class", "")
	rc := NewRuleContext([]*SymbolView{fn, cls}, nil)

	rels, tags := InferHeuristics(rc, BuiltinRules())
	assert.Empty(t, findRels(rels, RelCreatesInstance))
	assert.False(t, hasTag(tags, 1, TagFactoryMethod))
}

func TestRuleSingleton(t *testing.T) {
	t.Parallel()

	acc := sv(1, "Config::getInstance", "method", "static Config& getInstance()")
	other := sv(2, "Config::load", "method", "void load()")
	rc := NewRuleContext([]*SymbolView{acc, other}, nil)

	_, tags := InferHeuristics(rc, BuiltinRules())
	assert.True(t, hasTag(tags, 1, TagSingletonAccess))
	assert.False(t, hasTag(tags, 2, TagSingletonAccess))
}

func TestRuleCallback(t *testing.T) {
	t.Parallel()

	reg := sv(1, "EventBus::RegisterHandler", "method", "void RegisterHandler(std::function<void(Event)> handler)")
	bus := sv(2, "EventBus", "class", "")
	rc := NewRuleContext([]*SymbolView{reg, bus}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())
	cbs := findRels(rels, RelRegistersCallback)
	require.Len(t, cbs, 1)
	assert.Equal(t, int64(1), cbs[0].FromSymbolID)
	assert.Equal(t, int64(2), cbs[0].ToSymbolID)
	assert.InDelta(t, 0.85, cbs[0].Confidence, 1e-9)
}

func TestRuleCallback_EmitterTag(t *testing.T) {
	t.Parallel()

	emit := sv(1, "EventBus::NotifyAll", "method", "void NotifyAll()")
	rc := NewRuleContext([]*SymbolView{emit}, nil)

	_, tags := InferHeuristics(rc, BuiltinRules())
	assert.True(t, hasTag(tags, 1, TagEventEmitter))
}

func TestRuleRAII(t *testing.T) {
	t.Parallel()

	ctor := sv(1, "FileLock::FileLock", "constructor", "FileLock(const std::string& path)")
	dtor := sv(2, "FileLock::~FileLock", "destructor", "~FileLock()")
	rc := NewRuleContext([]*SymbolView{ctor, dtor}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())
	pairs := findRels(rels, RelRAIIPair)
	require.Len(t, pairs, 1)
	assert.Equal(t, int64(1), pairs[0].FromSymbolID)
	assert.Equal(t, int64(2), pairs[0].ToSymbolID)
	assert.InDelta(t, 0.95, pairs[0].Confidence, 1e-9)
}

func TestRuleRAII_UnpairedConstructorIgnored(t *testing.T) {
	t.Parallel()

	ctor := sv(1, "Point::Point", "constructor", "Point(double x, double y)")
	rc := NewRuleContext([]*SymbolView{ctor}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())
	assert.Empty(t, findRels(rels, RelRAIIPair))
}

func TestRuleDataFlow(t *testing.T) {
	t.Parallel()

	producer := sv(1, "parseHeightmap", "function", "Heightmap parseHeightmap(const std::string& path)")
	consumer := sv(2, "buildTerrain", "function", "Terrain buildTerrain(const Heightmap& map)")
	rc := NewRuleContext([]*SymbolView{producer, consumer}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())
	flows := findRels(rels, RelDataFlow)
	require.Len(t, flows, 1)
	assert.Equal(t, int64(1), flows[0].FromSymbolID)
	assert.Equal(t, int64(2), flows[0].ToSymbolID)
	assert.InDelta(t, 0.7, flows[0].Confidence, 1e-9)
}

func TestRuleDataFlow_PrimitiveTypesIgnored(t *testing.T) {
	t.Parallel()

	producer := sv(1, "count", "function", "int count()")
	consumer := sv(2, "resize", "function", "void resize(int n)")
	rc := NewRuleContext([]*SymbolView{producer, consumer}, nil)

	rels, _ := InferHeuristics(rc, BuiltinRules())
	assert.Empty(t, findRels(rels, RelDataFlow))
}

func TestRulePipeline(t *testing.T) {
	t.Parallel()

	parse := sv(1, "parseSource", "function", "Tree parseSource()")
	analyze := sv(2, "analyzeTree", "function", "Report analyzeTree()")
	edges := []Edge{
		{FromID: 1, ToID: 2, Type: "calls"},
		{FromID: 2, ToID: 1, Type: "calls"},
	}
	rc := NewRuleContext([]*SymbolView{parse, analyze}, edges)

	rels, _ := InferHeuristics(rc, BuiltinRules())

	feeds := findRels(rels, RelPipelineFeedsInto)
	require.Len(t, feeds, 1)
	assert.Equal(t, int64(1), feeds[0].FromSymbolID)
	assert.Equal(t, int64(2), feeds[0].ToSymbolID)

	deps := findRels(rels, RelPipelineDependsOn)
	require.Len(t, deps, 1)
	assert.Equal(t, int64(2), deps[0].FromSymbolID)
	assert.Equal(t, int64(1), deps[0].ToSymbolID)
}

func TestRuleBuilder(t *testing.T) {
	t.Parallel()

	with := sv(1, "QueryBuilder::withLimit", "method", "QueryBuilder& withLimit(int n)")
	rc := NewRuleContext([]*SymbolView{with}, nil)

	_, tags := InferHeuristics(rc, BuiltinRules())
	assert.True(t, hasTag(tags, 1, TagBuilderMethod))
}

func TestRuleErrorHandling(t *testing.T) {
	t.Parallel()

	handler := sv(1, "Session::handleError", "method", "void handleError(const Error& e)")
	plain := sv(2, "Session::close", "method", "void close()")
	rc := NewRuleContext([]*SymbolView{handler, plain}, nil)

	_, tags := InferHeuristics(rc, BuiltinRules())
	assert.True(t, hasTag(tags, 1, TagErrorHandling))
	assert.False(t, hasTag(tags, 2, TagErrorHandling))
}

func TestInferHeuristics_Deduplicates(t *testing.T) {
	t.Parallel()

	a := sv(1, "A", "class", "")
	dup := Rule{Name: "dup", Apply: func(rc *RuleContext) []Finding {
		return []Finding{
			relFinding(1, 2, RelDataFlow, 0.7, "dup"),
			relFinding(1, 2, RelDataFlow, 0.7, "dup"),
			tagFinding(1, "x"),
			tagFinding(1, "x"),
		}
	}}
	rels, tags := InferHeuristics(NewRuleContext([]*SymbolView{a}, nil), []Rule{dup})
	assert.Len(t, rels, 1)
	assert.Len(t, tags, 1)
}

// --- Signature helpers ---

func TestSignatureReturnType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sig  string
		want string
	}{
		{"double area() const", "double"},
		{"virtual void draw() override", "void"},
		{"std::unique_ptr<Mesh> createMesh(int lod)", "std::unique_ptr<Mesh>"},
		{"auto size() -> size_t", "size_t"},
		{"func Parse(src []byte) (*Tree, error)", "*Tree, error"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, signatureReturnType(tt.sig), "sig %q", tt.sig)
	}
}

func TestSignatureParamTypes(t *testing.T) {
	t.Parallel()

	params := signatureParamTypes("void blend(const Texture& a, std::map<int, Color> lut)")
	require.Len(t, params, 2)
	assert.Contains(t, params[0], "Texture")
	// The templated parameter survives the comma split intact.
	assert.Contains(t, params[1], "std::map<int, Color>")
}

func TestIsOwningPointerType(t *testing.T) {
	t.Parallel()

	assert.True(t, isOwningPointerType("std::unique_ptr<Mesh>"))
	assert.True(t, isOwningPointerType("std::shared_ptr<Mesh>"))
	assert.True(t, isOwningPointerType("*Mesh"))
	assert.True(t, isOwningPointerType("Mesh*"))
	assert.False(t, isOwningPointerType("Mesh"))
	assert.False(t, isOwningPointerType("const Mesh&"))
}

func TestPointeeTypeName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Mesh", pointeeTypeName("std::unique_ptr<Mesh>"))
	assert.Equal(t, "Mesh", pointeeTypeName("Mesh*"))
	assert.Equal(t, "Mesh", pointeeTypeName("*Mesh"))
}
