package grove

import (
	"fmt"
	"strings"
)

// Relationship types and fixed confidences emitted by the built-in rule set.
const (
	RelInheritsFrom         = "inherits_from"
	RelOverridesVirtual     = "overrides_virtual"
	RelInstantiatesTemplate = "instantiates_template"
	RelCreatesInstance      = "creates_instance"
	RelRegistersCallback    = "registers_callback"
	RelRAIIPair             = "raii_pair"
	RelDataFlow             = "data_flow"
	RelPipelineFeedsInto    = "pipeline_feeds_into"
	RelPipelineDependsOn    = "pipeline_depends_on"
)

// Semantic tags emitted by the built-in rule set.
const (
	TagFactoryMethod   = "factory_method"
	TagFactoryProduct  = "factory_product"
	TagSingletonAccess = "singleton_access"
	TagEventEmitter    = "event_emitter"
	TagBuilderMethod   = "builder_method"
	TagErrorHandling   = "error_handling"
)

// SymbolView is the in-memory symbol projection rules evaluate against.
// Rules never touch raw source text or the storage engine: everything they
// need is metadata loaded up front, which keeps each rule independently
// unit-testable.
type SymbolView struct {
	ID            int64
	QualifiedName string
	Name          string
	Kind          string
	Language      string
	FilePath      string
	Signature     string
	Tags          []string
}

// Scope returns the enclosing scope of the symbol's qualified name
// ("Renderer::draw" -> "Renderer"). Empty for top-level symbols.
func (s *SymbolView) Scope() string {
	if i := strings.LastIndex(s.QualifiedName, "::"); i >= 0 {
		return s.QualifiedName[:i]
	}
	if i := strings.LastIndex(s.QualifiedName, "."); i >= 0 {
		return s.QualifiedName[:i]
	}
	return ""
}

// HasTag reports whether the symbol carries the given semantic tag.
func (s *SymbolView) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Edge is a pre-existing relationship visible to rules (pipeline ordering
// inspects the already-extracted call/data edges).
type Edge struct {
	FromID int64
	ToID   int64
	Type   string
}

// RuleContext is the evaluation context shared by all rules in one pass.
type RuleContext struct {
	Symbols []*SymbolView
	Edges   []Edge

	byID    map[int64]*SymbolView
	byName  map[string][]*SymbolView
	classes map[string]*SymbolView
}

// NewRuleContext indexes the symbol views for rule evaluation.
func NewRuleContext(symbols []*SymbolView, edges []Edge) *RuleContext {
	rc := &RuleContext{
		Symbols: symbols,
		Edges:   edges,
		byID:    make(map[int64]*SymbolView, len(symbols)),
		byName:  make(map[string][]*SymbolView),
		classes: make(map[string]*SymbolView),
	}
	for _, s := range symbols {
		rc.byID[s.ID] = s
		rc.byName[s.Name] = append(rc.byName[s.Name], s)
		if isClassKind(s.Kind) {
			rc.classes[s.Name] = s
		}
	}
	return rc
}

// ClassByName returns the class/struct symbol with the given bare name.
func (rc *RuleContext) ClassByName(name string) (*SymbolView, bool) {
	c, ok := rc.classes[name]
	return c, ok
}

// Finding is one rule emission: either a relationship (Type set) or a tag
// assignment (Tag set).
type Finding struct {
	FromID     int64
	ToID       int64
	Type       string
	Confidence float64
	Evidence   string

	TagSymbolID int64
	Tag         string
}

func relFinding(from, to int64, relType string, confidence float64, rule string) Finding {
	return Finding{
		FromID:     from,
		ToID:       to,
		Type:       relType,
		Confidence: confidence,
		Evidence:   fmt.Sprintf(`{"rule":%q}`, rule),
	}
}

func tagFinding(symbolID int64, tag string) Finding {
	return Finding{TagSymbolID: symbolID, Tag: tag}
}

// Rule is one entry in the data-driven heuristic rule table.
type Rule struct {
	Name  string
	Apply func(rc *RuleContext) []Finding
}

// BuiltinRules returns the fixed heuristic rule table. Rules operate over
// symbol metadata and pre-existing edges only.
func BuiltinRules() []Rule {
	return []Rule{
		{Name: "inheritance", Apply: ruleInheritance},
		{Name: "template_instantiation", Apply: ruleTemplateInstantiation},
		{Name: "factory", Apply: ruleFactory},
		{Name: "singleton", Apply: ruleSingleton},
		{Name: "callback", Apply: ruleCallback},
		{Name: "raii", Apply: ruleRAII},
		{Name: "data_flow", Apply: ruleDataFlow},
		{Name: "pipeline", Apply: rulePipeline},
		{Name: "builder", Apply: ruleBuilder},
		{Name: "error_handling", Apply: ruleErrorHandling},
	}
}

// InferHeuristics runs the given rules over the context and returns
// deduplicated relationships and tag assignments. Findings are idempotent
// end to end: duplicates within a run collapse here, and across runs the
// store's insert-or-ignore and check-before-append semantics absorb them.
func InferHeuristics(rc *RuleContext, rules []Rule) ([]InferredRelationship, []TagAssignment) {
	var rels []InferredRelationship
	var tags []TagAssignment
	seenRel := make(map[string]bool)
	seenTag := make(map[string]bool)

	for _, rule := range rules {
		for _, f := range rule.Apply(rc) {
			if f.Type != "" {
				key := fmt.Sprintf("%d|%d|%s", f.FromID, f.ToID, f.Type)
				if seenRel[key] {
					continue
				}
				seenRel[key] = true
				rels = append(rels, InferredRelationship{
					FromSymbolID: f.FromID,
					ToSymbolID:   f.ToID,
					Type:         f.Type,
					Confidence:   f.Confidence,
					Strength:     f.Confidence,
					Evidence:     f.Evidence,
				})
			}
			if f.Tag != "" {
				key := fmt.Sprintf("%d|%s", f.TagSymbolID, f.Tag)
				if seenTag[key] {
					continue
				}
				seenTag[key] = true
				tags = append(tags, TagAssignment{SymbolID: f.TagSymbolID, Tag: f.Tag})
			}
		}
	}
	return rels, tags
}

// --- Individual rules ---

// ruleInheritance: a virtual method overridden by a same-named method in a
// different scope implies overrides_virtual between the methods and
// inherits_from between their classes.
func ruleInheritance(rc *RuleContext) []Finding {
	var findings []Finding
	for _, base := range rc.Symbols {
		if !isFunctionKind(base.Kind) || !strings.Contains(base.Signature, "virtual") {
			continue
		}
		for _, override := range rc.byName[base.Name] {
			if override.ID == base.ID || override.Scope() == base.Scope() || override.Scope() == "" || base.Scope() == "" {
				continue
			}
			if !isFunctionKind(override.Kind) {
				continue
			}
			findings = append(findings, relFinding(override.ID, base.ID, RelOverridesVirtual, 0.85, "inheritance"))
			baseClass, okB := rc.ClassByName(base.Scope())
			derivedClass, okD := rc.ClassByName(override.Scope())
			if okB && okD && baseClass.ID != derivedClass.ID {
				findings = append(findings, relFinding(derivedClass.ID, baseClass.ID, RelInheritsFrom, 0.8, "inheritance"))
			}
		}
	}
	return findings
}

// ruleTemplateInstantiation: a signature mentioning a template symbol's name
// immediately followed by '<' instantiates that template.
func ruleTemplateInstantiation(rc *RuleContext) []Finding {
	var templates []*SymbolView
	for _, s := range rc.Symbols {
		if strings.Contains(s.Signature, "template") {
			templates = append(templates, s)
		}
	}
	var findings []Finding
	for _, s := range rc.Symbols {
		for _, tmpl := range templates {
			if s.ID == tmpl.ID || tmpl.Name == "" {
				continue
			}
			if strings.Contains(s.Signature, tmpl.Name+"<") {
				findings = append(findings, relFinding(s.ID, tmpl.ID, RelInstantiatesTemplate, 0.75, "template_instantiation"))
			}
		}
	}
	return findings
}

var factoryVerbs = []string{"create", "make", "build", "factory"}

// ruleFactory: creation-verb functions returning an owning pointer to a
// known class create instances of it. Tags both ends.
func ruleFactory(rc *RuleContext) []Finding {
	var findings []Finding
	for _, s := range rc.Symbols {
		if !isFunctionKind(s.Kind) {
			continue
		}
		lower := strings.ToLower(s.Name)
		verb := false
		for _, v := range factoryVerbs {
			if strings.HasPrefix(lower, v) || strings.Contains(lower, "_"+v) || strings.Contains(lower, v+"_") {
				verb = true
				break
			}
		}
		if !verb {
			continue
		}
		ret := signatureReturnType(s.Signature)
		if ret == "" || !isOwningPointerType(ret) {
			continue
		}
		product, ok := rc.ClassByName(pointeeTypeName(ret))
		if !ok {
			continue
		}
		findings = append(findings,
			relFinding(s.ID, product.ID, RelCreatesInstance, 0.9, "factory"),
			tagFinding(s.ID, TagFactoryMethod),
			tagFinding(product.ID, TagFactoryProduct),
		)
	}
	return findings
}

// ruleSingleton: getInstance-style accessors get a singleton_access tag.
// Tag only — the accessed class is the accessor's own scope, so a
// relationship would be redundant.
func ruleSingleton(rc *RuleContext) []Finding {
	var findings []Finding
	for _, s := range rc.Symbols {
		if !isFunctionKind(s.Kind) {
			continue
		}
		lower := strings.ToLower(s.Name)
		if lower == "instance" || lower == "getinstance" || lower == "get_instance" ||
			lower == "sharedinstance" || lower == "shared_instance" || strings.HasSuffix(lower, "singleton") {
			findings = append(findings, tagFinding(s.ID, TagSingletonAccess))
		}
	}
	return findings
}

var callbackParamMarkers = []string{"std::function", "(*)", "func(", "Callback", "callback", "Handler", "Listener"}

// ruleCallback: registration methods with function-typed parameters register
// callbacks; emitter-style names are tagged event_emitter.
func ruleCallback(rc *RuleContext) []Finding {
	var findings []Finding
	for _, s := range rc.Symbols {
		if !isFunctionKind(s.Kind) {
			continue
		}
		if strings.HasPrefix(s.Name, "On") || strings.HasPrefix(s.Name, "Emit") || strings.HasPrefix(s.Name, "Notify") ||
			strings.HasPrefix(s.Name, "on_") || strings.HasPrefix(s.Name, "emit") || strings.HasPrefix(s.Name, "notify") {
			findings = append(findings, tagFinding(s.ID, TagEventEmitter))
		}

		if !strings.HasPrefix(s.Name, "Set") && !strings.HasPrefix(s.Name, "Register") &&
			!strings.HasPrefix(s.Name, "Subscribe") && !strings.HasPrefix(s.Name, "set") &&
			!strings.HasPrefix(s.Name, "register") && !strings.HasPrefix(s.Name, "subscribe") {
			continue
		}
		for _, param := range signatureParamTypes(s.Signature) {
			functionTyped := false
			for _, marker := range callbackParamMarkers {
				if strings.Contains(param, marker) {
					functionTyped = true
					break
				}
			}
			if !functionTyped {
				continue
			}
			// Relate to the callback type's symbol when the parameter names one.
			if target, ok := rc.ClassByName(pointeeTypeName(param)); ok && target.ID != s.ID {
				findings = append(findings, relFinding(s.ID, target.ID, RelRegistersCallback, 0.85, "callback"))
			} else if owner, ok := rc.ClassByName(s.Scope()); ok {
				findings = append(findings, relFinding(s.ID, owner.ID, RelRegistersCallback, 0.85, "callback"))
			}
			break
		}
	}
	return findings
}

// ruleRAII: a constructor/destructor pair on the same class forms an
// acquisition/release pairing.
func ruleRAII(rc *RuleContext) []Finding {
	ctors := make(map[string]*SymbolView)
	dtors := make(map[string]*SymbolView)
	for _, s := range rc.Symbols {
		scope := s.Scope()
		if scope == "" {
			continue
		}
		switch {
		case s.Kind == "constructor" || s.Name == scopeBase(scope):
			if _, ok := ctors[scope]; !ok {
				ctors[scope] = s
			}
		case s.Kind == "destructor" || strings.HasPrefix(s.Name, "~"):
			if _, ok := dtors[scope]; !ok {
				dtors[scope] = s
			}
		}
	}
	var findings []Finding
	for scope, ctor := range ctors {
		if dtor, ok := dtors[scope]; ok {
			findings = append(findings, relFinding(ctor.ID, dtor.ID, RelRAIIPair, 0.95, "raii"))
		}
	}
	return findings
}

// ruleDataFlow: a function whose return type matches another function's
// parameter type (primitives excluded) feeds data into it.
func ruleDataFlow(rc *RuleContext) []Finding {
	// Index producers by normalized return type.
	producers := make(map[string][]*SymbolView)
	for _, s := range rc.Symbols {
		if !isFunctionKind(s.Kind) {
			continue
		}
		ret := normalizeType(signatureReturnType(s.Signature))
		if ret == "" || isPrimitiveType(ret) {
			continue
		}
		producers[ret] = append(producers[ret], s)
	}
	var findings []Finding
	for _, consumer := range rc.Symbols {
		if !isFunctionKind(consumer.Kind) {
			continue
		}
		for _, param := range signatureParamTypes(consumer.Signature) {
			norm := normalizeType(param)
			if norm == "" || isPrimitiveType(norm) {
				continue
			}
			for _, producer := range producers[norm] {
				if producer.ID == consumer.ID {
					continue
				}
				findings = append(findings, relFinding(producer.ID, consumer.ID, RelDataFlow, 0.7, "data_flow"))
			}
		}
	}
	return findings
}

// pipelineStages is the fixed stage-sequence table. Direction of pipeline
// relationships is decided by comparing stage indexes.
var pipelineStages = []string{"ingest", "parse", "extract", "transform", "analyze", "enrich", "persist", "render"}

func stageIndex(s *SymbolView) int {
	lower := strings.ToLower(s.Name)
	for i, stage := range pipelineStages {
		if s.HasTag(stage) || s.HasTag("stage:"+stage) {
			return i
		}
		if strings.HasPrefix(lower, stage) {
			return i
		}
	}
	return -1
}

// rulePipeline: existing edges crossing pipeline stages are annotated with
// ordered pipeline relationships: feeds_into when the edge follows stage
// order, depends_on when it runs against it.
func rulePipeline(rc *RuleContext) []Finding {
	var findings []Finding
	for _, e := range rc.Edges {
		from, okF := rc.byID[e.FromID]
		to, okT := rc.byID[e.ToID]
		if !okF || !okT {
			continue
		}
		si, sj := stageIndex(from), stageIndex(to)
		if si < 0 || sj < 0 || si == sj {
			continue
		}
		if si < sj {
			findings = append(findings, relFinding(from.ID, to.ID, RelPipelineFeedsInto, 0.8, "pipeline"))
		} else {
			findings = append(findings, relFinding(from.ID, to.ID, RelPipelineDependsOn, 0.8, "pipeline"))
		}
	}
	return findings
}

// ruleBuilder: fluent with_/set_ methods returning their own class are
// builder methods.
func ruleBuilder(rc *RuleContext) []Finding {
	var findings []Finding
	for _, s := range rc.Symbols {
		if !isFunctionKind(s.Kind) {
			continue
		}
		lower := strings.ToLower(s.Name)
		if !strings.HasPrefix(lower, "with") && !strings.HasPrefix(lower, "set_") {
			continue
		}
		ret := normalizeType(signatureReturnType(s.Signature))
		owner := scopeBase(s.Scope())
		if owner != "" && (ret == owner || ret == "*"+owner || strings.HasPrefix(ret, owner+"&")) {
			findings = append(findings, tagFinding(s.ID, TagBuilderMethod))
		}
	}
	return findings
}

// ruleErrorHandling: recovery/handler naming gets an error_handling tag.
func ruleErrorHandling(rc *RuleContext) []Finding {
	var findings []Finding
	for _, s := range rc.Symbols {
		if !isFunctionKind(s.Kind) {
			continue
		}
		lower := strings.ToLower(s.Name)
		if strings.Contains(lower, "handleerror") || strings.Contains(lower, "handle_error") ||
			strings.Contains(lower, "on_error") || strings.Contains(lower, "onerror") ||
			strings.HasPrefix(lower, "catch") || strings.HasPrefix(lower, "recover") {
			findings = append(findings, tagFinding(s.ID, TagErrorHandling))
		}
	}
	return findings
}

// --- Signature helpers ---

func isClassKind(kind string) bool {
	switch kind {
	case "class", "struct", "interface", "type":
		return true
	}
	return false
}

func isFunctionKind(kind string) bool {
	switch kind {
	case "function", "method", "constructor", "destructor":
		return true
	}
	return false
}

// scopeBase returns the last component of a scope path ("planet::terrain::Mesh" -> "Mesh").
func scopeBase(scope string) string {
	if i := strings.LastIndex(scope, "::"); i >= 0 {
		return scope[i+2:]
	}
	if i := strings.LastIndex(scope, "."); i >= 0 {
		return scope[i+1:]
	}
	return scope
}

// signatureReturnType extracts the return type from a signature. Handles
// arrow-style returns ("-> T"), Go-style trailing returns, and C-style
// leading returns ("T name(args)").
func signatureReturnType(sig string) string {
	if i := strings.LastIndex(sig, "->"); i >= 0 {
		return strings.TrimSpace(sig[i+2:])
	}
	open := strings.Index(sig, "(")
	if open < 0 {
		return ""
	}
	if close := matchingParen(sig, open); close >= 0 && close+1 < len(sig) {
		trailing := strings.Trim(strings.TrimSpace(sig[close+1:]), "(){}")
		var kept []string
		for _, f := range strings.Fields(trailing) {
			switch f {
			case "const", "override", "final", "noexcept":
				continue
			}
			kept = append(kept, f)
		}
		if len(kept) > 0 {
			return strings.Join(kept, " ")
		}
	}
	head := strings.TrimSpace(sig[:open])
	head = strings.TrimPrefix(head, "virtual ")
	head = strings.TrimPrefix(head, "static ")
	head = strings.TrimPrefix(head, "func ")
	fields := strings.Fields(head)
	if len(fields) < 2 {
		return ""
	}
	// Last field is the function name; everything before it is the type.
	return strings.Join(fields[:len(fields)-1], " ")
}

// signatureParamTypes extracts parameter type expressions from a signature.
func signatureParamTypes(sig string) []string {
	open := strings.Index(sig, "(")
	if open < 0 {
		return nil
	}
	close := matchingParen(sig, open)
	if close < 0 {
		return nil
	}
	inner := sig[open+1 : close]
	if strings.TrimSpace(inner) == "" {
		return nil
	}

	var params []string
	depth := 0
	start := 0
	for i, r := range inner {
		switch r {
		case '(', '<', '[':
			depth++
		case ')', '>', ']':
			depth--
		case ',':
			if depth == 0 {
				params = append(params, paramType(inner[start:i]))
				start = i + 1
			}
		}
	}
	params = append(params, paramType(inner[start:]))
	return params
}

// paramType strips the parameter name and default value from one parameter
// declaration, leaving the type expression.
func paramType(decl string) string {
	decl = strings.TrimSpace(decl)
	if i := strings.Index(decl, "="); i >= 0 {
		decl = strings.TrimSpace(decl[:i])
	}
	fields := strings.Fields(decl)
	if len(fields) < 2 {
		return decl
	}
	last := fields[len(fields)-1]
	// A trailing bare identifier is the parameter name; type markers stay.
	if !strings.ContainsAny(last, "*&<>:.()") {
		return strings.Join(fields[:len(fields)-1], " ")
	}
	return decl
}

// matchingParen returns the index of the ')' matching the '(' at open.
func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// normalizeType strips qualifiers, reference/pointer markers, and wrapping
// smart pointers so type comparisons see the underlying type name.
func normalizeType(t string) string {
	t = strings.TrimSpace(t)
	t = strings.TrimPrefix(t, "const ")
	t = pointeeTypeName(t)
	t = strings.TrimRight(t, "*& ")
	return strings.TrimSpace(t)
}

var primitiveTypes = map[string]bool{
	"": true, "void": true, "bool": true, "int": true, "uint": true, "float": true,
	"double": true, "char": true, "long": true, "short": true, "unsigned": true,
	"size_t": true, "int32_t": true, "int64_t": true, "uint32_t": true, "uint64_t": true,
	"string": true, "std::string": true, "auto": true, "byte": true, "rune": true,
	"float32": true, "float64": true, "int32": true, "int64": true, "error": true,
}

func isPrimitiveType(t string) bool {
	return primitiveTypes[strings.TrimSpace(t)]
}

// isOwningPointerType reports whether a return type transfers ownership:
// a smart pointer or a raw pointer.
func isOwningPointerType(t string) bool {
	return strings.Contains(t, "unique_ptr<") || strings.Contains(t, "shared_ptr<") ||
		strings.HasSuffix(strings.TrimSpace(t), "*") || strings.HasPrefix(strings.TrimSpace(t), "*")
}

// pointeeTypeName extracts the bare type name from a pointer-ish type
// expression ("std::unique_ptr<TerrainMesh>" -> "TerrainMesh", "Mesh*" -> "Mesh").
func pointeeTypeName(t string) string {
	t = strings.TrimSpace(t)
	for _, wrapper := range []string{"std::unique_ptr<", "std::shared_ptr<", "unique_ptr<", "shared_ptr<"} {
		if i := strings.Index(t, wrapper); i >= 0 {
			inner := t[i+len(wrapper):]
			if j := strings.Index(inner, ">"); j >= 0 {
				inner = inner[:j]
			}
			return strings.TrimSpace(inner)
		}
	}
	t = strings.Trim(t, "*& ")
	if i := strings.LastIndex(t, "::"); i >= 0 {
		t = t[i+2:]
	}
	if i := strings.LastIndex(t, " "); i >= 0 {
		t = t[i+1:]
	}
	return t
}
