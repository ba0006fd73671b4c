package grove

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/grove/internal/store"
)

// maxScanBytes caps how much of a fragment's text is fed to the side-effect
// marker scan. Conservative cost bound; tune rather than remove.
const maxScanBytes = 50 << 10

// fragmentNodeTypes are the AST node types that become analyzable fragments,
// across all supported grammars.
var fragmentNodeTypes = map[string]bool{
	// functions and methods
	"function_declaration":    true,
	"function_definition":     true,
	"function_item":           true,
	"method_declaration":      true,
	"method_definition":       true,
	"constructor_declaration": true,
	// classes and type bodies
	"class_declaration": true,
	"class_definition":  true,
	"class_specifier":   true,
	"struct_specifier":  true,
}

// classNodeTypes identify fragments whose dominant kind is "class" for
// grouping descriptions and parent-context attribution.
var classNodeTypes = map[string]bool{
	"class_declaration": true,
	"class_definition":  true,
	"class_specifier":   true,
	"struct_specifier":  true,
}

// decisionNodeTypes contribute to cyclomatic complexity: complexity is
// 1 + the count of these anywhere in the fragment subtree.
var decisionNodeTypes = map[string]bool{
	"if_statement":           true,
	"if_expression":          true,
	"elif_clause":            true,
	"conditional_expression": true,
	"ternary_expression":     true,
	"for_statement":          true,
	"for_expression":         true,
	"for_range_loop":         true,
	"while_statement":        true,
	"while_expression":       true,
	"do_statement":           true,
	"loop_expression":        true,
	"case_statement":         true,
	"switch_case":            true,
	"expression_case":        true,
	"type_case":              true,
	"communication_case":     true,
	"match_arm":              true,
	"except_clause":          true,
	"catch_clause":           true,
}

var callNodeTypes = map[string]bool{
	"call_expression":   true,
	"call":              true,
	"method_invocation": true,
}

// loopNodeTypes and conditionalNodeTypes drive the control-flow shape flags.
// Explicit sets, never substring matching on type names: "identifier"
// contains "if" and Java's "formal_parameters" contains "for".
var loopNodeTypes = map[string]bool{
	"for_statement":          true,
	"for_expression":         true,
	"for_range_loop":         true,
	"for_in_statement":       true,
	"enhanced_for_statement": true,
	"while_statement":        true,
	"while_expression":       true,
	"do_statement":           true,
	"loop_expression":        true,
}

var conditionalNodeTypes = map[string]bool{
	"if_statement":                true,
	"if_expression":               true,
	"elif_clause":                 true,
	"conditional_expression":      true,
	"ternary_expression":          true,
	"switch_statement":            true,
	"switch_expression":           true,
	"expression_switch_statement": true,
	"type_switch_statement":       true,
	"match_expression":            true,
	"case_statement":              true,
	"switch_case":                 true,
	"expression_case":             true,
	"type_case":                   true,
	"communication_case":          true,
	"match_arm":                   true,
}

var returnNodeTypes = map[string]bool{
	"return_statement":  true,
	"return_expression": true,
}

// ExtractFragments parses the file content with the grammar matching its
// extension and returns one AST fragment per function, method, and class
// node. Unsupported extensions return (nil, nil).
func ExtractFragments(ctx context.Context, filePath string, content []byte) ([]*Fragment, error) {
	lang, ok := LanguageForFile(filePath)
	if !ok {
		return nil, nil
	}
	grammar, ok := GrammarForLanguage(lang)
	if !ok {
		return nil, nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	defer tree.Close()

	var frags []*Fragment
	collectFragments(tree.RootNode(), content, filePath, "", &frags)
	return frags, nil
}

// collectFragments walks the tree depth-first, emitting a fragment for every
// analyzable node. parentCtx carries the nearest enclosing class name (or the
// file path at top level) down the walk.
func collectFragments(node *sitter.Node, src []byte, filePath, parentCtx string, out *[]*Fragment) {
	nodeType := node.Type()
	if fragmentNodeTypes[nodeType] {
		ctx := parentCtx
		if ctx == "" {
			ctx = filePath
		}
		*out = append(*out, buildFragment(node, src, filePath, ctx))
		if classNodeTypes[nodeType] {
			if name := nodeName(node, src); name != "" {
				parentCtx = name
			}
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectFragments(node.Child(i), src, filePath, parentCtx, out)
	}
}

func buildFragment(node *sitter.Node, src []byte, filePath, parentCtx string) *Fragment {
	stats := walkStats(node)
	text := node.Content(src)
	if len(text) > maxScanBytes {
		text = text[:maxScanBytes]
	}
	sig := behaviorSignature(node, src, text, stats)

	return &store.Fragment{
		FilePath:      filePath,
		NodeType:      node.Type(),
		StartLine:     int(node.StartPoint().Row) + 1,
		EndLine:       int(node.EndPoint().Row) + 1,
		StructureHash: structureHash(node, stats),
		SemanticHash:  semanticHash(sig),
		TokenCount:    stats.tokenCount,
		Complexity:    stats.complexity,
		ParentContext: parentCtx,
	}
}

// subtreeStats accumulates structural counts over one fragment subtree.
type subtreeStats struct {
	tokenCount     int
	complexity     int
	callCount      int
	returnCount    int
	hasLoop        bool
	hasConditional bool
}

func walkStats(node *sitter.Node) subtreeStats {
	stats := subtreeStats{complexity: 1}
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		t := n.Type()
		if n.ChildCount() == 0 {
			stats.tokenCount++
		}
		if decisionNodeTypes[t] {
			stats.complexity++
		}
		if callNodeTypes[t] {
			stats.callCount++
		}
		if returnNodeTypes[t] {
			stats.returnCount++
		}
		if loopNodeTypes[t] {
			stats.hasLoop = true
		}
		if conditionalNodeTypes[t] {
			stats.hasConditional = true
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(node)
	return stats
}

// structureHash digests the normalized AST: node types in preorder with
// identifiers and literals abstracted away, plus shape flags and call count.
// Two fragments differing only in naming and literal values collide here.
func structureHash(node *sitter.Node, stats subtreeStats) string {
	h := sha256.New()
	var walk func(n *sitter.Node, depth int)
	walk = func(n *sitter.Node, depth int) {
		fmt.Fprintf(h, "%d:%s\n", depth, abstractNodeType(n.Type()))
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), depth+1)
		}
	}
	walk(node, 0)
	fmt.Fprintf(h, "loop:%v cond:%v calls:%d\n", stats.hasLoop, stats.hasConditional, stats.callCount)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// abstractNodeType collapses identifier and literal node types so the
// structure hash ignores naming and constant values.
func abstractNodeType(t string) string {
	if strings.Contains(t, "identifier") || t == "field_identifier" || t == "type_identifier" {
		return "ID"
	}
	if strings.Contains(t, "literal") || strings.Contains(t, "string") || strings.Contains(t, "number") ||
		t == "true" || t == "false" || t == "nil" || t == "null" {
		return "LIT"
	}
	return t
}

// behavior is a fragment's behavioral signature: what goes in, what comes
// out, what it touches, and how control and data move through it.
type behavior struct {
	inputs      int
	outputs     int
	sideEffects []string
	controlFlow string
	dataFlow    string
}

func behaviorSignature(node *sitter.Node, src []byte, text string, stats subtreeStats) behavior {
	b := behavior{
		inputs:  paramCount(node, src),
		outputs: stats.returnCount,
	}

	switch {
	case stats.hasLoop && stats.hasConditional:
		b.controlFlow = "mixed"
	case stats.hasLoop:
		b.controlFlow = "looping"
	case stats.hasConditional:
		b.controlFlow = "branching"
	default:
		b.controlFlow = "linear"
	}

	switch {
	case b.inputs > 0 && b.outputs > 0:
		b.dataFlow = "transform"
	case b.outputs > 0:
		b.dataFlow = "source"
	case b.inputs > 0:
		b.dataFlow = "sink"
	default:
		b.dataFlow = "passthrough"
	}

	b.sideEffects = scanSideEffects(text)
	return b
}

// sideEffectMarkers maps a marker label to the substrings that indicate it.
// The scan runs over fragment text capped at maxScanBytes: plain substring
// matching, no backtracking.
var sideEffectMarkers = []struct {
	label   string
	needles []string
}{
	{"io", []string{"print", "cout", "fmt.", "write", "Write", "send", "recv", "log.", "System.out"}},
	{"mutation", []string{"++", "--", "+=", "-=", "*=", "/=", " = "}},
	{"alloc", []string{"new ", "make(", "malloc", "calloc", "Box::new", "append("}},
}

func scanSideEffects(text string) []string {
	var effects []string
	for _, m := range sideEffectMarkers {
		for _, needle := range m.needles {
			if strings.Contains(text, needle) {
				effects = append(effects, m.label)
				break
			}
		}
	}
	sort.Strings(effects)
	return effects
}

// semanticHash digests the behavioral signature. Fragments with the same
// inputs, outputs, side effects, and flow shape collide here even when their
// syntax differs.
func semanticHash(b behavior) string {
	h := sha256.New()
	fmt.Fprintf(h, "in:%d\n", b.inputs)
	fmt.Fprintf(h, "out:%d\n", b.outputs)
	fmt.Fprintf(h, "effects:%s\n", strings.Join(b.sideEffects, ","))
	fmt.Fprintf(h, "control:%s\n", b.controlFlow)
	fmt.Fprintf(h, "data:%s\n", b.dataFlow)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// paramCount counts named children of the fragment's parameter list, if any.
func paramCount(node *sitter.Node, src []byte) int {
	params := node.ChildByFieldName("parameters")
	if params == nil {
		params = node.ChildByFieldName("parameter_list")
	}
	if params == nil {
		return 0
	}
	count := 0
	for i := 0; i < int(params.NamedChildCount()); i++ {
		t := params.NamedChild(i).Type()
		if strings.Contains(t, "comment") {
			continue
		}
		count++
	}
	return count
}

// nodeName returns the text of a node's name field, if present.
func nodeName(node *sitter.Node, src []byte) string {
	name := node.ChildByFieldName("name")
	if name == nil {
		return ""
	}
	return name.Content(src)
}
