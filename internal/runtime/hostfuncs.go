package runtime

import (
	"context"
	"sync"

	"github.com/risor-io/risor/object"
)

// collector accumulates emissions from one script run. The mutex guards
// against scripts that spawn goroutines through Risor's concurrency support.
type collector struct {
	mu       sync.Mutex
	findings []Finding
	tags     []TagAssignment
}

// makeRelateFn creates the "relate" host function.
//
// relate(from_id, to_id, type, confidence)
func makeRelateFn(c *collector) *object.Builtin {
	return object.NewBuiltin("relate", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 4 {
			return object.NewArgsError("relate", 4, len(args))
		}
		fromID, ok := intArg(args[0])
		if !ok {
			return object.Errorf("relate: from_id must be an int, got %s", args[0].Type())
		}
		toID, ok := intArg(args[1])
		if !ok {
			return object.Errorf("relate: to_id must be an int, got %s", args[1].Type())
		}
		relType, ok := args[2].(*object.String)
		if !ok {
			return object.Errorf("relate: type must be a string, got %s", args[2].Type())
		}
		confidence, ok := floatArg(args[3])
		if !ok {
			return object.Errorf("relate: confidence must be a number, got %s", args[3].Type())
		}
		if confidence < 0 || confidence > 1 {
			return object.Errorf("relate: confidence must be in [0,1], got %v", confidence)
		}

		c.mu.Lock()
		c.findings = append(c.findings, Finding{
			FromID:     fromID,
			ToID:       toID,
			Type:       relType.Value(),
			Confidence: confidence,
		})
		c.mu.Unlock()
		return object.Nil
	})
}

// makeTagFn creates the "tag" host function.
//
// tag(symbol_id, tag)
func makeTagFn(c *collector) *object.Builtin {
	return object.NewBuiltin("tag", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("tag", 2, len(args))
		}
		symbolID, ok := intArg(args[0])
		if !ok {
			return object.Errorf("tag: symbol_id must be an int, got %s", args[0].Type())
		}
		tagStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("tag: tag must be a string, got %s", args[1].Type())
		}

		c.mu.Lock()
		c.tags = append(c.tags, TagAssignment{SymbolID: symbolID, Tag: tagStr.Value()})
		c.mu.Unlock()
		return object.Nil
	})
}

func intArg(obj object.Object) (int64, bool) {
	if i, ok := obj.(*object.Int); ok {
		return i.Value(), true
	}
	return 0, false
}

func floatArg(obj object.Object) (float64, bool) {
	switch v := obj.(type) {
	case *object.Float:
		return v.Value(), true
	case *object.Int:
		return float64(v.Value()), true
	}
	return 0, false
}
