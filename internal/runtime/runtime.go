// Package runtime embeds a Risor VM so downstream users can add heuristic
// inference rules as scripts, without recompiling grove. Scripts receive the
// in-memory symbol views and emit relationships and tags through host
// functions; they never touch the storage layer directly.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/risor-io/risor"
)

// Finding is a relationship emitted by a rule script.
type Finding struct {
	FromID     int64
	ToID       int64
	Type       string
	Confidence float64
}

// TagAssignment is a semantic tag emitted by a rule script.
type TagAssignment struct {
	SymbolID int64
	Tag      string
}

// Runtime loads and executes Risor rule scripts.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// NewRuntime creates a Runtime reading rule scripts from scriptsDir (or an
// fs.FS when WithRuntimeFS is set; scriptsDir may then be empty).
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{scriptsDir: scriptsDir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RuleScripts returns the relative paths of all .risor scripts, sorted for
// deterministic execution order.
func (r *Runtime) RuleScripts() ([]string, error) {
	var paths []string
	if r.fsys != nil {
		err := fs.WalkDir(r.fsys, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".risor") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("runtime: walk scripts fs: %w", err)
		}
	} else if r.scriptsDir != "" {
		err := filepath.WalkDir(r.scriptsDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".risor") {
				rel, relErr := filepath.Rel(r.scriptsDir, path)
				if relErr != nil {
					rel = path
				}
				paths = append(paths, rel)
			}
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("runtime: walk scripts dir: %w", err)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// LoadScript reads a .risor file and returns its source code.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// RunRuleScript executes one rule script over the symbol views and returns
// everything it emitted through the relate and tag host functions.
func (r *Runtime) RunRuleScript(ctx context.Context, scriptPath string, symbols []map[string]any) ([]Finding, []TagAssignment, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, nil, err
	}
	return r.RunRuleSource(ctx, src, scriptPath, symbols)
}

// RunRuleSource executes rule source code directly. Useful for testing
// without script files.
func (r *Runtime) RunRuleSource(ctx context.Context, source, label string, symbols []map[string]any) ([]Finding, []TagAssignment, error) {
	collector := &collector{}

	opts := []risor.Option{
		risor.WithGlobal("symbols", symbols),
		risor.WithGlobal("relate", makeRelateFn(collector)),
		risor.WithGlobal("tag", makeTagFn(collector)),
	}
	if _, err := risor.Eval(ctx, source, opts...); err != nil {
		return nil, nil, fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return collector.findings, collector.tags, nil
}
