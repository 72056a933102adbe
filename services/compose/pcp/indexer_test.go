// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pcp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// buildTestStack writes the given layer documents into a temp
// directory and computes the layer stack rooted at root.yaml.
func buildTestStack(t *testing.T, files map[string]string) (*sdf.Resolver, *sdf.LayerStack) {
	t.Helper()
	dir := t.TempDir()
	for name, doc := range files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(doc), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	resolver := sdf.NewResolver(dir)
	stack, err := resolver.ComputeLayerStack("root.yaml")
	if err != nil {
		t.Fatalf("ComputeLayerStack: %v", err)
	}
	return resolver, stack
}

func newTestEngine(t *testing.T, files map[string]string, opts ...EngineOption) (*Engine, *sdf.LayerStack) {
	t.Helper()
	resolver, stack := buildTestStack(t, files)
	return NewEngine(resolver, opts...), stack
}

func computeTestIndex(t *testing.T, e *Engine, stack *sdf.LayerStack, path string) *PrimIndex {
	t.Helper()
	idx, err := e.ComputeIndex(context.Background(), Site{LayerStack: stack, Path: sdf.MustParsePath(path)})
	if err != nil {
		t.Fatalf("ComputeIndex(%s): %v", path, err)
	}
	return idx
}

// primStackStrings renders the flattened prim stack as
// "identifier path" strings for order-sensitive comparison.
func primStackStrings(idx *PrimIndex) []string {
	out := make([]string, 0, len(idx.PrimStack()))
	for _, s := range idx.PrimStack() {
		out = append(out, s.Layer.Identifier+" "+s.Path.String())
	}
	return out
}

func indexHasError(idx *PrimIndex, sentinel error) bool {
	for _, e := range idx.Errors() {
		if errors.Is(e, sentinel) {
			return true
		}
	}
	return false
}

func TestSinglePrimIndex(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [size]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	if idx.NodeCount() != 1 {
		t.Fatalf("NodeCount = %d, want 1", idx.NodeCount())
	}
	if !idx.IsFinalized() {
		t.Error("index not finalized")
	}
	want := []string{"root.yaml /A"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}

func TestReferenceChain(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [local]
    references:
      - asset: model.yaml
        primPath: /B
`,
		"model.yaml": `
prims:
  B:
    properties: [mid]
    references:
      - asset: base.yaml
        primPath: /C
`,
		"base.yaml": `
prims:
  C:
    properties: [base]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	want := []string{"root.yaml /A", "model.yaml /B", "base.yaml /C"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
	if got := len(idx.NodeRangeOfType(ArcTypeReference)); got != 2 {
		t.Errorf("reference nodes = %d, want 2", got)
	}
	if len(idx.Errors()) != 0 {
		t.Errorf("unexpected errors: %v", idx.Errors())
	}
}

func TestReferenceDefaultPrim(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    references:
      - asset: model.yaml
`,
		"model.yaml": `
defaultPrim: B
prims:
  B:
    properties: [base]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	want := []string{"root.yaml /A", "model.yaml /B"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}

func TestReferenceMissingDefaultPrim(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    references:
      - asset: model.yaml
`,
		"model.yaml": `
prims:
  B:
    properties: [base]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	if !indexHasError(idx, ErrUnresolvedPrimPath) {
		t.Errorf("errors = %v, want ErrUnresolvedPrimPath", idx.Errors())
	}
	// The diagnostic is attributed to the placeholder at the target
	// stack's pseudo-root, not the referencing prim.
	for _, e := range idx.Errors() {
		if errors.Is(e, ErrUnresolvedPrimPath) {
			if e.AssetPath != "model.yaml" {
				t.Errorf("error asset = %q, want model.yaml", e.AssetPath)
			}
			if !e.Site.Path.IsAbsoluteRootPath() {
				t.Errorf("error site = %s, want pseudo-root", e.Site.Path)
			}
		}
	}
	want := []string{"root.yaml /A"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}

func TestReferenceUnresolvedTarget(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    references:
      - asset: model.yaml
        primPath: /Nope
`,
		"model.yaml": `
prims:
  B:
    properties: [base]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	if !indexHasError(idx, ErrUnresolvedPrimPath) {
		t.Errorf("errors = %v, want ErrUnresolvedPrimPath", idx.Errors())
	}
	// The spec-less target subtree is culled away.
	if idx.NodeCount() != 1 {
		t.Errorf("NodeCount = %d, want 1", idx.NodeCount())
	}
}

func TestInternalReference(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    references:
      - primPath: /B
  B:
    properties: [shared]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	want := []string{"root.yaml /A", "root.yaml /B"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
	ref := idx.NodeRangeOfType(ArcTypeReference)
	if len(ref) != 1 {
		t.Fatalf("reference nodes = %d, want 1", len(ref))
	}
	if got := idx.Site(ref[0]).LayerStack; got != stack {
		t.Error("internal reference left its own layer stack")
	}
}

func TestReferenceCycle(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [a]
    references:
      - asset: model.yaml
        primPath: /B
`,
		"model.yaml": `
prims:
  B:
    properties: [b]
    references:
      - asset: root.yaml
        primPath: /A
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	if !indexHasError(idx, ErrArcCycle) {
		t.Fatalf("errors = %v, want ErrArcCycle", idx.Errors())
	}
	want := []string{"root.yaml /A", "model.yaml /B"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}

func TestInheritImpliedClass(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    references:
      - asset: model.yaml
        primPath: /B
  Class:
    properties: [override]
`,
		"model.yaml": `
prims:
  B:
    inherits: [/Class]
  Class:
    properties: [base]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	// The class inherited inside the referenced asset surfaces in the
	// root layer stack as an implied inherit, stronger than the
	// reference, so local class overrides beat the referenced prim.
	want := []string{
		"root.yaml /A",
		"root.yaml /Class",
		"model.yaml /B",
		"model.yaml /Class",
	}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Fatalf("prim stack = %v, want %v", got, want)
	}

	inherits := idx.NodeRangeOfType(ArcTypeInherit)
	if len(inherits) != 2 {
		t.Fatalf("inherit nodes = %d, want 2", len(inherits))
	}
	implied := inherits[0]
	if idx.Site(implied).LayerStack != stack {
		t.Error("strongest inherit node is not in the root layer stack")
	}
	if idx.Origin(implied) == idx.Parent(implied) {
		t.Error("implied inherit should record its propagation origin")
	}
}

func TestChildPrimAncestralOpinions(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    references:
      - asset: model.yaml
        primPath: /B
    children:
      Child:
        properties: [override]
`,
		"model.yaml": `
prims:
  B:
    properties: [base]
    children:
      Child:
        properties: [leaf]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A/Child")

	want := []string{"root.yaml /A/Child", "model.yaml /B/Child"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}

func TestSubRootReference(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    references:
      - asset: model.yaml
        primPath: /Group/B
`,
		"model.yaml": `
prims:
  Group:
    properties: [group]
    children:
      B:
        properties: [base]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	// A sub-root target composes its own opinions only; the target's
	// parent prim does not leak into this index.
	want := []string{"root.yaml /A", "model.yaml /Group/B"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
	if idx.NodeCount() != 2 {
		t.Errorf("NodeCount = %d, want 2", idx.NodeCount())
	}
}

func TestReferenceOffset(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [a]
    references:
      - asset: model.yaml
        primPath: /B
        offset: 5
        scale: 2
`,
		"model.yaml": `
prims:
  B:
    properties: [b]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	refs := idx.NodeRangeOfType(ArcTypeReference)
	if len(refs) != 1 {
		t.Fatalf("reference nodes = %d, want 1", len(refs))
	}
	off := idx.ArcOf(refs[0]).MapToParent.TimeOffset()
	if off.Offset != 5 || off.Scale != 2 {
		t.Errorf("arc offset = %+v, want offset 5 scale 2", off)
	}
}

func TestPayloadFilter(t *testing.T) {
	files := map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [a]
    payloads:
      - asset: model.yaml
        primPath: /B
`,
		"model.yaml": `
prims:
  B:
    properties: [heavy]
`,
	}

	t.Run("included by default", func(t *testing.T) {
		engine, stack := newTestEngine(t, files)
		idx := computeTestIndex(t, engine, stack, "/A")
		want := []string{"root.yaml /A", "model.yaml /B"}
		if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
			t.Errorf("prim stack = %v, want %v", got, want)
		}
		if !idx.HasPayloads() {
			t.Error("HasPayloads = false")
		}
	})

	t.Run("excluded by filter", func(t *testing.T) {
		engine, stack := newTestEngine(t, files,
			WithPayloadFilter(func(sdf.Path) bool { return false }))
		idx := computeTestIndex(t, engine, stack, "/A")
		want := []string{"root.yaml /A"}
		if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
			t.Errorf("prim stack = %v, want %v", got, want)
		}
		if !idx.HasPayloads() {
			t.Error("HasPayloads should report authored payloads even when unloaded")
		}
	})
}

func TestSublayerOpinionOrder(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
subLayers:
  - asset: strong.yaml
  - asset: weak.yaml
prims:
  A:
    properties: [root]
`,
		"strong.yaml": `
prims:
  A:
    properties: [strong]
`,
		"weak.yaml": `
prims:
  A:
    properties: [weak]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	// One node, three spec sites: sublayer order is opinion order.
	if idx.NodeCount() != 1 {
		t.Fatalf("NodeCount = %d, want 1", idx.NodeCount())
	}
	want := []string{"root.yaml /A", "strong.yaml /A", "weak.yaml /A"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}
