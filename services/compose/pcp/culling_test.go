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
	"reflect"
	"testing"
)

func TestCullingRemovesSpeclessSubtrees(t *testing.T) {
	files := map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [a]
    references:
      - asset: model.yaml
        primPath: /Missing
`,
		"model.yaml": `
prims:
  B:
    properties: [b]
`,
	}

	t.Run("culled", func(t *testing.T) {
		engine, stack := newTestEngine(t, files)
		idx := computeTestIndex(t, engine, stack, "/A")
		if idx.NodeCount() != 1 {
			t.Errorf("NodeCount = %d, want 1", idx.NodeCount())
		}
	})

	t.Run("kept when culling disabled", func(t *testing.T) {
		engine, stack := newTestEngine(t, files, WithCulling(false))
		idx := computeTestIndex(t, engine, stack, "/A")
		if idx.NodeCount() != 2 {
			t.Errorf("NodeCount = %d, want 2", idx.NodeCount())
		}
		// The spec-less target still composes no opinions.
		want := []string{"root.yaml /A"}
		if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
			t.Errorf("prim stack = %v, want %v", got, want)
		}
	})
}

func TestPrivatePrimRestrictsWeakerArcs(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    permission: private
    properties: [strong]
    references:
      - asset: model.yaml
        primPath: /B
`,
		"model.yaml": `
prims:
  B:
    properties: [weak]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	// The private prim keeps its own opinions and seals off everything
	// weaker. No error: restriction is a property of the prim, not a
	// broken arc.
	want := []string{"root.yaml /A"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
	if len(idx.Errors()) != 0 {
		t.Errorf("unexpected errors: %v", idx.Errors())
	}
}

func TestPrivateReferenceTargetDenied(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [a]
    references:
      - asset: model.yaml
        primPath: /Priv
`,
		"model.yaml": `
prims:
  Priv:
    permission: private
    properties: [secret]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	if !indexHasError(idx, ErrPermissionDenied) {
		t.Errorf("errors = %v, want ErrPermissionDenied", idx.Errors())
	}
	want := []string{"root.yaml /A"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}

func TestComposedInstanceable(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    instanceable: true
    references:
      - asset: model.yaml
        primPath: /B
  C:
    instanceable: true
    properties: [plain]
`,
		"model.yaml": `
prims:
  B:
    properties: [b]
`,
	})

	if idx := computeTestIndex(t, engine, stack, "/A"); !idx.IsInstanceable() {
		t.Error("IsInstanceable = false for instanceable prim with arcs")
	}
	// Without composition arcs there is nothing to share.
	if idx := computeTestIndex(t, engine, stack, "/C"); idx.IsInstanceable() {
		t.Error("IsInstanceable = true for prim without arcs")
	}
}
