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

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// relocScene moves /Char/Anim (which only exists through the rig
// reference) to /Char/AnimFixed in the root layer.
var relocScene = map[string]string{
	"root.yaml": `
relocates:
  /Char/Anim: /Char/AnimFixed
prims:
  Char:
    references:
      - asset: rig.yaml
        primPath: /CharRig
`,
	"rig.yaml": `
prims:
  CharRig:
    properties: [rig]
    children:
      Anim:
        properties: [pose]
`,
}

func TestRelocatedPrimComposesSourceOpinions(t *testing.T) {
	engine, stack := newTestEngine(t, relocScene)
	idx := computeTestIndex(t, engine, stack, "/Char/AnimFixed")

	// The new location composes the opinions authored at the original
	// location inside the referenced rig.
	want := []string{"rig.yaml /CharRig/Anim"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Fatalf("prim stack = %v, want %v", got, want)
	}

	relocs := idx.NodeRangeOfType(ArcTypeRelocate)
	if len(relocs) != 1 {
		t.Fatalf("relocate nodes = %d, want 1", len(relocs))
	}
	if got := idx.Site(relocs[0]).Path; !got.Equal(sdf.MustParsePath("/Char/Anim")) {
		t.Errorf("relocate node site = %s, want /Char/Anim", got)
	}
	if !idx.IsInert(relocs[0]) {
		t.Error("relocation source node must not contribute specs itself")
	}
	if len(idx.Errors()) != 0 {
		t.Errorf("unexpected errors: %v", idx.Errors())
	}
}

func TestRelocationSourceComposesEmpty(t *testing.T) {
	engine, stack := newTestEngine(t, relocScene)
	idx := computeTestIndex(t, engine, stack, "/Char/Anim")

	if got := primStackStrings(idx); len(got) != 0 {
		t.Errorf("prim stack = %v, want empty", got)
	}
	if !indexHasError(idx, ErrArcToProhibitedChild) {
		t.Errorf("errors = %v, want ErrArcToProhibitedChild", idx.Errors())
	}
	if idx.NodeCount() != 1 {
		t.Errorf("NodeCount = %d, want 1", idx.NodeCount())
	}
}

func TestOpinionAtRelocationSourceReported(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
relocates:
  /Char/Anim: /Char/AnimFixed
prims:
  Char:
    references:
      - asset: rig.yaml
        primPath: /CharRig
    children:
      Anim:
        properties: [stray]
`,
		"rig.yaml": relocScene["rig.yaml"],
	})
	idx := computeTestIndex(t, engine, stack, "/Char/AnimFixed")

	if !indexHasError(idx, ErrOpinionAtRelocationSource) {
		t.Errorf("errors = %v, want ErrOpinionAtRelocationSource", idx.Errors())
	}
	// The stray opinions at the tombstoned source stay ignored.
	want := []string{"rig.yaml /CharRig/Anim"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
}

func TestArcToRelocationSourceDenied(t *testing.T) {
	files := map[string]string{
		"root.yaml": relocScene["root.yaml"] + `
  Other:
    properties: [other]
    references:
      - primPath: /Char/Anim
`,
		"rig.yaml": relocScene["rig.yaml"],
	}
	engine, stack := newTestEngine(t, files)
	idx := computeTestIndex(t, engine, stack, "/Other")

	if !indexHasError(idx, ErrArcToProhibitedChild) {
		t.Errorf("errors = %v, want ErrArcToProhibitedChild", idx.Errors())
	}
	want := []string{"root.yaml /Other"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}
	if idx.NodeCount() != 1 {
		t.Errorf("NodeCount = %d, want 1", idx.NodeCount())
	}
}

func TestImpliedRelocations(t *testing.T) {
	// The relocation lives in the referenced rig's layer stack; it has
	// to surface in the consuming stack as well so the moved path
	// resolves from the root.
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  Char:
    references:
      - asset: rig.yaml
        primPath: /CharRig
`,
		"rig.yaml": `
relocates:
  /CharRig/Anim: /CharRig/AnimFixed
prims:
  CharRig:
    references:
      - asset: skel.yaml
        primPath: /Skel
`,
		"skel.yaml": `
prims:
  Skel:
    properties: [skel]
    children:
      Anim:
        properties: [mocap]
`,
	}, WithCulling(false))
	idx := computeTestIndex(t, engine, stack, "/Char/AnimFixed")

	want := []string{"skel.yaml /Skel/Anim"}
	if got := primStackStrings(idx); !reflect.DeepEqual(got, want) {
		t.Errorf("prim stack = %v, want %v", got, want)
	}

	var got []string
	for _, ref := range idx.NodeRangeOfType(ArcTypeRelocate) {
		got = append(got, idx.Site(ref).String())
	}
	want = []string{"root.yaml:/Char/Anim", "rig.yaml:/CharRig/Anim"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("relocate node sites = %v, want %v", got, want)
	}
}
