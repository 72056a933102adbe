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
	"errors"
	"reflect"
	"testing"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

func testSite(path string) Site {
	return Site{Path: sdf.MustParsePath(path)}
}

func mustInsert(t *testing.T, idx *PrimIndex, parent NodeRef, site Site, arc Arc, origin NodeRef) NodeRef {
	t.Helper()
	if arc.MapToParent == nil {
		arc.MapToParent = IdentityMapExpr()
	}
	ref, err := idx.InsertChild(parent, site, arc, origin)
	if err != nil {
		t.Fatalf("InsertChild: %v", err)
	}
	return ref
}

func TestInsertChildStrengthOrder(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	pay := mustInsert(t, idx, idx.Root(), testSite("/P"), Arc{Type: ArcTypePayload}, InvalidNodeRef)
	inh := mustInsert(t, idx, idx.Root(), testSite("/I"), Arc{Type: ArcTypeInherit}, InvalidNodeRef)
	ref := mustInsert(t, idx, idx.Root(), testSite("/R"), Arc{Type: ArcTypeReference}, InvalidNodeRef)

	want := []NodeRef{inh, ref, pay}
	if got := idx.Children(idx.Root()); !reflect.DeepEqual(got, want) {
		t.Errorf("children = %v, want %v", got, want)
	}
}

func TestInsertChildSiblingNumber(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	second := mustInsert(t, idx, idx.Root(), testSite("/B"),
		Arc{Type: ArcTypeReference, SiblingNumAtOrigin: 1}, InvalidNodeRef)
	first := mustInsert(t, idx, idx.Root(), testSite("/A"),
		Arc{Type: ArcTypeReference, SiblingNumAtOrigin: 0}, InvalidNodeRef)

	want := []NodeRef{first, second}
	if got := idx.Children(idx.Root()); !reflect.DeepEqual(got, want) {
		t.Errorf("children = %v, want %v", got, want)
	}
}

func TestImpliedArcWeakerThanDirect(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	direct := mustInsert(t, idx, idx.Root(), testSite("/C1"),
		Arc{Type: ArcTypeInherit}, InvalidNodeRef)
	implied := mustInsert(t, idx, idx.Root(), testSite("/C2"),
		Arc{Type: ArcTypeInherit}, direct)

	want := []NodeRef{direct, implied}
	if got := idx.Children(idx.Root()); !reflect.DeepEqual(got, want) {
		t.Errorf("children = %v, want %v", got, want)
	}
	if got := idx.Origin(implied); got != direct {
		t.Errorf("Origin = %v, want %v", got, direct)
	}
	if got := idx.OriginRoot(implied); got != direct {
		t.Errorf("OriginRoot = %v, want %v", got, direct)
	}
}

func TestSubtreeAndWeakerRanges(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	strong := mustInsert(t, idx, idx.Root(), testSite("/S"),
		Arc{Type: ArcTypeReference, SiblingNumAtOrigin: 0}, InvalidNodeRef)
	grand := mustInsert(t, idx, strong, testSite("/S/G"),
		Arc{Type: ArcTypeInherit}, InvalidNodeRef)
	weak := mustInsert(t, idx, idx.Root(), testSite("/W"),
		Arc{Type: ArcTypeReference, SiblingNumAtOrigin: 1}, InvalidNodeRef)

	wantAll := []NodeRef{idx.Root(), strong, grand, weak}
	if got := idx.NodeRange(); !reflect.DeepEqual(got, wantAll) {
		t.Errorf("NodeRange = %v, want %v", got, wantAll)
	}
	wantSub := []NodeRef{strong, grand}
	if got := idx.SubtreeRange(strong); !reflect.DeepEqual(got, wantSub) {
		t.Errorf("SubtreeRange = %v, want %v", got, wantSub)
	}
	wantWeaker := []NodeRef{weak}
	if got := idx.WeakerThanRange(strong); !reflect.DeepEqual(got, wantWeaker) {
		t.Errorf("WeakerThanRange = %v, want %v", got, wantWeaker)
	}
	if got := idx.WeakerThanRange(idx.Root()); len(got) != 0 {
		t.Errorf("WeakerThanRange(root) = %v, want empty", got)
	}
}

func TestFinalizeCompactsCulledNodes(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	culled := mustInsert(t, idx, idx.Root(), testSite("/C"),
		Arc{Type: ArcTypeReference, SiblingNumAtOrigin: 0}, InvalidNodeRef)
	mustInsert(t, idx, culled, testSite("/C/Sub"), Arc{Type: ArcTypeInherit}, InvalidNodeRef)
	kept := mustInsert(t, idx, idx.Root(), testSite("/K"),
		Arc{Type: ArcTypeReference, SiblingNumAtOrigin: 1}, InvalidNodeRef)
	_ = kept

	idx.setCulled(culled, true)
	idx.Finalize()

	if !idx.IsFinalized() {
		t.Fatal("IsFinalized = false")
	}
	// Culling a node drops its whole subtree from the arena.
	if idx.NodeCount() != 2 {
		t.Fatalf("NodeCount = %d, want 2", idx.NodeCount())
	}
	children := idx.Children(idx.Root())
	if len(children) != 1 {
		t.Fatalf("children = %v, want one", children)
	}
	if got := idx.Site(children[0]).Path; !got.Equal(sdf.MustParsePath("/K")) {
		t.Errorf("surviving child = %s, want /K", got)
	}
	if got := idx.Parent(children[0]); got != idx.Root() {
		t.Errorf("remapped parent = %v, want root", got)
	}
}

func TestAppendChildNameToAllSites(t *testing.T) {
	idx := NewPrimIndex(testSite("/A"))
	mustInsert(t, idx, idx.Root(), testSite("/B"), Arc{Type: ArcTypeReference}, InvalidNodeRef)

	lifted := idx.AppendChildNameToAllSites("Child")

	if got := lifted.Path(); !got.Equal(sdf.MustParsePath("/A/Child")) {
		t.Errorf("root site = %s, want /A/Child", got)
	}
	child := lifted.Children(lifted.Root())[0]
	if got := lifted.Site(child).Path; !got.Equal(sdf.MustParsePath("/B/Child")) {
		t.Errorf("child site = %s, want /B/Child", got)
	}
	if !lifted.IsDueToAncestor(child) {
		t.Error("lifted child should be marked ancestral")
	}
	if lifted.IsDueToAncestor(lifted.Root()) {
		t.Error("lifted root is the requested prim, not ancestral")
	}
	// The source graph is untouched.
	if got := idx.Path(); !got.Equal(sdf.MustParsePath("/A")) {
		t.Errorf("original root site changed to %s", got)
	}
}

func TestInsertChildCapacity(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	idx.maxNodes = 1

	_, err := idx.InsertChild(idx.Root(), testSite("/B"),
		Arc{Type: ArcTypeReference, MapToParent: IdentityMapExpr()}, InvalidNodeRef)
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Errorf("err = %v, want ErrCapacityExceeded", err)
	}
}
