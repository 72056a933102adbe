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
	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// evalNodeInherits adds one inherit arc per composed inherit target,
// then schedules implied-class propagation so the class structure is
// re-synthesized up the arc chain toward the root.
func (ix *indexer) evalNodeInherits(ref NodeRef) {
	site := ix.idx.Site(ref)
	added := false
	for i, target := range sdf.ComposedInherits(site.LayerStack, site.Path) {
		if ix.addClassArc(ref, ArcTypeInherit, target, i) != InvalidNodeRef {
			added = true
		}
	}
	if added && ref != ix.idx.Root() {
		ix.q.Push(task{kind: taskImpliedClasses, node: ref})
	}
}

// evalNodeSpecializes adds specialize arcs. At the root they attach
// directly; deeper in the graph each authored specialize becomes an
// inert placeholder at its authored location, and implied propagation
// later materializes the real arc as a child of the root, keeping
// specialized opinions weaker than everything else.
func (ix *indexer) evalNodeSpecializes(ref NodeRef) {
	site := ix.idx.Site(ref)
	targets := sdf.ComposedSpecializes(site.LayerStack, site.Path)
	if len(targets) == 0 {
		return
	}
	if ref == ix.idx.Root() {
		for i, target := range targets {
			ix.addClassArc(ref, ArcTypeSpecialize, target, i)
		}
		return
	}

	added := false
	for i, target := range targets {
		if !ix.validClassTarget(ref, ArcTypeSpecialize, target) {
			continue
		}
		placeholder := ix.addArc(addArcArgs{
			parent:                          ref,
			arcType:                         ArcTypeSpecialize,
			site:                            Site{LayerStack: site.LayerStack, Path: target},
			mapExpr:                         NewMapExpr(target, site.Path, sdf.IdentityOffset()),
			siblingNum:                      i,
			origin:                          InvalidNodeRef,
			directNodeShouldContributeSpecs: false,
		})
		if placeholder != InvalidNodeRef {
			added = true
		}
	}
	if added && ix.evaluateImpliedSpecializes {
		ix.q.Push(task{kind: taskImpliedSpecializes, node: ref})
	}
}

// validClassTarget validates a class-arc target path, recording an
// error for malformed targets.
func (ix *indexer) validClassTarget(ref NodeRef, arcType ArcType, target sdf.Path) bool {
	if target.IsPrimPath() {
		return true
	}
	ix.recordError(&CompositionError{
		Err:        ErrInvalidPrimPath,
		Site:       ix.idx.Site(ref),
		ArcType:    arcType,
		TargetPath: target,
	})
	return false
}

// addClassArc adds a directly authored inherit or specialize arc.
// Class arcs stay within the node's own layer stack and carry no root
// identity: only opinions inside the class subtree transfer.
func (ix *indexer) addClassArc(ref NodeRef, arcType ArcType, target sdf.Path, siblingNum int) NodeRef {
	if !ix.validClassTarget(ref, arcType, target) {
		return InvalidNodeRef
	}
	site := ix.idx.Site(ref)
	return ix.addArc(addArcArgs{
		parent:                          ref,
		arcType:                         arcType,
		site:                            Site{LayerStack: site.LayerStack, Path: target},
		mapExpr:                         NewMapExpr(target, site.Path, sdf.IdentityOffset()),
		siblingNum:                      siblingNum,
		origin:                          InvalidNodeRef,
		includeAncestralOpinions:        target.ElementCount() > 1,
		skipDuplicateNodes:              true,
		directNodeShouldContributeSpecs: true,
	})
}

// evalImpliedClasses re-synthesizes the class arcs found under a node
// one level up, across the node's own arc.
//
// Description:
//
//	For a class arc c under node n with arc map t (n's map to its
//	parent), the implied arc at n's parent has map
//	t' ∘ c.map ∘ t'⁻¹ where t' is t extended with the root identity.
//	The root identity is what carries a global class (a root prim)
//	across a reference unchanged; without it the class path would not
//	translate at all. Propagation repeats level by level until the
//	class structure reaches the root.
func (ix *indexer) evalImpliedClasses(ref NodeRef) {
	parent := ix.idx.Parent(ref)
	if parent == InvalidNodeRef {
		return
	}

	transfer := ix.idx.ArcOf(ref).MapToParent.AddRootIdentity()

	for _, child := range append([]NodeRef(nil), ix.idx.Children(ref)...) {
		arc := ix.idx.ArcOf(child)
		if !arc.Type.IsClassBased() {
			continue
		}
		// Arcs lifted from the parent prim's index were already
		// propagated when that index was built.
		if ix.idx.IsDueToAncestor(child) {
			continue
		}

		childSite := ix.idx.Site(child)
		impliedPath := transfer.MapSourceToTarget(childSite.Path)
		if impliedPath.IsEmpty() {
			continue
		}

		impliedMap := transfer.Compose(arc.MapToParent).Compose(transfer.Inverse())
		parentSite := ix.idx.Site(parent)

		implied := ix.addArc(addArcArgs{
			parent:                          parent,
			arcType:                         arc.Type,
			site:                            Site{LayerStack: parentSite.LayerStack, Path: impliedPath},
			mapExpr:                         impliedMap,
			siblingNum:                      arc.SiblingNumAtOrigin,
			origin:                          child,
			includeAncestralOpinions:        impliedPath.ElementCount() > 1,
			skipDuplicateNodes:              true,
			directNodeShouldContributeSpecs: true,
		})
		if implied != InvalidNodeRef && parent != ix.idx.Root() {
			ix.q.Push(task{kind: taskImpliedClasses, node: parent})
		}
	}
}

// evalImpliedSpecializes propagates the specialize placeholders under
// a node to the root, so specialized opinions always sort weakest
// regardless of where they were authored. The propagated arc keeps the
// placeholder's site; only its attachment point and mapping move.
func (ix *indexer) evalImpliedSpecializes(ref NodeRef) {
	root := ix.idx.Root()
	transfer := ix.idx.MapToRoot(ref).AddRootIdentity()

	for _, child := range append([]NodeRef(nil), ix.idx.Children(ref)...) {
		arc := ix.idx.ArcOf(child)
		if arc.Type != ArcTypeSpecialize || !ix.idx.IsInert(child) {
			continue
		}
		if ix.idx.IsDueToAncestor(child) {
			continue
		}

		childSite := ix.idx.Site(child)
		ix.addArc(addArcArgs{
			parent:                          root,
			arcType:                         ArcTypeSpecialize,
			site:                            childSite,
			mapExpr:                         transfer.Compose(arc.MapToParent),
			siblingNum:                      arc.SiblingNumAtOrigin,
			origin:                          child,
			includeAncestralOpinions:        childSite.Path.ElementCount() > 1,
			skipDuplicateNodes:              true,
			directNodeShouldContributeSpecs: true,
		})
	}
}
