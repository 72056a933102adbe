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

// evalNodeRelocations handles a relocation whose target is this
// node's path. The original location's opinions are pulled in through
// a new child arc at the source site; everything composed at the node
// from ancestral arcs is elided, since those arcs described the
// pre-relocation namespace.
//
// Description:
//
//	Relocations rewrite namespace, not opinions. A node at a relocated
//	path keeps local opinions authored at the new location, elides its
//	ancestral children, and gains a relocate child whose subtree
//	re-composes the source path (references, inherits and so on
//	authored below it still apply). Opinions authored directly at the
//	source in the relocating layer stack are a reported error: the
//	source is a tombstone.
//
// Inputs:
//   - ref: the node whose path may be a relocation target.
//
// Thread Safety:
//   - Not safe. Runs on the single-threaded build loop.
func (ix *indexer) evalNodeRelocations(ref NodeRef) {
	// Variant arcs stay within the prim that introduced them; the
	// owning non-variant node handles the relocation.
	if ix.idx.ArcOf(ref).Type == ArcTypeVariant {
		return
	}

	site := ix.idx.Site(ref)
	reloc, ok := site.LayerStack.RelocateTargetFor(site.Path)
	if !ok {
		return
	}

	// Ancestral arcs composed the pre-relocation namespace. Their
	// subtrees no longer apply at the relocated location.
	for _, child := range ix.idx.Children(ref) {
		if ix.idx.ArcOf(child).Type != ArcTypeVariant {
			ix.markSubtreeInert(child)
		}
	}

	newRef := ix.addArc(addArcArgs{
		parent:  ref,
		arcType: ArcTypeRelocate,
		site:    Site{LayerStack: site.LayerStack, Path: reloc.Source},
		mapExpr: IdentityMapExpr(),
		origin:  ref,

		// Ancestors of the source still carry the arcs (references,
		// inherits) whose targets hold the prim's real opinions.
		includeAncestralOpinions: true,

		// The source site itself is prohibited ground.
		directNodeShouldContributeSpecs: false,
	})
	if newRef == InvalidNodeRef {
		return
	}

	for _, entry := range site.LayerStack.Layers() {
		if entry.Layer.GetPrimSpec(reloc.Source) != nil {
			ix.recordError(&CompositionError{
				Err:        ErrOpinionAtRelocationSource,
				Site:       Site{LayerStack: site.LayerStack, Path: reloc.Source},
				ArcType:    ArcTypeRelocate,
				TargetPath: site.Path,
				Detail:     "layer " + entry.Layer.Identifier,
			})
		}
	}

	ix.elideRelocatedSubtrees(newRef)
}

// elideRelocatedSubtrees walks the subtree under a new relocate child
// and elides any node whose site path is itself moved elsewhere by
// relocations in its own layer stack. Those opinions surface through
// that layer stack's own relocation, not here.
func (ix *indexer) elideRelocatedSubtrees(root NodeRef) {
	for _, n := range ix.idx.SubtreeRange(root) {
		if n == root || ix.idx.IsInert(n) {
			continue
		}
		s := ix.idx.Site(n)
		if !s.LayerStack.ApplyRelocates(s.Path).Equal(s.Path) {
			ix.markSubtreeInert(n)
		}
	}
}

// evalImpliedRelocations propagates a relocate arc one level up the
// graph. A relocation authored in a referenced layer stack must also
// take effect where the reference is consumed, so the source site is
// mapped across the parent's arc and a matching relocate child is
// added under the grandparent.
func (ix *indexer) evalImpliedRelocations(ref NodeRef) {
	if ix.idx.ArcOf(ref).Type != ArcTypeRelocate || ix.idx.IsDueToAncestor(ref) {
		return
	}

	parent := ix.idx.Parent(ref)
	if parent == InvalidNodeRef {
		return
	}
	grandparent := ix.idx.Parent(parent)
	if grandparent == InvalidNodeRef {
		return
	}

	parentArc := ix.idx.ArcOf(parent)
	if parentArc.MapToParent == nil {
		return
	}
	impliedSource := parentArc.MapToParent.MapSourceToTarget(ix.idx.Site(ref).Path)
	if impliedSource.IsEmpty() {
		return
	}

	// The grandparent may have composed the same relocation already.
	for _, child := range ix.idx.Children(grandparent) {
		if ix.idx.ArcOf(child).Type == ArcTypeRelocate &&
			ix.idx.Site(child).Path.Equal(impliedSource) {
			return
		}
	}

	ix.addArc(addArcArgs{
		parent:  grandparent,
		arcType: ArcTypeRelocate,
		site: Site{
			LayerStack: ix.idx.Site(grandparent).LayerStack,
			Path:       impliedSource,
		},
		mapExpr:                         IdentityMapExpr(),
		origin:                          ref,
		directNodeShouldContributeSpecs: false,
	})
}
