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

// enforcePermissions restricts every node weaker than the strongest
// private node. The private node itself still contributes; everything
// behind it in strength order is sealed off.
func (ix *indexer) enforcePermissions() {
	sealed := false
	for _, ref := range ix.idx.NodeRange() {
		if sealed {
			ix.idx.setRestricted(ref, true)
			continue
		}
		// An inert private node (a denied arc target) was already
		// handled at arc addition; it must not seal off its siblings.
		if ix.idx.CanContributeSpecs(ref) &&
			ix.idx.Permission(ref) == sdf.PermissionPrivate {
			sealed = true
		}
	}
}

// cullSubtrees marks spec-less subtrees for removal at finalize.
//
// Description:
//
//	Reverse pre-order visits children before parents, so a parent is
//	culled only after every child was judged. A node survives when it
//	contributes specs, carries symmetry, anchors a class arc in the
//	root layer stack (implied-class propagation depends on those even
//	without specs), or keeps any live child. A second pass revives any
//	culled node that a surviving node names as origin, along with its
//	ancestors, so the origin chain never dangles after compaction.
//
// Thread Safety:
//   - Not safe. Runs on the single-threaded build loop.
func (ix *indexer) cullSubtrees() {
	refs := ix.idx.NodeRange()
	rootStack := ix.idx.RootSite().LayerStack

	for i := len(refs) - 1; i >= 0; i-- {
		if ix.nodeCanBeCulled(refs[i], rootStack) {
			ix.idx.setCulled(refs[i], true)
		}
	}

	for _, ref := range refs {
		if ix.idx.IsCulled(ref) {
			continue
		}
		for o := ix.idx.Origin(ref); o != InvalidNodeRef && o != ref; o = ix.idx.Origin(o) {
			if !ix.idx.IsCulled(o) {
				break
			}
			ix.reviveWithAncestors(o)
		}
	}
}

func (ix *indexer) nodeCanBeCulled(ref NodeRef, rootStack *sdf.LayerStack) bool {
	if ref == ix.idx.Root() {
		return false
	}
	if ix.idx.HasSymmetry(ref) {
		return false
	}
	if ix.idx.ArcOf(ref).Type.IsClassBased() && ix.idx.Site(ref).LayerStack == rootStack {
		return false
	}
	if ix.idx.HasSpecs(ref) && ix.idx.CanContributeSpecs(ref) {
		return false
	}
	for _, child := range ix.idx.Children(ref) {
		if !ix.idx.IsCulled(child) {
			return false
		}
	}
	return true
}

func (ix *indexer) reviveWithAncestors(ref NodeRef) {
	for ref != InvalidNodeRef && ix.idx.IsCulled(ref) {
		ix.idx.setCulled(ref, false)
		ref = ix.idx.Parent(ref)
	}
}

// elideIfProhibited empties the whole index when the requested prim
// path sits at or under a relocation source in its own layer stack.
// The prim's opinions surface at the relocated location instead; the
// original location composes to nothing.
func (ix *indexer) elideIfProhibited() {
	site := ix.idx.RootSite()
	if site.LayerStack == nil {
		return
	}
	if site.LayerStack.ApplyRelocates(site.Path).Equal(site.Path) {
		return
	}

	for _, ref := range ix.idx.NodeRange() {
		ix.idx.setInert(ref, true)
		if ref != ix.idx.Root() {
			ix.idx.setCulled(ref, true)
		}
	}
	ix.recordError(&CompositionError{
		Err:        ErrArcToProhibitedChild,
		Site:       site,
		TargetPath: site.LayerStack.ApplyRelocates(site.Path),
		Detail:     "prim is a relocation source",
	})
}

// composeInstanceable resolves the instanceable flag from the
// strongest contributing opinion. Instanceable only takes effect when
// the index composes arcs beyond the root node, since instancing
// shares the arc-derived part of the prim.
func (ix *indexer) composeInstanceable() {
	if len(ix.idx.Children(ix.idx.Root())) == 0 {
		return
	}
	for _, ref := range ix.idx.NodeRange() {
		if !ix.idx.CanContributeSpecs(ref) || !ix.idx.HasSpecs(ref) {
			continue
		}
		site := ix.idx.Site(ref)
		if sdf.ComposedInstanceable(site.LayerStack, site.Path) {
			ix.idx.SetIsInstanceable(true)
			return
		}
	}
}
