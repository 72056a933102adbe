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

// addArcArgs parameterizes the arc-addition protocol shared by every
// evaluator.
type addArcArgs struct {
	parent  NodeRef
	arcType ArcType
	site    Site
	mapExpr *MapExpr

	// siblingNum orders same-typed arcs from one authored list.
	siblingNum int

	// origin is the node this arc was propagated from, or
	// InvalidNodeRef for directly authored arcs.
	origin NodeRef

	// includeAncestralOpinions recursively composes the target's
	// ancestors into the new subtree (sub-root arc targets need their
	// parent prims' opinions).
	includeAncestralOpinions bool

	// requirePrimAtTarget records an error when no spec exists at the
	// target site.
	requirePrimAtTarget bool

	// skipDuplicateNodes drops the arc when a node for the same site
	// already exists anywhere in the build chain.
	skipDuplicateNodes bool

	// directNodeShouldContributeSpecs false marks the new node inert:
	// present for dependency tracking and origins only.
	directNodeShouldContributeSpecs bool
}

// addArc runs the full arc-addition protocol and returns the new node,
// or InvalidNodeRef when the arc was rejected or skipped.
//
// Description:
//
//	Order of checks follows composition semantics: relocation
//	tombstones reject first (salted earth), then cycles, then the
//	optional duplicate-site check. The node (or recursively built
//	subtree) is then inserted in strength order, permissions are
//	applied, and follow-up tasks are queued for every new node.
func (ix *indexer) addArc(args addArcArgs) NodeRef {
	if args.site.LayerStack == nil {
		return InvalidNodeRef
	}

	if args.site.LayerStack.IsRelocateSource(args.site.Path) &&
		args.arcType != ArcTypeRelocate {
		ix.recordError(&CompositionError{
			Err:        ErrArcToProhibitedChild,
			Site:       ix.idx.Site(args.parent),
			ArcType:    args.arcType,
			TargetPath: args.site.Path,
		})
		return InvalidNodeRef
	}

	// Variant arcs stay within one prim and cannot close a cycle.
	if args.arcType != ArcTypeVariant && ix.detectCycle(args.parent, args.site) {
		ix.recordError(&CompositionError{
			Err:        ErrArcCycle,
			Site:       ix.idx.Site(args.parent),
			ArcType:    args.arcType,
			TargetPath: args.site.Path,
		})
		return InvalidNodeRef
	}

	if args.skipDuplicateNodes && ix.siteExists(args.site) {
		return InvalidNodeRef
	}

	if args.requirePrimAtTarget && !args.site.LayerStack.HasSpec(args.site.Path) {
		ix.recordError(&CompositionError{
			Err:        ErrUnresolvedPrimPath,
			Site:       ix.idx.Site(args.parent),
			ArcType:    args.arcType,
			TargetPath: args.site.Path,
		})
	}

	arc := Arc{
		Type:               args.arcType,
		MapToParent:        ix.intern(args.mapExpr),
		SiblingNumAtOrigin: args.siblingNum,
		NamespaceDepth:     ix.idx.Site(args.parent).Path.NonVariantElementCount(),
	}

	var ref NodeRef
	var err error
	if args.includeAncestralOpinions && args.site.Path.ElementCount() > 1 {
		frame := &stackFrame{
			previous:           ix.previousFrame,
			requestedSite:      args.site,
			arcToParent:        arc.MapToParent,
			parentIndexer:      ix,
			parentNode:         args.parent,
			skipDuplicateNodes: args.skipDuplicateNodes,
		}
		sub := buildSubIndex(ix.inputs, args.site, frame, ix.ancestorRecursionDepth+1)
		ref, err = ix.idx.InsertChildSubgraph(args.parent, sub, arc, args.origin)
		if err != nil {
			ix.recordCapacity(args)
			return InvalidNodeRef
		}
	} else {
		ref, err = ix.idx.InsertChild(args.parent, args.site, arc, args.origin)
		if err != nil {
			ix.recordCapacity(args)
			return InvalidNodeRef
		}
		ix.refreshNodeState(ref)
	}

	if !args.directNodeShouldContributeSpecs {
		ix.idx.setInert(ref, true)
	}

	// A private target denies access from across the arc. The subtree
	// stays, inert, so dependency tracking and origins survive.
	if ix.idx.Permission(ref) == sdf.PermissionPrivate {
		ix.recordError(&CompositionError{
			Err:        ErrPermissionDenied,
			Site:       ix.idx.Site(args.parent),
			ArcType:    args.arcType,
			TargetPath: args.site.Path,
		})
		ix.markSubtreeInert(ref)
	}

	for _, r := range ix.idx.SubtreeRange(ref) {
		ix.addTasksForNode(r, r != ref && ix.idx.IsDueToAncestor(r))
	}
	return ref
}

func (ix *indexer) recordCapacity(args addArcArgs) {
	ix.recordError(&CompositionError{
		Err:        ErrCapacityExceeded,
		Site:       ix.idx.Site(args.parent),
		ArcType:    args.arcType,
		TargetPath: args.site.Path,
		Detail:     "node limit reached",
	})
}

// detectCycle reports whether the target site already appears on the
// arc chain from the root (in this build or any enclosing one). Two
// sites collide when they share a layer stack and their paths are
// prefix-related.
func (ix *indexer) detectCycle(parent NodeRef, target Site) bool {
	for cur := ix; cur != nil; {
		ref := parent
		for ref != InvalidNodeRef {
			s := cur.idx.Site(ref)
			if s.LayerStack == target.LayerStack &&
				(s.Path.HasPrefix(target.Path) || target.Path.HasPrefix(s.Path)) {
				return true
			}
			ref = cur.idx.Parent(ref)
		}
		frame := cur.previousFrame
		if frame == nil {
			return false
		}
		parent = frame.parentNode
		cur = frame.parentIndexer
	}
	return false
}

// siteExists reports whether any contributing node in the build chain
// already composes the given site. Inert nodes (placeholders, denied
// subtrees) do not count: they carry no opinions to duplicate.
func (ix *indexer) siteExists(target Site) bool {
	for cur := ix; cur != nil; {
		for _, ref := range cur.idx.NodeRange() {
			if cur.idx.Site(ref) == target && !cur.idx.IsInert(ref) {
				return true
			}
		}
		frame := cur.previousFrame
		if frame == nil {
			return false
		}
		cur = frame.parentIndexer
	}
	return false
}

// markSubtreeInert forces a node and all descendants inert.
func (ix *indexer) markSubtreeInert(ref NodeRef) {
	for _, r := range ix.idx.SubtreeRange(ref) {
		ix.idx.setInert(r, true)
	}
}
