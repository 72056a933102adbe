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

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// evalNodeReferences adds one arc per composed reference at the node.
func (ix *indexer) evalNodeReferences(ref NodeRef) {
	site := ix.idx.Site(ref)
	ix.evalRefOrPayloadArcs(ref, ArcTypeReference,
		sdf.ComposedReferences(site.LayerStack, site.Path))
}

// evalNodePayloads adds one arc per composed payload at the node,
// subject to the build's payload-inclusion policy.
func (ix *indexer) evalNodePayloads(ref NodeRef) {
	ix.idx.SetHasPayloads(true)
	if ix.inputs.includePayload != nil && !ix.inputs.includePayload(ix.idx.Path()) {
		return
	}
	site := ix.idx.Site(ref)
	ix.evalRefOrPayloadArcs(ref, ArcTypePayload,
		sdf.ComposedPayloads(site.LayerStack, site.Path))
}

// evalRefOrPayloadArcs is the shared reference/payload arc expansion.
//
// Description:
//
//	Each authored arc resolves a target layer stack (the node's own
//	stack for internal arcs) and a target prim path (the authored path
//	or the target's defaultPrim). Failures degrade, never abort: a bad
//	offset resets to identity, a missing default target adds an inert
//	placeholder at the target's pseudo-root so the dependency on that
//	layer stack is still recorded.
func (ix *indexer) evalRefOrPayloadArcs(ref NodeRef, arcType ArcType, arcs []sdf.AuthoredArc) {
	site := ix.idx.Site(ref)

	for i, authored := range arcs {
		r := authored.Reference

		if !r.PrimPath.IsEmpty() && !r.PrimPath.IsPrimPath() {
			ix.recordError(&CompositionError{
				Err:        ErrInvalidPrimPath,
				Site:       site,
				ArcType:    arcType,
				TargetPath: r.PrimPath,
				AssetPath:  r.AssetPath,
			})
			continue
		}

		// The arc's time mapping anchors at the authoring layer.
		offset := authored.LayerOffset.Compose(r.Offset)
		if !offset.IsValid() {
			ix.recordError(&CompositionError{
				Err:       ErrInvalidReferenceOffset,
				Site:      site,
				ArcType:   arcType,
				AssetPath: r.AssetPath,
				Detail:    "offset reset to identity",
			})
			offset = sdf.IdentityOffset()
		}

		internal := r.AssetPath == ""
		targetStack := site.LayerStack
		if !internal {
			var err error
			targetStack, err = ix.inputs.resolver.ComputeLayerStack(r.AssetPath)
			if err != nil {
				kind := ErrInvalidAssetPath
				if errors.Is(err, sdf.ErrLayerMuted) {
					kind = ErrMutedAssetPath
				}
				ix.recordError(&CompositionError{
					Err:       kind,
					Site:      site,
					ArcType:   arcType,
					AssetPath: r.AssetPath,
					Detail:    err.Error(),
				})
				continue
			}
		}

		targetPath := r.PrimPath
		if targetPath.IsEmpty() {
			def := targetStack.DefaultPrim()
			if def == "" {
				// Keep the dependency on the target stack alive with a
				// placeholder at its pseudo-root. The diagnostic is
				// deferred to the lowest-priority task so it fires only
				// if nothing resolved the node by the end of the build.
				placeholder := ix.addArc(addArcArgs{
					parent:                          ref,
					arcType:                         arcType,
					site:                            Site{LayerStack: targetStack, Path: sdf.AbsoluteRootPath()},
					mapExpr:                         NewMapExpr(sdf.AbsoluteRootPath(), site.Path, offset),
					siblingNum:                      i,
					origin:                          InvalidNodeRef,
					directNodeShouldContributeSpecs: false,
				})
				if placeholder != InvalidNodeRef {
					ix.q.Push(task{kind: taskUnresolvedPrimPathError, node: placeholder})
				}
				continue
			}
			targetPath = sdf.AbsoluteRootPath().AppendChild(def)
		}

		mapExpr := NewMapExpr(targetPath, site.Path, offset)
		if internal {
			// Opinions at other root prims of this stack stay visible
			// across an internal arc.
			mapExpr = mapExpr.AddRootIdentity()
		}

		ix.addArc(addArcArgs{
			parent:                          ref,
			arcType:                         arcType,
			site:                            Site{LayerStack: targetStack, Path: targetPath},
			mapExpr:                         mapExpr,
			siblingNum:                      i,
			origin:                          InvalidNodeRef,
			includeAncestralOpinions:        targetPath.ElementCount() > 1,
			requirePrimAtTarget:             true,
			directNodeShouldContributeSpecs: true,
		})
	}
}

// evalUnresolvedPrimPathError exists as a distinct lowest-priority task
// so the diagnostic fires only if nothing else resolved the node by the
// end of the build.
func (ix *indexer) evalUnresolvedPrimPathError(ref NodeRef) {
	if ix.idx.HasSpecs(ref) {
		return
	}
	site := ix.idx.Site(ref)
	ix.recordError(&CompositionError{
		Err:       ErrUnresolvedPrimPath,
		Site:      site,
		ArcType:   ix.idx.ArcOf(ref).Type,
		AssetPath: site.LayerStack.Identifier,
		Detail:    "no prim path and no defaultPrim",
	})
}
