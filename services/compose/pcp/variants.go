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

// evalVariantSets expands a node's authored variant sets into one
// selection task per set, preserving authored set order so earlier
// sets select before later ones can depend on them.
func (ix *indexer) evalVariantSets(t task) {
	site := ix.idx.Site(t.node)
	authored := t.kind == taskVariantSets

	for i, set := range sdf.ComposedVariantSetNames(site.LayerStack, site.Path) {
		kind := taskVariantAuthored
		if !authored {
			kind = taskAncestralVariantAuthored
		}
		ix.q.Push(task{kind: kind, node: t.node, vset: set, vsetNum: i})
	}
}

// evalVariantAuthored resolves one variant set from authored
// selections and expands the chosen variant.
//
// Description:
//
//	Selection resolution runs in strength order over the whole graph:
//	a selection authored in the session or root layer beats one in a
//	referenced asset, and a stronger reference beats a weaker one. A
//	variant arc already chosen for the same set anywhere in the graph
//	wins outright, which keeps one prim's ancestral and local
//	evaluations of a set consistent. When no authored selection
//	exists the task demotes to a fallback task instead of failing.
//
// Inputs:
//   - t: the variant task carrying the node, set name and set ordinal.
//
// Thread Safety:
//   - Not safe. Runs on the single-threaded build loop.
func (ix *indexer) evalVariantAuthored(t task) {
	if !ix.idx.CanContributeSpecs(t.node) {
		ix.pushVariantFollowup(t, taskVariantFallback, taskAncestralVariantFallback)
		return
	}

	sel, ok := ix.chosenVariantSelection(t.vset)
	if !ok {
		sel, ok = ix.authoredVariantSelection(t.vset)
	}
	if !ok || sel == "" {
		ix.pushVariantFollowup(t, taskVariantFallback, taskAncestralVariantFallback)
		return
	}

	ix.addVariantArc(t, sel)
}

// evalVariantFallback consults the configured fallback table for a
// set with no authored selection.
func (ix *indexer) evalVariantFallback(t task) {
	for _, sel := range ix.inputs.variantFallbacks[t.vset] {
		if sel == "" {
			continue
		}
		site := ix.idx.Site(t.node)
		if site.LayerStack.HasSpec(site.Path.AppendVariantSelection(t.vset, sel)) {
			ix.addVariantArc(t, sel)
			return
		}
	}
	ix.pushVariantFollowup(t, taskVariantNoneFound, taskAncestralVariantNoneFound)
}

// evalVariantNoneFound is the terminal state for an unselected set.
// No arc is added; the set simply contributes nothing. The task stays
// distinct from fallback so RetryVariantTasks can re-arm it when a
// later arc introduces new selections.
func (ix *indexer) evalVariantNoneFound(t task) {
	ix.inputs.log.Debug("no variant selection found",
		"site", ix.idx.Site(t.node).String(),
		"variant_set", t.vset)
}

// pushVariantFollowup re-queues the task at a weaker variant stage,
// keeping the ancestral/local distinction.
func (ix *indexer) pushVariantFollowup(t task, local, ancestral taskType) {
	kind := local
	if t.kind == taskAncestralVariantSets || t.kind == taskAncestralVariantAuthored ||
		t.kind == taskAncestralVariantFallback {
		kind = ancestral
	}
	ix.q.Push(task{kind: kind, node: t.node, vset: t.vset, vsetNum: t.vsetNum})
}

// chosenVariantSelection returns the selection of an existing variant
// arc for the named set, if one was already expanded anywhere in the
// graph. Pre-order traversal makes the strongest such arc win.
func (ix *indexer) chosenVariantSelection(set string) (string, bool) {
	for _, ref := range ix.idx.NodeRangeOfType(ArcTypeVariant) {
		if vset, vsel, ok := ix.idx.Site(ref).Path.VariantSelection(); ok && vset == set {
			return vsel, true
		}
	}
	return "", false
}

// authoredVariantSelection scans contributing nodes in strength order
// for an authored selection of the named set.
func (ix *indexer) authoredVariantSelection(set string) (string, bool) {
	for _, ref := range ix.idx.NodeRange() {
		if !ix.idx.CanContributeSpecs(ref) || !ix.idx.HasSpecs(ref) {
			continue
		}
		site := ix.idx.Site(ref)
		if sel, ok := sdf.AuthoredVariantSelection(site.LayerStack, site.Path, set); ok {
			return sel, ok
		}
	}
	return "", false
}

// addVariantArc expands a selected variant under its owning node. The
// arc stays inside the node's own layer stack; only the site path
// gains the selection.
func (ix *indexer) addVariantArc(t task, sel string) {
	site := ix.idx.Site(t.node)
	variantPath := site.Path.AppendVariantSelection(t.vset, sel)

	// A selection without a matching variant spec contributes nothing.
	if !site.LayerStack.HasSpec(variantPath) {
		ix.pushVariantFollowup(t, taskVariantNoneFound, taskAncestralVariantNoneFound)
		return
	}

	ref := ix.addArc(addArcArgs{
		parent:     t.node,
		arcType:    ArcTypeVariant,
		site:       Site{LayerStack: site.LayerStack, Path: variantPath},
		mapExpr:    NewMapExpr(variantPath, site.Path, sdf.IdentityOffset()),
		siblingNum: t.vsetNum,

		origin: InvalidNodeRef,

		directNodeShouldContributeSpecs: true,
	})
	if ref == InvalidNodeRef {
		return
	}

	// The new subtree may author selections that deferred tasks were
	// missing.
	ix.q.RetryVariantTasks()
}
