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
	"log/slog"

	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

// DefaultMaxBuildDepth bounds nested sub-index recursion (ancestral
// opinions, sub-root arcs). Scenes deeper than this are invariably
// cyclic authoring mistakes.
const DefaultMaxBuildDepth = 64

// buildInputs carries the per-build configuration shared by an index
// build and every nested sub-build it spawns.
type buildInputs struct {
	resolver         *sdf.Resolver
	cull             bool
	variantFallbacks map[string][]string
	includePayload   func(sdf.Path) bool
	maxNodes         int
	maxDepth         int
	log              *slog.Logger
	exprs            *exprCache

	// ancestor fetches (or builds) the index of an ancestor prim.
	// The engine routes this through its cache so parent indexes are
	// shared across children. Nil falls back to a direct build.
	ancestor func(Site, int) *PrimIndex
}

// stackFrame links a nested sub-index build to the build that spawned
// it. Frames let cycle detection and duplicate-site checks see across
// the whole chain of in-progress graphs, translating paths into each
// outer namespace as they go.
type stackFrame struct {
	previous *stackFrame

	// requestedSite is what the nested build is computing.
	requestedSite Site

	// arcToParent translates the nested build's namespace into the
	// spawning graph's namespace.
	arcToParent *MapExpr

	// parentIndexer is the spawning build.
	parentIndexer *indexer

	// parentNode is where the nested result will be grafted.
	parentNode NodeRef

	// skipDuplicateNodes propagates the duplicate-site policy into
	// the nested build.
	skipDuplicateNodes bool
}

// indexer drives one prim-index build: it owns the graph under
// construction and the task queue, and dispatches queued work to the
// per-arc evaluators.
type indexer struct {
	inputs *buildInputs
	idx    *PrimIndex
	q      *taskQueue

	rootSite Site

	previousFrame          *stackFrame
	ancestorRecursionDepth int

	evaluateImpliedSpecializes bool
	evaluateVariants           bool

	// capacityReported limits ErrCapacityExceeded to one report per
	// build so a runaway scene does not flood the error list.
	capacityReported bool
}

func newIndexer(inputs *buildInputs, root Site, frame *stackFrame, depth int) *indexer {
	idx := NewPrimIndex(root)
	if inputs.maxNodes > 0 {
		idx.maxNodes = inputs.maxNodes
	}
	ix := &indexer{
		inputs:                     inputs,
		idx:                        idx,
		q:                          nil,
		rootSite:                   root,
		previousFrame:              frame,
		ancestorRecursionDepth:     depth,
		evaluateImpliedSpecializes: true,
		evaluateVariants:           true,
	}
	ix.q = newTaskQueue(idx)
	return ix
}

// recordError attaches a non-fatal composition error to the index and
// logs it. Capacity errors report at most once per build.
func (ix *indexer) recordError(err *CompositionError) {
	if err.Err == ErrCapacityExceeded {
		if ix.capacityReported {
			return
		}
		ix.capacityReported = true
	}
	ix.idx.AddError(err)
	ix.inputs.log.Debug("composition error", "err", err.Error())
}

// intern runs a freshly composed map expression through the shared
// expression cache.
func (ix *indexer) intern(m *MapExpr) *MapExpr {
	if ix.inputs.exprs == nil {
		return m
	}
	return ix.inputs.exprs.Intern(m)
}

// buildPrimIndex computes the index for a root site.
//
// Description:
//
//	For root prims the graph starts from a lone root node. For deeper
//	paths the parent prim's index is built first and lifted into the
//	child's namespace, so ancestral arcs arrive already composed.
//	Then the task queue drains: each popped task runs its evaluator,
//	which may add nodes and push further tasks. Finally the graph is
//	culled, checked against relocation tombstones, finalized, and
//	rescanned for the flattened prim stack.
func buildPrimIndex(inputs *buildInputs, site Site, frame *stackFrame, depth int) *PrimIndex {
	ix := newIndexer(inputs, site, frame, depth)
	ix.build(true)
	return ix.idx
}

// buildSubIndex is the nested entry used for ancestral-opinion
// recursion. Implied specializes and variants are left to the outer
// build, which sees the grafted subtree in its final location.
func buildSubIndex(inputs *buildInputs, site Site, frame *stackFrame, depth int) *PrimIndex {
	ix := newIndexer(inputs, site, frame, depth)
	ix.evaluateImpliedSpecializes = false
	ix.evaluateVariants = false
	ix.build(false)
	return ix.idx
}

func (ix *indexer) build(finalize bool) {
	if ix.ancestorRecursionDepth > ix.inputs.maxDepth {
		ix.recordError(&CompositionError{
			Err:    ErrCapacityExceeded,
			Site:   ix.rootSite,
			Detail: "sub-index recursion depth limit",
		})
		return
	}

	ix.seedGraph()
	ix.runTasks()

	if finalize {
		ix.finishIndex()
	}
}

// seedGraph prepares the starting graph and queues the initial tasks.
func (ix *indexer) seedGraph() {
	path := ix.rootSite.Path
	if path.IsRootPrimPath() || path.IsAbsoluteRootPath() ||
		path.IsPrimVariantSelectionPath() {
		ix.refreshNodeState(ix.idx.Root())
		ix.addTasksForNode(ix.idx.Root(), false)
		return
	}

	// Build from the parent prim's index lifted into this namespace.
	// Nested builds keep their frame chain so cycle and duplicate
	// checks see across the whole recursion; only unframed builds may
	// serve the parent from the shared cache.
	parentSite := Site{LayerStack: ix.rootSite.LayerStack, Path: path.ParentPath()}
	var parentIndex *PrimIndex
	if ix.inputs.ancestor != nil && ix.previousFrame == nil {
		parentIndex = ix.inputs.ancestor(parentSite, ix.ancestorRecursionDepth+1)
	} else {
		parentIndex = buildPrimIndex(ix.inputs, parentSite, ix.previousFrame, ix.ancestorRecursionDepth+1)
	}

	lifted := parentIndex.AppendChildNameToAllSites(path.Name())
	if ix.inputs.maxNodes > 0 {
		lifted.maxNodes = ix.inputs.maxNodes
	}
	ix.idx = lifted
	ix.q = newTaskQueue(lifted)
	for _, ref := range lifted.NodeRange() {
		ix.refreshNodeState(ref)
		ix.addTasksForNode(ref, true)
	}
}

// refreshNodeState recomputes the authored-state booleans for a node,
// used when a node is created or its site path changes.
func (ix *indexer) refreshNodeState(ref NodeRef) {
	site := ix.idx.Site(ref)
	if site.LayerStack == nil {
		return
	}
	n := ix.idx.node(ref)
	n.hasSpecs = site.LayerStack.HasSpec(site.Path)
	n.hasSymmetry = sdf.HasSymmetry(site.LayerStack, site.Path)
	n.permission = sdf.ComposedPermission(site.LayerStack, site.Path)
}

// addTasksForNode queues the evaluation work a node's authored state
// calls for.
func (ix *indexer) addTasksForNode(ref NodeRef, dueToAncestor bool) {
	site := ix.idx.Site(ref)
	if site.LayerStack == nil {
		return
	}

	// Relocations apply even at spec-less nodes: the target path may
	// only exist because of the relocation.
	if len(site.LayerStack.Relocates()) > 0 {
		ix.q.Push(task{kind: taskNodeRelocations, node: ref})
	}
	if ix.idx.ArcOf(ref).Type == ArcTypeRelocate && !dueToAncestor {
		ix.q.Push(task{kind: taskImpliedRelocations, node: ref})
	}

	if !ix.idx.CanContributeSpecs(ref) || !ix.idx.HasSpecs(ref) {
		return
	}

	if len(sdf.ComposedReferences(site.LayerStack, site.Path)) > 0 {
		ix.q.Push(task{kind: taskNodeReferences, node: ref})
	}
	if len(sdf.ComposedPayloads(site.LayerStack, site.Path)) > 0 {
		ix.idx.SetHasPayloads(true)
		ix.q.Push(task{kind: taskNodePayloads, node: ref})
	}
	if len(sdf.ComposedInherits(site.LayerStack, site.Path)) > 0 {
		ix.q.Push(task{kind: taskNodeInherits, node: ref})
	}
	if len(sdf.ComposedSpecializes(site.LayerStack, site.Path)) > 0 {
		ix.q.Push(task{kind: taskNodeSpecializes, node: ref})
	}
	if ix.evaluateVariants && len(sdf.ComposedVariantSetNames(site.LayerStack, site.Path)) > 0 {
		if dueToAncestor {
			ix.q.Push(task{kind: taskAncestralVariantSets, node: ref})
		} else {
			ix.q.Push(task{kind: taskVariantSets, node: ref})
		}
	}
}

// runTasks drains the queue, dispatching each task to its evaluator.
func (ix *indexer) runTasks() {
	for {
		t, ok := ix.q.Pop()
		if !ok {
			return
		}
		switch t.kind {
		case taskNodeRelocations:
			ix.evalNodeRelocations(t.node)
		case taskImpliedRelocations:
			ix.evalImpliedRelocations(t.node)
		case taskNodeReferences:
			ix.evalNodeReferences(t.node)
		case taskNodePayloads:
			ix.evalNodePayloads(t.node)
		case taskNodeInherits:
			ix.evalNodeInherits(t.node)
		case taskNodeSpecializes:
			ix.evalNodeSpecializes(t.node)
		case taskImpliedSpecializes:
			ix.evalImpliedSpecializes(t.node)
		case taskImpliedClasses:
			ix.evalImpliedClasses(t.node)
		case taskAncestralVariantSets, taskVariantSets:
			ix.evalVariantSets(t)
		case taskAncestralVariantAuthored, taskVariantAuthored:
			ix.evalVariantAuthored(t)
		case taskAncestralVariantFallback, taskVariantFallback:
			ix.evalVariantFallback(t)
		case taskAncestralVariantNoneFound, taskVariantNoneFound:
			ix.evalVariantNoneFound(t)
		case taskUnresolvedPrimPathError:
			ix.evalUnresolvedPrimPathError(t.node)
		}
	}
}

// finishIndex runs the post-queue phases: culling, prohibited-child
// enforcement, permission enforcement, metadata, finalize, rescan.
func (ix *indexer) finishIndex() {
	ix.enforcePermissions()
	if ix.inputs.cull {
		ix.cullSubtrees()
	}
	ix.elideIfProhibited()
	ix.composeInstanceable()
	ix.idx.Finalize()
	ix.idx.RescanForSpecs()
}
