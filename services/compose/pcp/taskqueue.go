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
	"container/heap"
)

// taskType sequences composition work. Declaration order is priority
// order: the queue always drains every task of a smaller type before
// popping a larger one, so stronger-typed structure (relocations,
// references) exists before weaker-typed work (variants) reads the
// graph.
type taskType int

const (
	taskNodeRelocations taskType = iota
	taskImpliedRelocations
	taskNodeReferences
	taskNodePayloads
	taskNodeInherits
	taskNodeSpecializes
	taskImpliedSpecializes
	taskImpliedClasses
	taskAncestralVariantSets
	taskAncestralVariantAuthored
	taskAncestralVariantFallback
	taskAncestralVariantNoneFound
	taskVariantSets
	taskVariantAuthored
	taskVariantFallback
	taskVariantNoneFound
	taskUnresolvedPrimPathError

	numTaskTypes
)

func (t taskType) String() string {
	names := [...]string{
		"NodeRelocations",
		"ImpliedRelocations",
		"NodeReferences",
		"NodePayloads",
		"NodeInherits",
		"NodeSpecializes",
		"ImpliedSpecializes",
		"ImpliedClasses",
		"AncestralVariantSets",
		"AncestralVariantAuthored",
		"AncestralVariantFallback",
		"AncestralVariantNoneFound",
		"VariantSets",
		"VariantAuthored",
		"VariantFallback",
		"VariantNoneFound",
		"UnresolvedPrimPathError",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "UnknownTask"
}

// isVariantSelectionTask reports whether relative order among
// same-typed tasks must follow graph strength, because the task reads
// non-local state (selections authored anywhere in the graph).
func (t taskType) isVariantSelectionTask() bool {
	switch t {
	case taskAncestralVariantAuthored, taskAncestralVariantFallback,
		taskAncestralVariantNoneFound,
		taskVariantAuthored, taskVariantFallback, taskVariantNoneFound:
		return true
	}
	return false
}

// task is one unit of queued evaluation work.
type task struct {
	kind taskType
	node NodeRef

	// vset names the variant set for variant tasks.
	vset string

	// vsetNum is the set's position among the node's variant sets,
	// kept so retried tasks preserve authored set order.
	vsetNum int

	// seq is the FIFO tie-break for types without a strength key.
	seq int
}

// dedupKey identifies a task regardless of when it was queued.
type dedupKey struct {
	kind    taskType
	node    NodeRef
	vset    string
	vsetNum int
}

// taskQueue is the priority queue driving index construction.
//
// Description:
//
//	A binary heap keyed by (task type, then strength or FIFO). Implied
//	tasks are deduplicated: propagating class structure frequently
//	re-discovers the same pending work. RetryVariantTasks re-arms
//	fallback and none-found variant tasks as authored-selection tasks
//	when a newly expanded variant may have introduced selections.
//
// Thread Safety: Confined to the building goroutine.
type taskQueue struct {
	idx    *PrimIndex
	tasks  taskHeap
	queued map[dedupKey]bool
	seq    int
}

func newTaskQueue(idx *PrimIndex) *taskQueue {
	q := &taskQueue{idx: idx, queued: make(map[dedupKey]bool)}
	q.tasks.q = q
	return q
}

// Push enqueues a task, dropping exact duplicates.
func (q *taskQueue) Push(t task) {
	key := dedupKey{kind: t.kind, node: t.node, vset: t.vset, vsetNum: t.vsetNum}
	if q.queued[key] {
		return
	}
	q.queued[key] = true
	q.seq++
	t.seq = q.seq
	heap.Push(&q.tasks, t)
}

// Pop dequeues the highest-priority task.
func (q *taskQueue) Pop() (task, bool) {
	if len(q.tasks.items) == 0 {
		return task{}, false
	}
	t := heap.Pop(&q.tasks).(task)
	delete(q.queued, dedupKey{kind: t.kind, node: t.node, vset: t.vset, vsetNum: t.vsetNum})
	return t, true
}

// Len returns the number of queued tasks.
func (q *taskQueue) Len() int {
	return len(q.tasks.items)
}

// RetryVariantTasks promotes queued fallback and none-found variant
// tasks back to authored-selection tasks. Called after a variant arc
// expands, since the new subtree may author selections that earlier
// passes could not see.
func (q *taskQueue) RetryVariantTasks() {
	changed := false
	for i := range q.tasks.items {
		t := &q.tasks.items[i]
		var promoted taskType
		switch t.kind {
		case taskVariantFallback, taskVariantNoneFound:
			promoted = taskVariantAuthored
		case taskAncestralVariantFallback, taskAncestralVariantNoneFound:
			promoted = taskAncestralVariantAuthored
		default:
			continue
		}
		delete(q.queued, dedupKey{kind: t.kind, node: t.node, vset: t.vset, vsetNum: t.vsetNum})
		t.kind = promoted
		q.queued[dedupKey{kind: t.kind, node: t.node, vset: t.vset, vsetNum: t.vsetNum}] = true
		changed = true
	}
	if changed {
		heap.Init(&q.tasks)
	}
}

// strengthKey is the node's position vector in the sibling tree; the
// lexicographic order of keys is the graph strength order right now.
func (q *taskQueue) strengthKey(ref NodeRef) []int {
	var rev []int
	for ref != q.idx.Root() {
		parent := q.idx.Parent(ref)
		for i, c := range q.idx.Children(parent) {
			if c == ref {
				rev = append(rev, i)
				break
			}
		}
		ref = parent
	}
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	return rev
}

func intsLess(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// taskHeap implements heap.Interface; smallest key pops first.
type taskHeap struct {
	q     *taskQueue
	items []task
}

func (h *taskHeap) Len() int { return len(h.items) }

func (h *taskHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.kind != b.kind {
		return a.kind < b.kind
	}
	if a.kind.isVariantSelectionTask() && a.node != b.node {
		return intsLess(h.q.strengthKey(a.node), h.q.strengthKey(b.node))
	}
	if a.node == b.node && a.vsetNum != b.vsetNum {
		return a.vsetNum < b.vsetNum
	}
	return a.seq < b.seq
}

func (h *taskHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *taskHeap) Push(x any) { h.items = append(h.items, x.(task)) }

func (h *taskHeap) Pop() any {
	old := h.items
	n := len(old)
	t := old[n-1]
	h.items = old[:n-1]
	return t
}
