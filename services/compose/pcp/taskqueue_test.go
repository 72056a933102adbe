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
)

func drainKinds(q *taskQueue) []taskType {
	var out []taskType
	for {
		t, ok := q.Pop()
		if !ok {
			return out
		}
		out = append(out, t.kind)
	}
}

func TestTaskQueuePriorityOrder(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	q := newTaskQueue(idx)

	pushed := []taskType{
		taskVariantSets,
		taskNodePayloads,
		taskUnresolvedPrimPathError,
		taskNodeRelocations,
		taskNodeInherits,
		taskNodeReferences,
	}
	for _, kind := range pushed {
		q.Push(task{kind: kind, node: idx.Root()})
	}

	want := []taskType{
		taskNodeRelocations,
		taskNodeReferences,
		taskNodePayloads,
		taskNodeInherits,
		taskVariantSets,
		taskUnresolvedPrimPathError,
	}
	if got := drainKinds(q); !reflect.DeepEqual(got, want) {
		t.Errorf("pop order = %v, want %v", got, want)
	}
}

func TestTaskQueueDedup(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	q := newTaskQueue(idx)

	q.Push(task{kind: taskNodeReferences, node: idx.Root()})
	q.Push(task{kind: taskNodeReferences, node: idx.Root()})
	if q.Len() != 1 {
		t.Fatalf("Len = %d, want 1", q.Len())
	}

	// Popping clears the dedup key; the same work may be queued again.
	if _, ok := q.Pop(); !ok {
		t.Fatal("Pop failed")
	}
	q.Push(task{kind: taskNodeReferences, node: idx.Root()})
	if q.Len() != 1 {
		t.Errorf("Len after requeue = %d, want 1", q.Len())
	}
}

func TestTaskQueueVariantSetOrder(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	q := newTaskQueue(idx)

	q.Push(task{kind: taskVariantAuthored, node: idx.Root(), vset: "rig", vsetNum: 1})
	q.Push(task{kind: taskVariantAuthored, node: idx.Root(), vset: "lod", vsetNum: 0})

	first, _ := q.Pop()
	second, _ := q.Pop()
	if first.vset != "lod" || second.vset != "rig" {
		t.Errorf("pop order = %s, %s; want lod, rig", first.vset, second.vset)
	}
}

func TestTaskQueueVariantStrengthOrder(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	q := newTaskQueue(idx)
	child, err := idx.InsertChild(idx.Root(), testSite("/C"),
		Arc{Type: ArcTypeReference, MapToParent: IdentityMapExpr()}, InvalidNodeRef)
	if err != nil {
		t.Fatal(err)
	}

	// Queued weaker node first; the stronger node still pops first.
	q.Push(task{kind: taskVariantAuthored, node: child, vset: "lod"})
	q.Push(task{kind: taskVariantAuthored, node: idx.Root(), vset: "lod"})

	first, _ := q.Pop()
	if first.node != idx.Root() {
		t.Errorf("first popped node = %v, want root", first.node)
	}
}

func TestRetryVariantTasks(t *testing.T) {
	idx := NewPrimIndex(testSite("/Root"))
	q := newTaskQueue(idx)

	q.Push(task{kind: taskVariantFallback, node: idx.Root(), vset: "lod"})
	q.Push(task{kind: taskAncestralVariantNoneFound, node: idx.Root(), vset: "rig"})
	q.RetryVariantTasks()

	// Promoted tasks dedup against fresh authored pushes.
	q.Push(task{kind: taskVariantAuthored, node: idx.Root(), vset: "lod"})
	if q.Len() != 2 {
		t.Fatalf("Len = %d, want 2", q.Len())
	}

	// Ancestral variant work still outranks local variant work.
	first, _ := q.Pop()
	second, _ := q.Pop()
	if first.kind != taskAncestralVariantAuthored || first.vset != "rig" {
		t.Errorf("first = %v %s, want ancestral authored rig", first.kind, first.vset)
	}
	if second.kind != taskVariantAuthored || second.vset != "lod" {
		t.Errorf("second = %v %s, want authored lod", second.kind, second.vset)
	}
}
