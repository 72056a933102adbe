// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sdf

// ListOp is a list-editing operation over ordered items of type T.
//
// Description:
//
//	A ListOp either replaces the composed value outright (Explicit) or
//	edits the weaker composed value: deleted items are removed, prepended
//	items are placed before the weaker items, appended items after.
//	Composition applies ListOps strongest-to-weakest; the strongest
//	explicit opinion wins and stops composition.
//
// Thread Safety: Value type; safe to share for reading.
type ListOp[T comparable] struct {
	// IsExplicit indicates the ExplicitItems replace all weaker opinions.
	IsExplicit bool

	// ExplicitItems is the full item list when IsExplicit is set.
	ExplicitItems []T

	// PrependedItems are edited in before weaker items.
	PrependedItems []T

	// AppendedItems are edited in after weaker items.
	AppendedItems []T

	// DeletedItems are removed from weaker items.
	DeletedItems []T
}

// IsEmpty reports whether the op carries no opinion at all.
func (op ListOp[T]) IsEmpty() bool {
	return !op.IsExplicit &&
		len(op.ExplicitItems) == 0 &&
		len(op.PrependedItems) == 0 &&
		len(op.AppendedItems) == 0 &&
		len(op.DeletedItems) == 0
}

// ApplyOperations applies this op over the weaker composed value and
// returns the result.
func (op ListOp[T]) ApplyOperations(weaker []T) []T {
	if op.IsExplicit {
		return append([]T(nil), op.ExplicitItems...)
	}

	deleted := make(map[T]bool, len(op.DeletedItems))
	for _, d := range op.DeletedItems {
		deleted[d] = true
	}

	result := make([]T, 0, len(op.PrependedItems)+len(weaker)+len(op.AppendedItems))
	seen := make(map[T]bool)
	add := func(items []T) {
		for _, it := range items {
			if !deleted[it] && !seen[it] {
				seen[it] = true
				result = append(result, it)
			}
		}
	}
	add(op.PrependedItems)
	add(weaker)
	add(op.AppendedItems)
	return result
}

// ComposeListOps composes ops given strongest first, returning the final
// ordered item list.
func ComposeListOps[T comparable](ops []ListOp[T]) []T {
	// Apply weakest-to-strongest so stronger edits see the weaker result.
	var result []T
	for i := len(ops) - 1; i >= 0; i-- {
		result = ops[i].ApplyOperations(result)
	}
	return result
}
