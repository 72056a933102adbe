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

// ComputeChildNames returns the composed child prim names of the
// indexed prim, strongest contribution first, together with the names
// prohibited at this prim because a relocation moved them elsewhere.
//
// # Description
//
//	Walks the contributing nodes in strength order and merges the child
//	names authored at each node's site. Relocations visible from a node
//	add the relocated name under its new parent and prohibit it under
//	the old one; prohibited names never appear in the composed list.
//
// # Outputs
//
//   - names: deduplicated child names in composition strength order.
//   - prohibited: relocation-source names under this prim, sorted by
//     first appearance.
func (idx *PrimIndex) ComputeChildNames() (names, prohibited []string) {
	seen := make(map[string]bool)
	banned := make(map[string]bool)

	for _, ref := range idx.NodeRange() {
		if !idx.CanContributeSpecs(ref) {
			continue
		}
		site := idx.Site(ref)
		if site.LayerStack == nil {
			continue
		}
		for _, r := range site.LayerStack.Relocates() {
			if r.Source.ParentPath().Equal(site.Path) && !banned[r.Source.Name()] {
				banned[r.Source.Name()] = true
				prohibited = append(prohibited, r.Source.Name())
			}
			if r.Target.ParentPath().Equal(site.Path) && !seen[r.Target.Name()] {
				seen[r.Target.Name()] = true
				names = append(names, r.Target.Name())
			}
		}
		for _, n := range sdf.ComposedChildNames(site.LayerStack, site.Path) {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	if len(banned) == 0 {
		return names, prohibited
	}
	kept := names[:0]
	for _, n := range names {
		if !banned[n] {
			kept = append(kept, n)
		}
	}
	return kept, prohibited
}

// ComputePropertyNames merges the property names authored at every
// contributing site, strongest first.
func (idx *PrimIndex) ComputePropertyNames() []string {
	var names []string
	seen := make(map[string]bool)
	for _, ref := range idx.NodeRange() {
		if !idx.CanContributeSpecs(ref) {
			continue
		}
		site := idx.Site(ref)
		if site.LayerStack == nil {
			continue
		}
		for _, n := range sdf.ComposedPropertyNames(site.LayerStack, site.Path) {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}
