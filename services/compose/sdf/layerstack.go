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

import (
	"sort"
)

// LayerStack is the flattened, strength-ordered view of a root layer
// and its transitive sub-layers.
//
// Description:
//
//	The stack lists layers strongest-first: the root layer, then each
//	sub-layer subtree depth-first in authored order. Every entry
//	carries the time offset accumulated along its sub-layer chain.
//	Authored relocates from all layers are merged into a single map
//	with the strongest opinion winning per source path.
//
// Thread Safety: Immutable after construction by a Resolver; safe for
// concurrent use. Identity matters: sites compare layer stacks by
// pointer, so a Resolver must hand out one stack per root layer.
type LayerStack struct {
	// Identifier is the root layer's asset path.
	Identifier string

	entries []LayerStackEntry

	// relocatesForward maps relocation source to target.
	relocatesForward map[Path]Path

	// relocates holds the merged relocations, sorted by source for
	// deterministic traversal.
	relocates []Relocate
}

// LayerStackEntry is one flattened layer with its cumulative offset.
type LayerStackEntry struct {
	Layer  *Layer
	Offset LayerOffset
}

// newLayerStack builds a stack from pre-flattened entries. Relocate
// merging walks weakest-to-strongest so stronger layers override.
func newLayerStack(identifier string, entries []LayerStackEntry) *LayerStack {
	ls := &LayerStack{
		Identifier:       identifier,
		entries:          entries,
		relocatesForward: make(map[Path]Path),
	}
	for i := len(entries) - 1; i >= 0; i-- {
		for _, r := range entries[i].Layer.Relocates {
			ls.relocatesForward[r.Source] = r.Target
		}
	}
	for src, tgt := range ls.relocatesForward {
		ls.relocates = append(ls.relocates, Relocate{Source: src, Target: tgt})
	}
	sort.Slice(ls.relocates, func(i, j int) bool {
		return ls.relocates[i].Source.Less(ls.relocates[j].Source)
	})
	return ls
}

// Layers returns the flattened layers in strength order.
func (ls *LayerStack) Layers() []LayerStackEntry {
	return ls.entries
}

// LayerCount returns the number of layers in the stack.
func (ls *LayerStack) LayerCount() int {
	return len(ls.entries)
}

// RootLayer returns the stack's root layer.
func (ls *LayerStack) RootLayer() *Layer {
	if len(ls.entries) == 0 {
		return nil
	}
	return ls.entries[0].Layer
}

// HasSpec reports whether any layer in the stack has a spec at path.
func (ls *LayerStack) HasSpec(p Path) bool {
	for _, e := range ls.entries {
		if e.Layer.HasSpec(p) {
			return true
		}
	}
	return false
}

// DefaultPrim returns the strongest authored defaultPrim in the stack.
func (ls *LayerStack) DefaultPrim() string {
	for _, e := range ls.entries {
		if e.Layer.DefaultPrim != "" {
			return e.Layer.DefaultPrim
		}
	}
	return ""
}

// Relocates returns the merged relocations sorted by source path.
func (ls *LayerStack) Relocates() []Relocate {
	return ls.relocates
}

// RelocateTargetFor returns the relocation whose target is exactly
// path, if any. This is the lookup used when composition reaches a
// relocated location and must pull opinions from the original source.
func (ls *LayerStack) RelocateTargetFor(p Path) (Relocate, bool) {
	for _, r := range ls.relocates {
		if r.Target.Equal(p) {
			return r, true
		}
	}
	return Relocate{}, false
}

// IsRelocateSource reports whether path is the source of any relocation
// in the stack. Sources are tombstones: no opinions may be composed at
// or below them.
func (ls *LayerStack) IsRelocateSource(p Path) bool {
	_, ok := ls.relocatesForward[p]
	return ok
}

// ApplyRelocates maps a path through every relocation whose source
// prefixes it, innermost first, returning the post-relocation path.
func (ls *LayerStack) ApplyRelocates(p Path) Path {
	// Longest matching source wins; relocates are already sorted so a
	// backward scan visits longer sources after shorter ones.
	best := Relocate{}
	found := false
	for _, r := range ls.relocates {
		if p.HasPrefix(r.Source) {
			if !found || r.Source.ElementCount() > best.Source.ElementCount() {
				best = r
				found = true
			}
		}
	}
	if !found {
		return p
	}
	return p.ReplacePrefix(best.Source, best.Target)
}
