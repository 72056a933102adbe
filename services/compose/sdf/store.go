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

// Composed field queries over one layer stack at one path. These are
// the read primitives composition evaluators build on: each walks the
// stack's specs at the path in strength order and resolves list-op
// edits or picks the strongest scalar opinion.

// AuthoredArc pairs a composed reference or payload item with the layer
// that authored it and that layer's cumulative sub-layer offset. Arc
// time mappings anchor at the authoring layer, not the stack root.
type AuthoredArc struct {
	Reference   Reference
	Layer       *Layer
	LayerOffset LayerOffset
}

// specsAt returns (entry, spec) pairs at path, strongest first.
func specsAt(ls *LayerStack, p Path) []struct {
	entry LayerStackEntry
	spec  *PrimSpec
} {
	var out []struct {
		entry LayerStackEntry
		spec  *PrimSpec
	}
	for _, e := range ls.Layers() {
		if s := e.Layer.GetPrimSpec(p); s != nil {
			out = append(out, struct {
				entry LayerStackEntry
				spec  *PrimSpec
			}{e, s})
		}
	}
	return out
}

// composedArcs resolves a reference-valued list-op field and attributes
// each surviving item to its strongest authoring layer.
func composedArcs(ls *LayerStack, p Path, field func(*PrimSpec) ListOp[Reference]) []AuthoredArc {
	specs := specsAt(ls, p)
	ops := make([]ListOp[Reference], 0, len(specs))
	for _, s := range specs {
		ops = append(ops, field(s.spec))
	}
	items := ComposeListOps(ops)
	if len(items) == 0 {
		return nil
	}

	out := make([]AuthoredArc, 0, len(items))
	for _, item := range items {
		arc := AuthoredArc{Reference: item, LayerOffset: IdentityOffset()}
		for _, s := range specs {
			if listOpMentions(field(s.spec), item) {
				arc.Layer = s.entry.Layer
				arc.LayerOffset = s.entry.Offset
				break
			}
		}
		out = append(out, arc)
	}
	return out
}

func listOpMentions(op ListOp[Reference], item Reference) bool {
	for _, it := range op.ExplicitItems {
		if it == item {
			return true
		}
	}
	for _, it := range op.PrependedItems {
		if it == item {
			return true
		}
	}
	for _, it := range op.AppendedItems {
		if it == item {
			return true
		}
	}
	return false
}

// ComposedReferences returns the composed reference arcs at path.
func ComposedReferences(ls *LayerStack, p Path) []AuthoredArc {
	return composedArcs(ls, p, func(s *PrimSpec) ListOp[Reference] { return s.References })
}

// ComposedPayloads returns the composed payload arcs at path.
func ComposedPayloads(ls *LayerStack, p Path) []AuthoredArc {
	return composedArcs(ls, p, func(s *PrimSpec) ListOp[Reference] { return s.Payloads })
}

// ComposedInherits returns the composed inherit target paths at path.
func ComposedInherits(ls *LayerStack, p Path) []Path {
	specs := specsAt(ls, p)
	ops := make([]ListOp[Path], 0, len(specs))
	for _, s := range specs {
		ops = append(ops, s.spec.Inherits)
	}
	return ComposeListOps(ops)
}

// ComposedSpecializes returns the composed specialize target paths.
func ComposedSpecializes(ls *LayerStack, p Path) []Path {
	specs := specsAt(ls, p)
	ops := make([]ListOp[Path], 0, len(specs))
	for _, s := range specs {
		ops = append(ops, s.spec.Specializes)
	}
	return ComposeListOps(ops)
}

// ComposedVariantSetNames returns the composed variant set names.
func ComposedVariantSetNames(ls *LayerStack, p Path) []string {
	specs := specsAt(ls, p)
	ops := make([]ListOp[string], 0, len(specs))
	for _, s := range specs {
		ops = append(ops, s.spec.VariantSetNames)
	}
	return ComposeListOps(ops)
}

// AuthoredVariantSelection returns the strongest authored selection for
// a variant set at path. An authored empty string is a valid selection
// meaning "no variant".
func AuthoredVariantSelection(ls *LayerStack, p Path, set string) (string, bool) {
	for _, s := range specsAt(ls, p) {
		if sel, ok := s.spec.VariantSelection(set); ok {
			return sel, true
		}
	}
	return "", false
}

// ComposedPermission returns the strongest authored permission at path,
// defaulting to public.
func ComposedPermission(ls *LayerStack, p Path) Permission {
	for _, s := range specsAt(ls, p) {
		if s.spec.HasPermission {
			return s.spec.Permission
		}
	}
	return PermissionPublic
}

// ComposedInstanceable returns the strongest authored instanceable
// opinion at path, defaulting to false.
func ComposedInstanceable(ls *LayerStack, p Path) bool {
	for _, s := range specsAt(ls, p) {
		if s.spec.HasInstanceable {
			return s.spec.Instanceable
		}
	}
	return false
}

// HasSymmetry reports whether any spec at path carries symmetry.
func HasSymmetry(ls *LayerStack, p Path) bool {
	for _, s := range specsAt(ls, p) {
		if s.spec.HasSymmetry {
			return true
		}
	}
	return false
}

// ComposedChildNames merges authored child prim names at path,
// strongest layer's order first, weaker names appended.
func ComposedChildNames(ls *LayerStack, p Path) []string {
	var names []string
	seen := make(map[string]bool)
	add := func(childNames []string) {
		for _, n := range childNames {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	if p.IsAbsoluteRootPath() {
		for _, e := range ls.Layers() {
			add(e.Layer.RootChildNames)
		}
		return names
	}
	for _, s := range specsAt(ls, p) {
		add(s.spec.ChildNames)
	}
	return names
}

// ComposedPropertyNames merges authored property names at path,
// strongest layer's order first, weaker names appended.
func ComposedPropertyNames(ls *LayerStack, p Path) []string {
	var names []string
	seen := make(map[string]bool)
	for _, s := range specsAt(ls, p) {
		for _, n := range s.spec.Properties {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	return names
}

// FieldKey names a composable prim field for the generic accessors.
type FieldKey string

const (
	FieldReferences        FieldKey = "references"
	FieldPayloads          FieldKey = "payloads"
	FieldInherits          FieldKey = "inherits"
	FieldSpecializes       FieldKey = "specializes"
	FieldVariantSetNames   FieldKey = "variantSets"
	FieldVariantSelections FieldKey = "variants"
	FieldPermission        FieldKey = "permission"
	FieldInstanceable      FieldKey = "instanceable"
	FieldSymmetry          FieldKey = "symmetry"
	FieldProperties        FieldKey = "properties"
	FieldChildNames        FieldKey = "children"
)

// HasField reports whether any spec at path carries an authored opinion
// for the field.
func HasField(ls *LayerStack, p Path, field FieldKey) bool {
	for _, s := range specsAt(ls, p) {
		switch field {
		case FieldReferences:
			if !s.spec.References.IsEmpty() {
				return true
			}
		case FieldPayloads:
			if !s.spec.Payloads.IsEmpty() {
				return true
			}
		case FieldInherits:
			if !s.spec.Inherits.IsEmpty() {
				return true
			}
		case FieldSpecializes:
			if !s.spec.Specializes.IsEmpty() {
				return true
			}
		case FieldVariantSetNames:
			if !s.spec.VariantSetNames.IsEmpty() {
				return true
			}
		case FieldVariantSelections:
			if len(s.spec.VariantSelections) > 0 {
				return true
			}
		case FieldPermission:
			if s.spec.HasPermission {
				return true
			}
		case FieldInstanceable:
			if s.spec.HasInstanceable {
				return true
			}
		case FieldSymmetry:
			if s.spec.HasSymmetry {
				return true
			}
		case FieldProperties:
			if len(s.spec.Properties) > 0 {
				return true
			}
		case FieldChildNames:
			if len(s.spec.ChildNames) > 0 {
				return true
			}
		}
	}
	return false
}

// GetField returns the composed value of a field at path, or nil when
// nothing is authored. The dynamic type depends on the field: arc
// fields yield []AuthoredArc, class fields []Path, name fields
// []string, scalars their value type.
func GetField(ls *LayerStack, p Path, field FieldKey) any {
	if !HasField(ls, p, field) {
		return nil
	}
	switch field {
	case FieldReferences:
		return ComposedReferences(ls, p)
	case FieldPayloads:
		return ComposedPayloads(ls, p)
	case FieldInherits:
		return ComposedInherits(ls, p)
	case FieldSpecializes:
		return ComposedSpecializes(ls, p)
	case FieldVariantSetNames:
		return ComposedVariantSetNames(ls, p)
	case FieldVariantSelections:
		merged := make(map[string]string)
		specs := specsAt(ls, p)
		for i := len(specs) - 1; i >= 0; i-- {
			for set, sel := range specs[i].spec.VariantSelections {
				merged[set] = sel
			}
		}
		return merged
	case FieldPermission:
		return ComposedPermission(ls, p)
	case FieldInstanceable:
		return ComposedInstanceable(ls, p)
	case FieldSymmetry:
		return HasSymmetry(ls, p)
	case FieldProperties:
		return ComposedPropertyNames(ls, p)
	case FieldChildNames:
		return ComposedChildNames(ls, p)
	}
	return nil
}

// GetLayersOfStack returns the stack's layers strongest first.
func GetLayersOfStack(ls *LayerStack) []*Layer {
	entries := ls.Layers()
	layers := make([]*Layer, len(entries))
	for i, e := range entries {
		layers[i] = e.Layer
	}
	return layers
}
