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
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Layer is a single parsed scene-description document.
//
// Description:
//
//	A layer holds a tree of prim specs plus layer-level metadata
//	(defaultPrim, sub-layer list, relocates). Specs are addressed by
//	path; variant specs live at paths carrying variant-selection
//	elements, e.g. /Model{shading=glossy}/Looks.
//
// Thread Safety: a Layer is immutable after Load and safe for
// concurrent readers.
type Layer struct {
	// Identifier is the asset path the layer was opened from.
	Identifier string

	// DefaultPrim is the layer-level default target for arcs with an
	// empty prim path.
	DefaultPrim string

	// SubLayers lists weaker layers, strongest first.
	SubLayers []SubLayer

	// Relocates are the layer's authored namespace relocations.
	Relocates []Relocate

	// RootChildNames lists root prim names in document order.
	RootChildNames []string

	specs map[string]*PrimSpec
}

// SubLayer is one entry in a layer's sub-layer list.
type SubLayer struct {
	AssetPath string
	Offset    LayerOffset
}

// GetPrimSpec returns the spec at path, or nil when the layer has no
// opinion there.
func (l *Layer) GetPrimSpec(p Path) *PrimSpec {
	if l == nil {
		return nil
	}
	return l.specs[p.String()]
}

// HasSpec reports whether the layer carries a spec at path.
func (l *Layer) HasSpec(p Path) bool {
	return l.GetPrimSpec(p) != nil
}

// SpecPaths returns every spec path in the layer, sorted.
func (l *Layer) SpecPaths() []Path {
	paths := make([]Path, 0, len(l.specs))
	for _, s := range l.specs {
		paths = append(paths, s.Path)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i].Less(paths[j]) })
	return paths
}

// --- YAML document schema ---

type layerDoc struct {
	DefaultPrim string                 `yaml:"defaultPrim"`
	SubLayers   []subLayerDoc          `yaml:"subLayers"`
	Relocates   map[string]string      `yaml:"relocates"`
	Prims       yaml.Node              `yaml:"prims"`
	Extra       map[string]interface{} `yaml:",inline"`
}

type subLayerDoc struct {
	Asset  string   `yaml:"asset"`
	Offset *float64 `yaml:"offset"`
	Scale  *float64 `yaml:"scale"`
}

type primDoc struct {
	References      *listOpDoc[referenceDoc] `yaml:"references"`
	Payloads        *listOpDoc[referenceDoc] `yaml:"payloads"`
	Inherits        *listOpDoc[string]       `yaml:"inherits"`
	Specializes     *listOpDoc[string]       `yaml:"specializes"`
	VariantSets     *listOpDoc[string]       `yaml:"variantSets"`
	Variants        map[string]string        `yaml:"variants"`
	VariantSetSpecs map[string]yaml.Node     `yaml:"variantSetSpecs"`
	Permission      *string                  `yaml:"permission"`
	Instanceable    *bool                    `yaml:"instanceable"`
	Symmetry        *bool                    `yaml:"symmetry"`
	Properties      []string                 `yaml:"properties"`
	Children        yaml.Node                `yaml:"children"`
}

type referenceDoc struct {
	Asset    string   `yaml:"asset"`
	PrimPath string   `yaml:"primPath"`
	Offset   *float64 `yaml:"offset"`
	Scale    *float64 `yaml:"scale"`
}

// listOpDoc accepts either a bare sequence (explicit items) or a
// mapping with explicit/prepend/append/delete keys.
type listOpDoc[T any] struct {
	isExplicit bool
	explicit   []T
	prepend    []T
	append     []T
	delete     []T
}

func (d *listOpDoc[T]) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		d.isExplicit = true
		return node.Decode(&d.explicit)
	case yaml.MappingNode:
		var m struct {
			Explicit []T `yaml:"explicit"`
			Prepend  []T `yaml:"prepend"`
			Append   []T `yaml:"append"`
			Delete   []T `yaml:"delete"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		d.isExplicit = m.Explicit != nil
		d.explicit = m.Explicit
		d.prepend = m.Prepend
		d.append = m.Append
		d.delete = m.Delete
		return nil
	default:
		return fmt.Errorf("list op must be a sequence or mapping, got %v", node.Kind)
	}
}

// LoadLayerFile opens and parses a layer document from disk.
func LoadLayerFile(path string) (*Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLayerNotFound, path, err)
	}
	defer f.Close()
	return LoadLayer(path, f)
}

// LoadLayer parses a layer document from r, recording identifier as
// the layer's asset path.
func LoadLayer(identifier string, r io.Reader) (*Layer, error) {
	var doc layerDoc
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedLayer, identifier, err)
	}

	layer := &Layer{
		Identifier:  identifier,
		DefaultPrim: doc.DefaultPrim,
		specs:       make(map[string]*PrimSpec),
	}
	for _, sl := range doc.SubLayers {
		if sl.Asset == "" {
			return nil, fmt.Errorf("%w: %s: subLayer with empty asset", ErrMalformedLayer, identifier)
		}
		layer.SubLayers = append(layer.SubLayers, SubLayer{
			AssetPath: sl.Asset,
			Offset:    offsetFrom(sl.Offset, sl.Scale),
		})
	}

	relocateSources := make([]string, 0, len(doc.Relocates))
	for src := range doc.Relocates {
		relocateSources = append(relocateSources, src)
	}
	sort.Strings(relocateSources)
	for _, src := range relocateSources {
		srcPath, err := ParsePath(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: relocate source: %v", ErrMalformedLayer, identifier, err)
		}
		tgtPath, err := ParsePath(doc.Relocates[src])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: relocate target: %v", ErrMalformedLayer, identifier, err)
		}
		layer.Relocates = append(layer.Relocates, Relocate{Source: srcPath, Target: tgtPath})
	}

	names, err := layer.decodePrimMap(doc.Prims, AbsoluteRootPath())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedLayer, identifier, err)
	}
	layer.RootChildNames = names
	return layer, nil
}

// decodePrimMap decodes a children mapping in document order, building
// specs under parent. Returns the child names in authored order.
func (l *Layer) decodePrimMap(node yaml.Node, parent Path) ([]string, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("prims at <%s> must be a mapping", parent)
	}
	var names []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if name == "" {
			return nil, fmt.Errorf("empty prim name under <%s>", parent)
		}
		if !isIdentifier(name) {
			return nil, fmt.Errorf("invalid prim name %q under <%s>", name, parent)
		}
		names = append(names, name)
		child := parent.AppendChild(name)
		if err := l.decodePrim(node.Content[i+1], child); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func (l *Layer) decodePrim(node *yaml.Node, at Path) error {
	var doc primDoc
	if node.Tag != "!!null" {
		if err := node.Decode(&doc); err != nil {
			return fmt.Errorf("prim <%s>: %w", at, err)
		}
	}

	spec := &PrimSpec{Path: at, Properties: doc.Properties}

	if doc.References != nil {
		op, err := referenceListOp(doc.References)
		if err != nil {
			return fmt.Errorf("prim <%s>: references: %w", at, err)
		}
		spec.References = op
	}
	if doc.Payloads != nil {
		op, err := referenceListOp(doc.Payloads)
		if err != nil {
			return fmt.Errorf("prim <%s>: payloads: %w", at, err)
		}
		spec.Payloads = op
	}
	if doc.Inherits != nil {
		op, err := pathListOp(doc.Inherits)
		if err != nil {
			return fmt.Errorf("prim <%s>: inherits: %w", at, err)
		}
		spec.Inherits = op
	}
	if doc.Specializes != nil {
		op, err := pathListOp(doc.Specializes)
		if err != nil {
			return fmt.Errorf("prim <%s>: specializes: %w", at, err)
		}
		spec.Specializes = op
	}
	if doc.VariantSets != nil {
		spec.VariantSetNames = stringListOp(doc.VariantSets)
	}
	if len(doc.Variants) > 0 {
		spec.VariantSelections = doc.Variants
	}
	if doc.Permission != nil {
		switch *doc.Permission {
		case "public":
			spec.Permission = PermissionPublic
		case "private":
			spec.Permission = PermissionPrivate
		default:
			return fmt.Errorf("prim <%s>: unknown permission %q", at, *doc.Permission)
		}
		spec.HasPermission = true
	}
	if doc.Instanceable != nil {
		spec.Instanceable = *doc.Instanceable
		spec.HasInstanceable = true
	}
	if doc.Symmetry != nil {
		spec.HasSymmetry = *doc.Symmetry
	}

	names, err := l.decodePrimMap(doc.Children, at)
	if err != nil {
		return err
	}
	spec.ChildNames = names
	l.specs[at.String()] = spec

	// Variant specs live at {set=sel} paths below the owning prim.
	varSets := make([]string, 0, len(doc.VariantSetSpecs))
	for set := range doc.VariantSetSpecs {
		varSets = append(varSets, set)
	}
	sort.Strings(varSets)
	for _, set := range varSets {
		setNode := doc.VariantSetSpecs[set]
		if setNode.Kind != yaml.MappingNode {
			return fmt.Errorf("prim <%s>: variantSetSpecs.%s must be a mapping", at, set)
		}
		if !isIdentifier(set) {
			return fmt.Errorf("prim <%s>: invalid variant set name %q", at, set)
		}
		for i := 0; i+1 < len(setNode.Content); i += 2 {
			sel := setNode.Content[i].Value
			if !isIdentifier(sel) {
				return fmt.Errorf("prim <%s>: invalid variant selection %q in set %q", at, sel, set)
			}
			varPath := at.AppendVariantSelection(set, sel)
			if err := l.decodePrim(setNode.Content[i+1], varPath); err != nil {
				return err
			}
		}
	}
	return nil
}

func referenceListOp(doc *listOpDoc[referenceDoc]) (ListOp[Reference], error) {
	conv := func(in []referenceDoc) ([]Reference, error) {
		out := make([]Reference, 0, len(in))
		for _, d := range in {
			ref := Reference{AssetPath: d.Asset, Offset: offsetFrom(d.Offset, d.Scale)}
			if d.PrimPath != "" {
				p, err := ParsePath(d.PrimPath)
				if err != nil {
					return nil, err
				}
				ref.PrimPath = p
			}
			out = append(out, ref)
		}
		return out, nil
	}
	var op ListOp[Reference]
	if doc.isExplicit {
		items, err := conv(doc.explicit)
		if err != nil {
			return op, err
		}
		return ListOp[Reference]{IsExplicit: true, ExplicitItems: items}, nil
	}
	pre, err := conv(doc.prepend)
	if err != nil {
		return op, err
	}
	app, err := conv(doc.append)
	if err != nil {
		return op, err
	}
	del, err := conv(doc.delete)
	if err != nil {
		return op, err
	}
	return ListOp[Reference]{PrependedItems: pre, AppendedItems: app, DeletedItems: del}, nil
}

func pathListOp(doc *listOpDoc[string]) (ListOp[Path], error) {
	conv := func(in []string) ([]Path, error) {
		out := make([]Path, 0, len(in))
		for _, s := range in {
			p, err := ParsePath(s)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
		return out, nil
	}
	var op ListOp[Path]
	if doc.isExplicit {
		items, err := conv(doc.explicit)
		if err != nil {
			return op, err
		}
		return ListOp[Path]{IsExplicit: true, ExplicitItems: items}, nil
	}
	pre, err := conv(doc.prepend)
	if err != nil {
		return op, err
	}
	app, err := conv(doc.append)
	if err != nil {
		return op, err
	}
	del, err := conv(doc.delete)
	if err != nil {
		return op, err
	}
	return ListOp[Path]{PrependedItems: pre, AppendedItems: app, DeletedItems: del}, nil
}

func stringListOp(doc *listOpDoc[string]) ListOp[string] {
	if doc.isExplicit {
		return ListOp[string]{IsExplicit: true, ExplicitItems: doc.explicit}
	}
	return ListOp[string]{
		PrependedItems: doc.prepend,
		AppendedItems:  doc.append,
		DeletedItems:   doc.delete,
	}
}

func offsetFrom(offset, scale *float64) LayerOffset {
	o := IdentityOffset()
	if offset != nil {
		o.Offset = *offset
	}
	if scale != nil {
		o.Scale = *scale
	}
	return o
}
