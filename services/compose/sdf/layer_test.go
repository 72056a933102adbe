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
	"errors"
	"reflect"
	"strings"
	"testing"
)

const modelLayerDoc = `
defaultPrim: Model
subLayers:
  - asset: shading.yaml
  - asset: anim.yaml
    offset: 10
    scale: 2
relocates:
  /Model/Old: /Model/New
prims:
  Model:
    references:
      prepend:
        - asset: base.yaml
          primPath: /Base
    inherits:
      prepend: [/Class]
    variantSets: [lod]
    variants:
      lod: high
    variantSetSpecs:
      lod:
        high:
          children:
            Detail:
    permission: private
    instanceable: true
    properties: [radius]
    children:
      Rig:
        specializes:
          prepend: [/Model/RigBase]
  Class:
`

func loadTestLayer(t *testing.T, doc string) *Layer {
	t.Helper()
	layer, err := LoadLayer("test.yaml", strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadLayer: %v", err)
	}
	return layer
}

func TestLoadLayer(t *testing.T) {
	layer := loadTestLayer(t, modelLayerDoc)

	t.Run("layer metadata", func(t *testing.T) {
		if layer.DefaultPrim != "Model" {
			t.Errorf("DefaultPrim = %q", layer.DefaultPrim)
		}
		if len(layer.SubLayers) != 2 {
			t.Fatalf("SubLayers = %v", layer.SubLayers)
		}
		if layer.SubLayers[0].AssetPath != "shading.yaml" || !layer.SubLayers[0].Offset.IsIdentity() {
			t.Errorf("first subLayer = %+v", layer.SubLayers[0])
		}
		if got := layer.SubLayers[1].Offset; got.Offset != 10 || got.Scale != 2 {
			t.Errorf("second subLayer offset = %+v", got)
		}
		want := []Relocate{{Source: MustParsePath("/Model/Old"), Target: MustParsePath("/Model/New")}}
		if !reflect.DeepEqual(layer.Relocates, want) {
			t.Errorf("Relocates = %v", layer.Relocates)
		}
		if !reflect.DeepEqual(layer.RootChildNames, []string{"Model", "Class"}) {
			t.Errorf("RootChildNames = %v", layer.RootChildNames)
		}
	})

	t.Run("prim fields", func(t *testing.T) {
		spec := layer.GetPrimSpec(MustParsePath("/Model"))
		if spec == nil {
			t.Fatal("no spec at /Model")
		}
		if len(spec.References.PrependedItems) != 1 {
			t.Fatalf("References = %+v", spec.References)
		}
		ref := spec.References.PrependedItems[0]
		if ref.AssetPath != "base.yaml" || !ref.PrimPath.Equal(MustParsePath("/Base")) {
			t.Errorf("reference = %+v", ref)
		}
		if got := spec.Inherits.PrependedItems; len(got) != 1 || !got[0].Equal(MustParsePath("/Class")) {
			t.Errorf("Inherits = %v", got)
		}
		if got := spec.VariantSetNames.ExplicitItems; !reflect.DeepEqual(got, []string{"lod"}) {
			t.Errorf("VariantSetNames = %v", got)
		}
		if sel, ok := spec.VariantSelection("lod"); !ok || sel != "high" {
			t.Errorf("VariantSelection(lod) = %q,%v", sel, ok)
		}
		if !spec.HasPermission || spec.Permission != PermissionPrivate {
			t.Errorf("Permission = %+v", spec)
		}
		if !spec.HasInstanceable || !spec.Instanceable {
			t.Error("Instanceable not parsed")
		}
		if !reflect.DeepEqual(spec.ChildNames, []string{"Rig"}) {
			t.Errorf("ChildNames = %v", spec.ChildNames)
		}
	})

	t.Run("nested and variant specs", func(t *testing.T) {
		if !layer.HasSpec(MustParsePath("/Model/Rig")) {
			t.Error("missing spec at /Model/Rig")
		}
		if !layer.HasSpec(MustParsePath("/Model{lod=high}")) {
			t.Error("missing spec at /Model{lod=high}")
		}
		if !layer.HasSpec(MustParsePath("/Model{lod=high}Detail")) {
			t.Error("missing spec at /Model{lod=high}Detail")
		}
		if !layer.HasSpec(MustParsePath("/Class")) {
			t.Error("missing spec for empty-bodied prim /Class")
		}
	})
}

func TestLoadLayerErrors(t *testing.T) {
	cases := map[string]string{
		"bad yaml":          "prims: [unclosed",
		"bad prim name":     "prims:\n  \"bad name\":\n",
		"bad reference":     "prims:\n  A:\n    references:\n      prepend:\n        - asset: x\n          primPath: relative\n",
		"bad permission":    "prims:\n  A:\n    permission: secret\n",
		"bad relocate":      "relocates:\n  notapath: /B\n",
		"empty sublayer":    "subLayers:\n  - offset: 3\n",
		"bad variant specs": "prims:\n  A:\n    variantSetSpecs:\n      lod: [x]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadLayer("bad.yaml", strings.NewReader(doc)); !errors.Is(err, ErrMalformedLayer) {
				t.Errorf("want ErrMalformedLayer, got %v", err)
			}
		})
	}
}

func TestComposedFields(t *testing.T) {
	strong := loadTestLayer(t, `
prims:
  Model:
    references:
      delete:
        - asset: dropped.yaml
          primPath: /X
      prepend:
        - asset: strong.yaml
          primPath: /S
    variants:
      lod: low
    children:
      A:
`)
	weak := loadTestLayer(t, `
prims:
  Model:
    references:
      prepend:
        - asset: dropped.yaml
          primPath: /X
        - asset: weak.yaml
          primPath: /W
    variants:
      lod: high
    instanceable: true
    children:
      A:
      B:
`)
	ls := newLayerStack("test", []LayerStackEntry{
		{Layer: strong, Offset: IdentityOffset()},
		{Layer: weak, Offset: LayerOffset{Offset: 5, Scale: 1}},
	})
	model := MustParsePath("/Model")

	t.Run("references compose with attribution", func(t *testing.T) {
		refs := ComposedReferences(ls, model)
		if len(refs) != 2 {
			t.Fatalf("refs = %+v", refs)
		}
		if refs[0].Reference.AssetPath != "strong.yaml" || refs[0].Layer != strong {
			t.Errorf("refs[0] = %+v", refs[0])
		}
		if refs[1].Reference.AssetPath != "weak.yaml" || refs[1].Layer != weak {
			t.Errorf("refs[1] = %+v", refs[1])
		}
		if refs[1].LayerOffset.Offset != 5 {
			t.Errorf("weak ref offset = %+v", refs[1].LayerOffset)
		}
	})

	t.Run("strongest variant selection wins", func(t *testing.T) {
		sel, ok := AuthoredVariantSelection(ls, model, "lod")
		if !ok || sel != "low" {
			t.Errorf("selection = %q,%v", sel, ok)
		}
	})

	t.Run("scalar opinions fall through to weaker", func(t *testing.T) {
		if !ComposedInstanceable(ls, model) {
			t.Error("instanceable should come from the weak layer")
		}
		if ComposedPermission(ls, model) != PermissionPublic {
			t.Error("unauthored permission should default to public")
		}
	})

	t.Run("child names merge strongest first", func(t *testing.T) {
		if got := ComposedChildNames(ls, model); !reflect.DeepEqual(got, []string{"A", "B"}) {
			t.Errorf("children = %v", got)
		}
		if got := ComposedChildNames(ls, AbsoluteRootPath()); !reflect.DeepEqual(got, []string{"Model"}) {
			t.Errorf("root children = %v", got)
		}
	})
}

func TestLayerStackRelocates(t *testing.T) {
	strong := loadTestLayer(t, "relocates:\n  /A/Old: /A/Strong\n")
	weak := loadTestLayer(t, "relocates:\n  /A/Old: /A/Weak\n  /B/X: /B/Y\n")
	ls := newLayerStack("test", []LayerStackEntry{
		{Layer: strong, Offset: IdentityOffset()},
		{Layer: weak, Offset: IdentityOffset()},
	})

	if tgt := ls.ApplyRelocates(MustParsePath("/A/Old/Child")); tgt.String() != "/A/Strong/Child" {
		t.Errorf("ApplyRelocates = %q, strongest layer should win", tgt)
	}
	if !ls.IsRelocateSource(MustParsePath("/B/X")) {
		t.Error("IsRelocateSource(/B/X) = false")
	}
	if r, ok := ls.RelocateTargetFor(MustParsePath("/B/Y")); !ok || !r.Source.Equal(MustParsePath("/B/X")) {
		t.Errorf("RelocateTargetFor = %+v,%v", r, ok)
	}
}
