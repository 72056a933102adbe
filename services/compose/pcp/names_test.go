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

func TestComputeChildNamesAcrossArcs(t *testing.T) {
	engine, stack := newTestEngine(t, map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [size]
    references:
      - asset: model.yaml
        primPath: /B
    children:
      X:
        properties: [x]
      Y:
        properties: [y]
`,
		"model.yaml": `
prims:
  B:
    properties: [size, color]
    children:
      Y:
        properties: [y]
      Z:
        properties: [z]
`,
	})
	idx := computeTestIndex(t, engine, stack, "/A")

	names, prohibited := idx.ComputeChildNames()
	if want := []string{"X", "Y", "Z"}; !reflect.DeepEqual(names, want) {
		t.Errorf("child names = %v, want %v", names, want)
	}
	if len(prohibited) != 0 {
		t.Errorf("prohibited names = %v, want none", prohibited)
	}

	props := idx.ComputePropertyNames()
	if want := []string{"size", "color"}; !reflect.DeepEqual(props, want) {
		t.Errorf("property names = %v, want %v", props, want)
	}
}

func TestComputeChildNamesWithRelocation(t *testing.T) {
	engine, stack := newTestEngine(t, relocScene)
	idx := computeTestIndex(t, engine, stack, "/Char")

	names, prohibited := idx.ComputeChildNames()
	if want := []string{"AnimFixed"}; !reflect.DeepEqual(names, want) {
		t.Errorf("child names = %v, want %v", names, want)
	}
	// The relocation source keeps its old name off limits.
	if want := []string{"Anim"}; !reflect.DeepEqual(prohibited, want) {
		t.Errorf("prohibited names = %v, want %v", prohibited, want)
	}
}
