// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package debug

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianCompose/services/compose/pcp"
	"github.com/AleutianAI/AleutianCompose/services/compose/sdf"
)

func composeTestIndex(t *testing.T) *pcp.PrimIndex {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"root.yaml": `
prims:
  A:
    properties: [a]
    references:
      - asset: model.yaml
        primPath: /B
`,
		"model.yaml": `
prims:
  B:
    properties: [b]
`,
	}
	for name, doc := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	engine := pcp.NewEngine(sdf.NewResolver(dir))
	idx, err := engine.ComputeIndexAtPath(context.Background(), "root.yaml", sdf.MustParsePath("/A"))
	if err != nil {
		t.Fatalf("ComputeIndexAtPath: %v", err)
	}
	return idx
}

func TestDumpText(t *testing.T) {
	idx := composeTestIndex(t)

	out, err := Dump(idx, FormatText)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	for _, want := range []string{"root.yaml:/A", "model.yaml:/B", "reference"} {
		if !strings.Contains(out, want) {
			t.Errorf("text dump missing %q:\n%s", want, out)
		}
	}
}

func TestDumpDOT(t *testing.T) {
	idx := composeTestIndex(t)

	out, err := Dump(idx, FormatDOT)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if !strings.HasPrefix(out, "digraph") {
		t.Errorf("DOT dump does not start with digraph:\n%s", out)
	}
	if !strings.Contains(out, "model.yaml:/B") {
		t.Errorf("DOT dump missing reference node:\n%s", out)
	}
}

func TestDumpUnknownFormat(t *testing.T) {
	idx := composeTestIndex(t)

	if _, err := Dump(idx, OutputFormat("csv")); err == nil {
		t.Error("expected error for unknown format")
	}
}
