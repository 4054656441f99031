// Package templatetest builds minimal template trees for tests.
package templatetest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stellarsweep/internal/template"
)

// WriteFamilies creates both family trees of c under gridDir. Every anchored
// file gets filler lines with "value = <token>" at each anchor.
func WriteFamilies(tb testing.TB, gridDir string, c *template.Catalog) {
	tb.Helper()
	for _, fam := range c.Families() {
		WriteTree(tb, filepath.Join(gridDir, fam.Source), c)
	}
}

// WriteTree creates one template tree for c at root.
func WriteTree(tb testing.TB, root string, c *template.Catalog) {
	tb.Helper()

	anchored := map[string]map[int]bool{}
	for _, b := range c.Bindings {
		for _, a := range b.Anchors {
			if anchored[a.File] == nil {
				anchored[a.File] = map[int]bool{}
			}
			for _, l := range a.Lines {
				anchored[a.File][l] = true
			}
		}
	}

	for file, lines := range anchored {
		max := 0
		for l := range lines {
			if l > max {
				max = l
			}
		}
		var b strings.Builder
		for i := 0; i <= max+1; i++ {
			if lines[i] {
				fmt.Fprintf(&b, "value = %s\n", c.Token)
			} else {
				fmt.Fprintf(&b, "! line %d\n", i)
			}
		}
		WriteFile(tb, filepath.Join(root, filepath.FromSlash(file)), b.String(), 0644)
	}
}

// WriteScript writes an executable shell script with an empty environment
// block followed by body.
func WriteScript(tb testing.TB, path, body string) {
	tb.Helper()
	content := "#!/bin/sh\n" + template.BlockBegin + "\n" + template.BlockEnd + "\n" + body + "\n"
	WriteFile(tb, path, content, 0755)
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(tb testing.TB, path, content string, perm os.FileMode) {
	tb.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		tb.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
}
