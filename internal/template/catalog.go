// Package template models the simulation template trees a job directory is
// copied from, and the named parameter bindings that are patched into them.
package template

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultToken is the literal placeholder template files carry at every
// binding anchor.
const DefaultToken = "PLACEHOLDER"

// Family is one template source tree under the grid directory.
type Family struct {
	Name   string
	Source string
}

// Anchor is a file, relative to the job directory, and the zero-based lines
// in it that carry the placeholder for a binding.
type Anchor struct {
	File  string
	Lines []int
}

// Binding maps a logical parameter name to the places its value is written.
// Suffix is appended to the value at every anchor (for example a Fortran
// exponent such as "d+50").
type Binding struct {
	Param   string
	Suffix  string
	Anchors []Anchor
}

// Catalog is the complete template model: two families split by a mass
// threshold, and the bindings shared by both.
type Catalog struct {
	Token string

	// MassThreshold belongs to the low family: mass <= MassThreshold selects
	// Low.
	MassThreshold float64
	Low           Family
	High          Family

	Bindings []Binding
}

// DefaultCatalog returns the catalog the stock MESA/STELLA template trees are
// built for.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Token:         DefaultToken,
		MassThreshold: 18,
		Low:           Family{Name: "low", Source: "000_Source_12M"},
		High:          Family{Name: "high", Source: "000_Source_20M"},
		Bindings: []Binding{
			{Param: "metallicity", Anchors: []Anchor{
				{File: "PreCC/inlist_mass_Z_wind_rotation", Lines: []int{3, 9, 14}},
				{File: "PostCC/inlist_edep", Lines: []int{38}},
				{File: "PostCC/inlist_mass_Z", Lines: []int{3, 7, 11}},
			}},
			{Param: "hefrac", Anchors: []Anchor{
				{File: "PreCC/inlist_mass_Z_wind_rotation", Lines: []int{15}},
			}},
			{Param: "mass", Anchors: []Anchor{
				{File: "PreCC/inlist_mass_Z_wind_rotation", Lines: []int{13}},
				{File: "PostCC/inlist_edep", Lines: []int{37}},
				{File: "PostCC/inlist_mass_Z", Lines: []int{12}},
			}},
			{Param: "windscalar", Anchors: []Anchor{
				{File: "PreCC/inlist_mass_Z_wind_rotation", Lines: []int{16}},
			}},
			{Param: "energy", Suffix: "d+50", Anchors: []Anchor{
				{File: "PostCC/inlist_edep", Lines: []int{49}},
			}},
			{Param: "ni56", Anchors: []Anchor{
				{File: "PostCC/inlist_shock_part3", Lines: []int{27}},
				{File: "PostCC/inlist_shock_part5", Lines: []int{56}},
			}},
			{Param: "csmcells", Anchors: []Anchor{
				{File: "PostCC/inlist_stella", Lines: []int{4}},
			}},
			{Param: "csmtime", Anchors: []Anchor{
				{File: "PostCC/inlist_stella", Lines: []int{9}},
			}},
			{Param: "csmrate", Anchors: []Anchor{
				{File: "PostCC/inlist_stella", Lines: []int{10}},
			}},
			{Param: "csmvelo", Anchors: []Anchor{
				{File: "PostCC/inlist_stella", Lines: []int{11}},
			}},
		},
	}
}

// FamilyFor selects the template family for a progenitor mass.
func (c *Catalog) FamilyFor(mass float64) Family {
	if mass <= c.MassThreshold {
		return c.Low
	}
	return c.High
}

// Families returns both families, low first.
func (c *Catalog) Families() []Family {
	return []Family{c.Low, c.High}
}

// Apply patches every binding into the tree at root. values must hold an
// entry for every bound parameter.
func (c *Catalog) Apply(root string, values map[string]string, p Patcher) error {
	for _, b := range c.Bindings {
		v, ok := values[b.Param]
		if !ok {
			return fmt.Errorf("no value for bound parameter %q", b.Param)
		}
		for _, a := range b.Anchors {
			path := filepath.Join(root, filepath.FromSlash(a.File))
			for _, line := range a.Lines {
				if err := p.Patch(path, line, v+b.Suffix); err != nil {
					return fmt.Errorf("binding %s: %w", b.Param, err)
				}
			}
		}
	}
	return nil
}

// Validate checks every anchor of every binding against both family trees
// under gridDir: each anchored line must exist and carry the token. All
// problems are reported together.
func (c *Catalog) Validate(gridDir string) error {
	if c.Token == "" {
		return fmt.Errorf("template token is empty")
	}

	anchored := map[string][]int{}
	for _, b := range c.Bindings {
		for _, a := range b.Anchors {
			anchored[a.File] = append(anchored[a.File], a.Lines...)
		}
	}
	files := make([]string, 0, len(anchored))
	for f := range anchored {
		files = append(files, f)
	}
	sort.Strings(files)

	var errs []error
	for _, fam := range c.Families() {
		root := filepath.Join(gridDir, fam.Source)
		for _, f := range files {
			lines, err := readLines(filepath.Join(root, filepath.FromSlash(f)))
			if err != nil {
				errs = append(errs, fmt.Errorf("family %s: %w", fam.Name, err))
				continue
			}
			for _, idx := range anchored[f] {
				if idx < 0 || idx >= len(lines) || !strings.Contains(lines[idx], c.Token) {
					errs = append(errs, &AnchorError{Path: filepath.Join(fam.Source, f), Line: idx, Token: c.Token})
				}
			}
		}
	}
	return errors.Join(errs...)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
