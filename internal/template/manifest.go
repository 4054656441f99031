package template

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
)

// hclManifest is the decoding target of a template manifest:
//
//	token          = "PLACEHOLDER"
//	mass_threshold = 18
//
//	family "low"  { source = "000_Source_12M" }
//	family "high" { source = "000_Source_20M" }
//
//	binding "energy" {
//	  suffix = "d+50"
//	  anchor {
//	    file  = "PostCC/inlist_edep"
//	    lines = [49]
//	  }
//	}
type hclManifest struct {
	Token         string        `hcl:"token,optional"`
	MassThreshold float64       `hcl:"mass_threshold"`
	Families      []*hclFamily  `hcl:"family,block"`
	Bindings      []*hclBinding `hcl:"binding,block"`
}

type hclFamily struct {
	Name   string `hcl:"name,label"`
	Source string `hcl:"source"`
}

type hclBinding struct {
	Param   string       `hcl:"param,label"`
	Suffix  string       `hcl:"suffix,optional"`
	Anchors []*hclAnchor `hcl:"anchor,block"`
}

type hclAnchor struct {
	File  string `hcl:"file"`
	Lines []int  `hcl:"lines"`
}

// LoadManifest reads a catalog from an HCL manifest file.
func LoadManifest(path string) (*Catalog, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse template manifest %s: %w", path, diags)
	}

	var m hclManifest
	if diags := gohcl.DecodeBody(file.Body, nil, &m); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode template manifest %s: %w", path, diags)
	}

	c := &Catalog{Token: m.Token, MassThreshold: m.MassThreshold}
	if c.Token == "" {
		c.Token = DefaultToken
	}

	for _, f := range m.Families {
		switch f.Name {
		case "low":
			c.Low = Family{Name: f.Name, Source: f.Source}
		case "high":
			c.High = Family{Name: f.Name, Source: f.Source}
		default:
			return nil, fmt.Errorf("%s: unknown family %q (expected \"low\" or \"high\")", path, f.Name)
		}
	}
	if c.Low.Source == "" || c.High.Source == "" {
		return nil, fmt.Errorf("%s: both \"low\" and \"high\" families are required", path)
	}

	seen := map[string]bool{}
	for _, b := range m.Bindings {
		if seen[b.Param] {
			return nil, fmt.Errorf("%s: duplicate binding %q", path, b.Param)
		}
		seen[b.Param] = true

		binding := Binding{Param: b.Param, Suffix: b.Suffix}
		for _, a := range b.Anchors {
			if len(a.Lines) == 0 {
				return nil, fmt.Errorf("%s: binding %q anchor %s has no lines", path, b.Param, a.File)
			}
			binding.Anchors = append(binding.Anchors, Anchor{File: a.File, Lines: a.Lines})
		}
		c.Bindings = append(c.Bindings, binding)
	}
	return c, nil
}
