package loader

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/latticegraph/lattice/pkg/address"
	"github.com/latticegraph/lattice/pkg/element"
)

// fileItem is the on-disk shape of an Item: a named variable, a fixed
// existing address, or a fresh element to create, selected by which
// fields are set (see Item's resolution priority).
type fileItem struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Subtype uint32 `yaml:"subtype"`
	Fixed   string `yaml:"fixed"`
}

type fileTriple struct {
	Source    fileItem `yaml:"source"`
	Connector fileItem `yaml:"connector"`
	Target    fileItem `yaml:"target"`
}

// fileTemplate is the on-disk shape of a Template plus its ParamMap,
// the format ParseFile and thus latticectl's load subcommand accept.
//
// Example:
//
//	params:
//	  existing: "0:5"
//	triples:
//	  - source: {name: a, kind: node}
//	    connector: {kind: arc_common}
//	    target: {name: b, kind: node, subtype: 3}
type fileTemplate struct {
	Params  map[string]string `yaml:"params"`
	Triples []fileTriple      `yaml:"triples"`
}

var kindNames = map[string]element.Type{
	"":               0,
	"node":           element.KindNode,
	"link":           element.KindLink,
	"arc":            element.KindArcCommon,
	"arc_common":     element.KindArcCommon,
	"arc_access":     element.KindArcAccess,
	"arc_membership": element.KindArcMembership,
}

func kindFromString(s string) (element.Type, error) {
	kind, ok := kindNames[s]
	if !ok {
		return 0, fmt.Errorf("loader: unknown kind %q", s)
	}
	return kind, nil
}

func (fi fileItem) toItem() (Item, error) {
	kind, err := kindFromString(fi.Kind)
	if err != nil {
		return Item{}, err
	}
	item := Item{Name: fi.Name, Type: kind | element.Type(fi.Subtype)<<8}
	if fi.Fixed != "" {
		addr, err := address.Parse(fi.Fixed)
		if err != nil {
			return Item{}, err
		}
		item.Fixed = true
		item.Addr = addr
	}
	return item, nil
}

// ParseFile decodes a YAML template file into a Template and its
// ParamMap, ready for Load.
func ParseFile(data []byte) (Template, ParamMap, error) {
	var ft fileTemplate
	if err := yaml.Unmarshal(data, &ft); err != nil {
		return nil, nil, fmt.Errorf("loader: parsing template file: %w", err)
	}

	params := make(ParamMap, len(ft.Params))
	for name, raw := range ft.Params {
		addr, err := address.Parse(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("loader: param %q: %w", name, err)
		}
		params[name] = addr
	}

	tmpl := make(Template, len(ft.Triples))
	for i, ft := range ft.Triples {
		source, err := ft.Source.toItem()
		if err != nil {
			return nil, nil, fmt.Errorf("loader: triple %d source: %w", i, err)
		}
		connector, err := ft.Connector.toItem()
		if err != nil {
			return nil, nil, fmt.Errorf("loader: triple %d connector: %w", i, err)
		}
		target, err := ft.Target.toItem()
		if err != nil {
			return nil, nil, fmt.Errorf("loader: triple %d target: %w", i, err)
		}
		tmpl[i] = Triple{Source: source, Connector: connector, Target: target}
	}
	return tmpl, params, nil
}

// LoadFile reads path and parses it as a YAML template file.
func LoadFile(path string) (Template, ParamMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loader: reading %s: %w", path, err)
	}
	return ParseFile(data)
}
