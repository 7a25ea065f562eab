// Package discovery finds module descriptors in the workspace, parses
// them, and keeps the registry synchronized with what is on disk.
package discovery

import (
	"encoding/xml"
	"fmt"
	"io"

	"git.home.luguber.info/inful/modset/internal/errors"
	"git.home.luguber.info/inful/modset/internal/modname"
)

// Descriptor is the parsed content of one module descriptor file.
type Descriptor struct {
	Name         modname.ModuleName
	Dependencies []modname.ModuleName
}

// ivyModule mirrors the descriptor XML. Only the elements the
// coordinator needs are mapped; everything else is ignored.
type ivyModule struct {
	XMLName xml.Name `xml:"ivy-module"`
	Info    struct {
		Organisation string `xml:"organisation,attr"`
		Module       string `xml:"module,attr"`
	} `xml:"info"`
	Dependencies struct {
		Dependency []struct {
			Org  string `xml:"org,attr"`
			Name string `xml:"name,attr"`
		} `xml:"dependency"`
	} `xml:"dependencies"`
}

// ParseDescriptor reads one descriptor document. Dependencies that do
// not name both an org and a name are skipped; modules outside the set
// are filtered later by the registry's graph.
func ParseDescriptor(r io.Reader) (Descriptor, error) {
	var doc ivyModule
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return Descriptor{}, errors.Wrap(err, errors.CategoryValidation, errors.SeverityError, "parse descriptor")
	}

	name, err := modname.New(doc.Info.Organisation, doc.Info.Module)
	if err != nil {
		return Descriptor{}, errors.Wrap(err, errors.CategoryValidation, errors.SeverityError,
			fmt.Sprintf("descriptor info element is incomplete (organisation=%q, module=%q)",
				doc.Info.Organisation, doc.Info.Module))
	}

	desc := Descriptor{Name: name}
	for _, dep := range doc.Dependencies.Dependency {
		depName, err := modname.New(dep.Org, dep.Name)
		if err != nil {
			continue
		}
		desc.Dependencies = append(desc.Dependencies, depName)
	}
	return desc, nil
}
