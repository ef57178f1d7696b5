package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/integrail/persona-lab/pkg/agency"
)

// LoadBrief reads a YAML (or JSON) file with personas and product:
//
//	personas:
//	  - Busy ICU nurse, 34, works night shifts
//	product: A reusable smart water bottle that tracks hydration
func LoadBrief(path string) (agency.Brief, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agency.Brief{}, errors.Wrapf(err, "failed to read brief %s", path)
	}
	return ParseBrief(data)
}

func ParseBrief(data []byte) (agency.Brief, error) {
	var brief agency.Brief
	if err := yaml.Unmarshal(data, &brief); err != nil {
		return agency.Brief{}, errors.Wrapf(err, "failed to parse brief")
	}
	brief = brief.Normalized()
	if err := brief.Validate(); err != nil {
		return agency.Brief{}, err
	}
	return brief, nil
}
