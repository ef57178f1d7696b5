package agency

import (
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

const (
	MaxPersonas      = 10
	MinProductLength = 20
)

// Brief is the input of one analysis run.
type Brief struct {
	Personas []string `json:"personas" yaml:"personas"`
	Product  string   `json:"product" yaml:"product"`
}

// Validate checks the brief the way the input form does: at least one persona and at most
// MaxPersonas, none of them blank, and a product description of at least MinProductLength
// characters.
func (b Brief) Validate() error {
	if len(b.Personas) == 0 {
		return errors.Errorf("add at least one persona")
	}
	if len(b.Personas) > MaxPersonas {
		return errors.Errorf("at most %d personas are supported, got %d", MaxPersonas, len(b.Personas))
	}
	for i, p := range b.Personas {
		if strings.TrimSpace(p) == "" {
			return errors.Errorf("persona %d is empty, provide a description", i+1)
		}
	}
	product := strings.TrimSpace(b.Product)
	if product == "" {
		return errors.Errorf("provide a product/brand description")
	}
	if utf8.RuneCountInString(product) < MinProductLength {
		return errors.Errorf("product description should be at least %d characters long", MinProductLength)
	}
	return nil
}

// Normalized trims every field and drops blank personas.
func (b Brief) Normalized() Brief {
	return Brief{
		Personas: lo.Compact(lo.Map(b.Personas, func(p string, _ int) string { return strings.TrimSpace(p) })),
		Product:  strings.TrimSpace(b.Product),
	}
}
