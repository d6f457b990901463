package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ItemSeed is one tracked item as written in a seed file
type ItemSeed struct {
	Name        string `yaml:"name"`
	Site        string `yaml:"site" validate:"required,oneof=flipkart amazon reliance croma"`
	URL         string `yaml:"url" validate:"required,url"`
	TargetPrice Price  `yaml:"target_price" validate:"-"`
	Active      *bool  `yaml:"active"`
}

// IsActive defaults to true when the seed omits the field
func (s ItemSeed) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Price decodes a YAML scalar such as 44999 or "44999.00" without float rounding
type Price struct {
	decimal.Decimal
	set bool
}

// UnmarshalYAML parses the raw scalar text
func (p *Price) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: target_price must be a number", node.Line)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(node.Value))
	if err != nil {
		return fmt.Errorf("line %d: invalid target_price %q", node.Line, node.Value)
	}
	p.Decimal = d
	p.set = true
	return nil
}

type seedFile struct {
	Items []ItemSeed `yaml:"items"`
}

// LoadItems reads and validates a seed file. The file may be a bare YAML list or a
// mapping with an "items" key.
func LoadItems(path string) ([]ItemSeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseItems(data)
}

// ParseItems decodes and validates seed YAML
func ParseItems(data []byte) ([]ItemSeed, error) {
	var items []ItemSeed
	if err := yaml.Unmarshal(data, &items); err != nil {
		var wrapped seedFile
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, fmt.Errorf("failed to parse seed file: %w", err)
		}
		items = wrapped.Items
	}

	validate := validator.New()
	var errs []error
	for i := range items {
		item := &items[i]
		item.Site = strings.ToLower(strings.TrimSpace(item.Site))
		item.URL = strings.TrimSpace(item.URL)

		if err := validate.Struct(item); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i+1, err))
			continue
		}
		if !item.TargetPrice.set {
			errs = append(errs, fmt.Errorf("item %d: target_price is required", i+1))
			continue
		}
		if item.TargetPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("item %d: target_price must not be negative", i+1))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return items, nil
}
