package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/charlesng35/governor/pkg/errors"
)

// Override replaces the category-derived rule for one collection.
type Override struct {
	Collection string `yaml:"collection"`
	Read       string `yaml:"read"`
	Write      string `yaml:"write"`
	Comment    string `yaml:"comment,omitempty"`
}

// LoadOverrides reads per-collection overrides from a YAML file:
//
//	overrides:
//	  - collection: apiKeys
//	    read: isAdmin()
//	    write: isAdmin()
//	    comment: backend credentials
//
// Loaded overrides are applied on top of the builtin ones.
func LoadOverrides(path string) ([]Override, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.ErrInvalidConfig.WithInternal(err)
	}

	var doc struct {
		Overrides []Override `yaml:"overrides"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.ErrInvalidConfig.WithInternal(err)
	}

	for i, o := range doc.Overrides {
		if strings.TrimSpace(o.Collection) == "" {
			return nil, apperrors.ErrInvalidConfig.WithInternal(fmt.Errorf("override %d: collection is required", i))
		}
		if strings.TrimSpace(o.Read) == "" || strings.TrimSpace(o.Write) == "" {
			return nil, apperrors.ErrInvalidConfig.WithInternal(fmt.Errorf("override %d (%s): read and write conditions are required", i, o.Collection))
		}
	}

	return doc.Overrides, nil
}
