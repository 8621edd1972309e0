package pipeline

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"slices"

	"github.com/siherrmann/citegraph/model"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// RelationPattern is one trigger of the relation catalog.
type RelationPattern struct {
	Type         model.RelationType `yaml:"type"`
	Trigger      string             `yaml:"trigger"`
	Strength     float64            `yaml:"strength"`
	Passive      bool               `yaml:"passive"`
	Reverse      bool               `yaml:"reverse"`
	SubjectTypes []model.EntityType `yaml:"subject_types"`
	ObjectTypes  []model.EntityType `yaml:"object_types"`

	re *regexp.Regexp
}

// Catalog is an ordered set of compiled patterns, passive ones first.
type Catalog struct {
	Patterns []*RelationPattern
}

// DefaultCatalog returns the built-in catalog for FOUNDED, EMPLOYED_BY, CITES, LOCATED_IN and ACQUIRED.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultPatterns)
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog compiles a YAML list of patterns. Triggers match case-insensitively.
func ParseCatalog(data []byte) (*Catalog, error) {
	var patterns []*RelationPattern
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		return nil, fmt.Errorf("error parsing catalog: %w", err)
	}

	for i, p := range patterns {
		if p.Type == "" || p.Trigger == "" {
			return nil, fmt.Errorf("pattern %d: type and trigger are required", i)
		}
		if p.Strength <= 0 || p.Strength > 1 {
			return nil, fmt.Errorf("pattern %d: strength must be in (0, 1]", i)
		}
		re, err := regexp.Compile("(?i)" + p.Trigger)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		p.re = re
	}

	slices.SortStableFunc(patterns, func(a, b *RelationPattern) int {
		switch {
		case a.Passive == b.Passive:
			return 0
		case a.Passive:
			return -1
		}
		return 1
	})
	return &Catalog{Patterns: patterns}, nil
}

func (p *RelationPattern) accepts(subject, object model.EntityType) bool {
	return (len(p.SubjectTypes) == 0 || slices.Contains(p.SubjectTypes, subject)) &&
		(len(p.ObjectTypes) == 0 || slices.Contains(p.ObjectTypes, object))
}
