package enrich

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabularyYAML []byte

// Term is a canonical name and the other spellings that map to it.
type Term struct {
	Title   string   `yaml:"title"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// Canonical returns the term's display form.
func (t Term) Canonical() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

// Spellings returns the canonical form followed by its aliases.
func (t Term) Spellings() []string {
	return append([]string{t.Canonical()}, t.Aliases...)
}

// Vocabulary holds the enumerated tables the extractors match against.
// Slice order is match priority.
type Vocabulary struct {
	Ranks         []Term   `yaml:"ranks"`
	Branches      []Term   `yaml:"branches"`
	UnitKeywords  []string `yaml:"unit_keywords"`
	UnitDenylist  []string `yaml:"unit_denylist"`
	Operations    []string `yaml:"operations"`
	Places        []string `yaml:"places"`
	Abbreviations []string `yaml:"abbreviations"`
}

// DefaultVocabulary returns the embedded tables.
func DefaultVocabulary() (*Vocabulary, error) {
	return parseVocabulary(defaultVocabularyYAML)
}

// LoadVocabulary reads tables from path, or the embedded defaults when path is empty.
func LoadVocabulary(path string) (*Vocabulary, error) {
	if path == "" {
		return DefaultVocabulary()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return parseVocabulary(data)
}

func parseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary: %w", err)
	}
	if len(v.Ranks) == 0 || len(v.Branches) == 0 {
		return nil, fmt.Errorf("vocabulary must define ranks and branches")
	}
	if len(v.UnitKeywords) == 0 {
		return nil, fmt.Errorf("vocabulary must define unit_keywords")
	}
	return &v, nil
}
