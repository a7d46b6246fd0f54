package ppe

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed synonyms.yaml
var defaultSynonymsYAML []byte

// SynonymTable maps normalized detector class names to items.
type SynonymTable map[string]Item

// ParseSynonyms reads a YAML document of item -> list of class names.
func ParseSynonyms(data []byte) (SynonymTable, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse synonym table: %w", err)
	}

	table := make(SynonymTable)
	for name, classes := range raw {
		item, err := ParseItem(name)
		if err != nil {
			return nil, err
		}
		for _, class := range classes {
			key := NormalizeClass(class)
			if key == "" {
				continue
			}
			if existing, ok := table[key]; ok && existing != item {
				return nil, fmt.Errorf("class %q maps to both %s and %s", class, existing, item)
			}
			table[key] = item
		}
	}
	return table, nil
}

var defaultSynonyms = sync.OnceValue(func() SynonymTable {
	table, err := ParseSynonyms(defaultSynonymsYAML)
	if err != nil {
		panic(err)
	}
	return table
})

// DefaultSynonyms returns the built-in table.
func DefaultSynonyms() SynonymTable {
	return defaultSynonyms()
}

// Lookup maps a raw class name to an item. Matching is exact after normalization,
// so "vestibule" is not a vest.
func (t SynonymTable) Lookup(class string) (Item, bool) {
	item, ok := t[NormalizeClass(class)]
	return item, ok
}

// NormalizeClass lower-cases a class name, removes diacritics and folds spaces,
// underscores and punctuation into single dashes ("Safety_Vest" -> "safety-vest").
func NormalizeClass(class string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, class)
	if err != nil {
		s = class
	}
	s = strings.ToLower(s)

	var b strings.Builder
	dash := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
