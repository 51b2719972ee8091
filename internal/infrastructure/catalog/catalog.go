// Package catalog loads remediation suggestions for learning gaps from a
// YAML file.
//
// File layout:
//
//	default:
//	  - Review the fundamentals of {topic}
//	topics:
//	  Fractions:
//	    - Practice with visual fraction models
package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/classpulse/classpulse/internal/domain/analytics"
)

const topicPlaceholder = "{topic}"

type catalogFile struct {
	Default []string            `yaml:"default"`
	Topics  map[string][]string `yaml:"topics"`
}

// Catalog implements analytics.SuggestionCatalog. Topic lookup ignores
// case and surrounding whitespace. Unknown topics get the file's default
// list, or the built-in suggestions when the file has none. "{topic}" in
// any entry is replaced with the topic name.
type Catalog struct {
	fallback []string
	topics   map[string][]string
}

var _ analytics.SuggestionCatalog = (*Catalog)(nil)

// Load reads a catalog file. An empty path returns a catalog that only
// serves the built-in suggestions.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return New(nil, nil), nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a catalog from r.
func Parse(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, err
	}
	return New(f.Default, f.Topics), nil
}

// New builds a catalog from in-memory data.
func New(fallback []string, topics map[string][]string) *Catalog {
	c := &Catalog{
		fallback: clean(fallback),
		topics:   make(map[string][]string, len(topics)),
	}
	for topic, list := range topics {
		key := normalize(topic)
		if key == "" {
			continue
		}
		c.topics[key] = append(c.topics[key], clean(list)...)
	}
	return c
}

// Suggestions implements analytics.SuggestionCatalog.
func (c *Catalog) Suggestions(topic string) []string {
	list, ok := c.topics[normalize(topic)]
	if !ok || len(list) == 0 {
		list = c.fallback
	}
	if len(list) == 0 {
		return analytics.DefaultCatalog{}.Suggestions(topic)
	}
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = strings.ReplaceAll(s, topicPlaceholder, topic)
	}
	return out
}

// Len returns the number of topics with specific suggestions.
func (c *Catalog) Len() int {
	return len(c.topics)
}

func normalize(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

func clean(list []string) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
