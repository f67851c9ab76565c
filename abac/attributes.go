/*
attributes.go - Catalog of known attributes

PURPOSE:
  Conditions may only reference attributes the catalog knows. Each
  definition declares a data type, and the data type decides which
  operators are allowed unless the definition lists its own.

HOW IT WORKS:
  1. Fixtures (or tests) build a Catalog with NewCatalog / Register
  2. ValidateCondition looks up the condition's path
  3. The API lists the catalog for policy editors

  The catalog is an instance, not a package global, so two engines can
  carry different vocabularies.

SEE ALSO:
  - validate.go: uses Lookup to check conditions
  - fixtures/attributes.yaml: the shipped vocabulary
*/
package abac

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// AttributeDefinition describes one addressable attribute.
type AttributeDefinition struct {
	Path           string
	Name           string
	DisplayName    string
	Description    string
	DataType       DataType
	Category       string // subject, resource, action, environment
	ValidOperators []Operator
	Tags           []string
}

// Allows reports whether op may be used on this attribute.
func (d AttributeDefinition) Allows(op Operator) bool {
	for _, o := range d.ValidOperators {
		if o == op {
			return true
		}
	}
	return false
}

// DefaultOperators returns the operators allowed for a data type when a
// definition doesn't list its own.
func DefaultOperators(t DataType) []Operator {
	switch t {
	case TypeString:
		return []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn, OpContains, OpNotContains, OpStartsWith, OpEndsWith}
	case TypeNumber, TypeDate:
		return []Operator{OpEquals, OpNotEquals, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpIn, OpNotIn}
	case TypeBoolean:
		return []Operator{OpEquals, OpNotEquals}
	case TypeArray:
		return []Operator{OpContains, OpNotContains, OpIn, OpNotIn}
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is a concurrency-safe set of attribute definitions keyed by path.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]AttributeDefinition
}

// NewCatalog builds a catalog. It fails on the first invalid definition.
func NewCatalog(defs ...AttributeDefinition) (*Catalog, error) {
	c := &Catalog{defs: make(map[string]AttributeDefinition, len(defs))}
	for _, d := range defs {
		if err := c.Register(d); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces a definition. An empty operator list is filled
// from DefaultOperators; an explicit list must only name known operators.
func (c *Catalog) Register(d AttributeDefinition) error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("%w: empty path", ErrUnknownAttribute)
	}
	if !d.DataType.Valid() {
		return fmt.Errorf("%w: %s has unknown data type %q", ErrUnknownAttribute, d.Path, d.DataType)
	}
	if len(d.ValidOperators) == 0 {
		d.ValidOperators = DefaultOperators(d.DataType)
	}
	for _, op := range d.ValidOperators {
		if !op.Valid() {
			return fmt.Errorf("%w: %s lists unknown operator %q", ErrUnknownAttribute, d.Path, op)
		}
	}
	if d.Category == "" {
		d.Category, _, _ = strings.Cut(d.Path, ".")
	}
	if d.Name == "" {
		d.Name = d.Path[strings.LastIndex(d.Path, ".")+1:]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.defs == nil {
		c.defs = make(map[string]AttributeDefinition)
	}
	c.defs[d.Path] = d
	return nil
}

// Lookup finds a definition by path.
func (c *Catalog) Lookup(path string) (AttributeDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defs[path]
	return d, ok
}

// List returns every definition sorted by path.
func (c *Catalog) List() []AttributeDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]AttributeDefinition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// ListByCategory returns the definitions for one category, sorted by path.
func (c *Catalog) ListByCategory(category string) []AttributeDefinition {
	var out []AttributeDefinition
	for _, d := range c.List() {
		if d.Category == category {
			out = append(out, d)
		}
	}
	return out
}

// Search matches name, display name, description and tags, case-insensitively.
func (c *Catalog) Search(query string) []AttributeDefinition {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return c.List()
	}
	var out []AttributeDefinition
	for _, d := range c.List() {
		if strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.DisplayName), q) ||
			strings.Contains(strings.ToLower(d.Description), q) ||
			hasTag(d.Tags, q) {
			out = append(out, d)
		}
	}
	return out
}

func hasTag(tags []string, q string) bool {
	for _, t := range tags {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	return false
}
