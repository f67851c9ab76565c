/*
Package fixtures loads sample products, attribute definitions and policies.

PURPOSE:
  The engines never read global data. Products reach counting through the
  counting.ProductSource interface, attributes and policies reach abac as
  values. This package is where those values come from in development and
  demos: YAML files embedded in the binary, or a directory on disk with the
  same three files.

FILES:
  products.yaml:   {products: [...]}   decimal fields are quoted strings
  attributes.yaml: {attributes: [...]} operators default by data type
  policies.yaml:   {policies: [...]}   factory bundle format

USAGE:
  p, err := fixtures.Default()
  svc := counting.NewService(store, p)
  engine.Evaluate(ctx, p.Policies(), req)
*/
package fixtures

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/ops-engine/abac"
	"github.com/warp/ops-engine/counting"
	"github.com/warp/ops-engine/factory"
)

//go:embed data/*.yaml
var embedded embed.FS

// =============================================================================
// YAML SCHEMA
// =============================================================================

type productYAML struct {
	ID             string `yaml:"id"`
	Code           string `yaml:"code"`
	Name           string `yaml:"name"`
	Category       string `yaml:"category"`
	Unit           string `yaml:"unit"`
	Location       string `yaml:"location"`
	SystemQuantity string `yaml:"system_quantity"`
	Value          string `yaml:"value"`
	LastCountDate  string `yaml:"last_count_date"`
}

type attributeYAML struct {
	Path        string   `yaml:"path"`
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Description string   `yaml:"description"`
	DataType    string   `yaml:"data_type"`
	Category    string   `yaml:"category"`
	Operators   []string `yaml:"operators"`
	Tags        []string `yaml:"tags"`
}

// =============================================================================
// PROVIDER
// =============================================================================

// Provider holds loaded fixture data. It implements counting.ProductSource.
type Provider struct {
	products []counting.Product
	catalog  *abac.Catalog
	policies []abac.Policy
}

// Default loads the embedded fixtures.
func Default() (*Provider, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// FromDir loads fixtures from a directory on disk.
func FromDir(dir string) (*Provider, error) {
	return Load(os.DirFS(dir))
}

// Load reads products.yaml, attributes.yaml and policies.yaml from fsys.
func Load(fsys fs.FS) (*Provider, error) {
	p := &Provider{}

	var products struct {
		Products []productYAML `yaml:"products"`
	}
	if err := readYAML(fsys, "products.yaml", &products); err != nil {
		return nil, err
	}
	for _, py := range products.Products {
		prod, err := py.toProduct()
		if err != nil {
			return nil, fmt.Errorf("products.yaml: %s: %w", py.ID, err)
		}
		p.products = append(p.products, prod)
	}

	var attributes struct {
		Attributes []attributeYAML `yaml:"attributes"`
	}
	if err := readYAML(fsys, "attributes.yaml", &attributes); err != nil {
		return nil, err
	}
	defs := make([]abac.AttributeDefinition, 0, len(attributes.Attributes))
	for _, ay := range attributes.Attributes {
		defs = append(defs, ay.toDefinition())
	}
	catalog, err := abac.NewCatalog(defs...)
	if err != nil {
		return nil, fmt.Errorf("attributes.yaml: %w", err)
	}
	p.catalog = catalog

	data, err := fs.ReadFile(fsys, "policies.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to read policies.yaml: %w", err)
	}
	if p.policies, err = factory.NewPolicyFactory().ParseBundleYAML(data); err != nil {
		return nil, fmt.Errorf("policies.yaml: %w", err)
	}
	for _, pol := range p.policies {
		if err := abac.ValidatePolicy(catalog, pol, abac.DefaultMaxDepth); err != nil {
			return nil, fmt.Errorf("policies.yaml: %w", err)
		}
	}

	return p, nil
}

func readYAML(fsys fs.FS, name string, v any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// ListProducts implements counting.ProductSource.
func (p *Provider) ListProducts(context.Context) ([]counting.Product, error) {
	return append([]counting.Product(nil), p.products...), nil
}

// Catalog returns the attribute catalog.
func (p *Provider) Catalog() *abac.Catalog { return p.catalog }

// Policies returns the sample policies in file order.
func (p *Provider) Policies() []abac.Policy {
	return append([]abac.Policy(nil), p.policies...)
}

// =============================================================================
// CONVERSION
// =============================================================================

func (py productYAML) toProduct() (counting.Product, error) {
	qty, err := decimal.NewFromString(py.SystemQuantity)
	if err != nil {
		return counting.Product{}, fmt.Errorf("system_quantity: %w", err)
	}
	value, err := decimal.NewFromString(py.Value)
	if err != nil {
		return counting.Product{}, fmt.Errorf("value: %w", err)
	}
	prod := counting.Product{
		ID:             py.ID,
		Code:           py.Code,
		Name:           py.Name,
		Category:       py.Category,
		Unit:           py.Unit,
		Location:       py.Location,
		SystemQuantity: qty,
		Value:          value,
	}
	if py.LastCountDate != "" {
		t, err := time.Parse("2006-01-02", py.LastCountDate)
		if err != nil {
			return counting.Product{}, fmt.Errorf("last_count_date: %w", err)
		}
		prod.LastCountDate = &t
	}
	return prod, nil
}

func (ay attributeYAML) toDefinition() abac.AttributeDefinition {
	d := abac.AttributeDefinition{
		Path:        ay.Path,
		Name:        ay.Name,
		DisplayName: ay.DisplayName,
		Description: ay.Description,
		DataType:    abac.DataType(ay.DataType),
		Category:    ay.Category,
		Tags:        ay.Tags,
	}
	for _, op := range ay.Operators {
		d.ValidOperators = append(d.ValidOperators, abac.Operator(op))
	}
	return d
}
