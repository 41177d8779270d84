// Package catalog holds the static capability catalog used when tool
// servers cannot be queried.
package catalog

import (
	_ "embed"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	orchestrator "github.com/ZanzyTHEbar/mcp-orchestrator"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog maps a server key to its tools, preserving declaration order.
type Catalog struct {
	order   []string
	servers map[string][]orchestrator.ToolSchema
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the embedded catalog. It panics if the embedded file is
// malformed, which is a build defect.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Parse(defaultCatalog)
	})
	if defaultErr != nil {
		panic(errors.Wrap(defaultErr, "embedded catalog"))
	}
	return defaultCat
}

// Load reads a catalog file. An empty path returns the default catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read catalog %s", path)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse catalog %s", path)
	}
	return c, nil
}

type toolDoc struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Params      yaml.Node `yaml:"params"`
}

// Parse decodes catalog YAML. Mapping nodes are walked directly so that
// server and parameter order survive decoding.
func Parse(data []byte) (*Catalog, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.WithStack(err)
	}
	c := &Catalog{servers: make(map[string][]orchestrator.ToolSchema)}
	if len(root.Content) == 0 {
		return c, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, errors.Newf("catalog: expected a mapping of servers, line %d", doc.Line)
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i].Value
		var tools []toolDoc
		if err := doc.Content[i+1].Decode(&tools); err != nil {
			return nil, errors.Wrapf(err, "catalog: server %q", key)
		}
		schemas := make([]orchestrator.ToolSchema, 0, len(tools))
		for _, t := range tools {
			if t.Name == "" {
				return nil, errors.Newf("catalog: server %q has a tool without a name", key)
			}
			params, err := parseParams(&t.Params)
			if err != nil {
				return nil, errors.Wrapf(err, "catalog: %s.%s", key, t.Name)
			}
			schemas = append(schemas, orchestrator.NewToolSchema(t.Name, t.Description, params...))
		}
		if _, dup := c.servers[key]; !dup {
			c.order = append(c.order, key)
		}
		c.servers[key] = schemas
	}
	return c, nil
}

func parseParams(node *yaml.Node) ([]orchestrator.Param, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, errors.Newf("params must be a mapping, line %d", node.Line)
	}
	params := make([]orchestrator.Param, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		params = append(params, orchestrator.Param{
			Name: node.Content[i].Value,
			Type: orchestrator.ParseParamType(node.Content[i+1].Value),
		})
	}
	return params, nil
}

// Tools returns the schemas for a server key.
func (c *Catalog) Tools(serverKey string) ([]orchestrator.ToolSchema, bool) {
	tools, ok := c.servers[serverKey]
	return tools, ok
}

// Servers returns the server keys in catalog order.
func (c *Catalog) Servers() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of servers in the catalog.
func (c *Catalog) Len() int {
	return len(c.order)
}
