// Package schema holds the entity registry: the fixed list of entity types,
// their columns and the SQL built from them. Identifiers reach SQL only
// through Table and Column values handed out by a Registry.
package schema

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pondok-erp/pondok-erp/internal/shared"
)

//go:embed registry.yaml
var defaultRegistry []byte

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Table is a whitelisted table identifier.
type Table struct {
	name string
}

// Name returns the raw identifier.
func (t Table) Name() string { return t.name }

// Quoted returns the identifier ready for interpolation into SQL.
func (t Table) Quoted() string { return quoteIdent(t.name) }

// Column is a whitelisted column identifier bound to its table.
type Column struct {
	table string
	name  string
}

// Name returns the raw column name.
func (c Column) Name() string { return c.name }

// Quoted returns the identifier ready for interpolation into SQL.
func (c Column) Quoted() string { return quoteIdent(c.name) }

// EntityType describes one registered table. The id column is implicit.
type EntityType struct {
	name       string
	fields     []string
	index      map[string]struct{}
	fileFields []string
	config     bool
	seeds      []map[string]string
}

// Name returns the entity type key.
func (e *EntityType) Name() string { return e.name }

// Table returns the backing table identifier.
func (e *EntityType) Table() Table { return Table{name: e.name} }

// Fields returns the registered field names in declaration order.
func (e *EntityType) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Column returns the whitelisted column for name.
func (e *EntityType) Column(name string) (Column, bool) {
	if _, ok := e.index[name]; !ok {
		return Column{}, false
	}
	return Column{table: e.name, name: name}, true
}

// Columns returns every registered column in declaration order.
func (e *EntityType) Columns() []Column {
	cols := make([]Column, len(e.fields))
	for i, f := range e.fields {
		cols[i] = Column{table: e.name, name: f}
	}
	return cols
}

// FileColumns returns the columns holding stored-object URLs.
func (e *EntityType) FileColumns() []Column {
	cols := make([]Column, len(e.fileFields))
	for i, f := range e.fileFields {
		cols[i] = Column{table: e.name, name: f}
	}
	return cols
}

// HasFiles reports whether records of this type reference stored objects.
func (e *EntityType) HasFiles() bool { return len(e.fileFields) > 0 }

// IsConfig reports whether saves to this type are configuration changes.
func (e *EntityType) IsConfig() bool { return e.config }

// Seeds returns the default rows inserted into an empty table.
func (e *EntityType) Seeds() []map[string]string {
	out := make([]map[string]string, len(e.seeds))
	for i, s := range e.seeds {
		row := make(map[string]string, len(s))
		for k, v := range s {
			row[k] = v
		}
		out[i] = row
	}
	return out
}

// Registry is the immutable set of entity types.
type Registry struct {
	order []string
	types map[string]*EntityType
}

type registryDocument struct {
	Entities []entityDocument `yaml:"entities"`
}

type entityDocument struct {
	Name   string              `yaml:"name"`
	Fields []string            `yaml:"fields"`
	Files  []string            `yaml:"files"`
	Config bool                `yaml:"config"`
	Seeds  []map[string]string `yaml:"seeds"`
}

// LoadRegistry reads the registry from path, or the built-in registry when
// path is empty.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return ParseRegistry(defaultRegistry)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read registry: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry decodes and validates a YAML registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var doc registryDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("schema: decode registry: %w", err)
	}
	reg := &Registry{types: make(map[string]*EntityType, len(doc.Entities))}
	for _, ent := range doc.Entities {
		et, err := buildEntityType(ent)
		if err != nil {
			return nil, err
		}
		if _, dup := reg.types[et.name]; dup {
			return nil, fmt.Errorf("schema: entity type %q declared twice", et.name)
		}
		reg.types[et.name] = et
		reg.order = append(reg.order, et.name)
	}
	return reg, nil
}

func buildEntityType(doc entityDocument) (*EntityType, error) {
	if !identPattern.MatchString(doc.Name) {
		return nil, fmt.Errorf("schema: invalid entity type name %q", doc.Name)
	}
	et := &EntityType{
		name:   doc.Name,
		index:  make(map[string]struct{}, len(doc.Fields)),
		config: doc.Config,
	}
	for _, f := range doc.Fields {
		if !identPattern.MatchString(f) || f == "id" {
			return nil, fmt.Errorf("schema: %s: invalid field %q", doc.Name, f)
		}
		if _, dup := et.index[f]; dup {
			return nil, fmt.Errorf("schema: %s: field %q declared twice", doc.Name, f)
		}
		et.index[f] = struct{}{}
		et.fields = append(et.fields, f)
	}
	for _, f := range doc.Files {
		if _, ok := et.index[f]; !ok {
			return nil, fmt.Errorf("schema: %s: file field %q is not a field", doc.Name, f)
		}
		et.fileFields = append(et.fileFields, f)
	}
	for i, seed := range doc.Seeds {
		for k := range seed {
			if _, ok := et.index[k]; !ok {
				return nil, fmt.Errorf("schema: %s: seed %d uses unknown field %q", doc.Name, i, k)
			}
		}
		et.seeds = append(et.seeds, seed)
	}
	return et, nil
}

// Lookup returns the entity type registered under name.
func (r *Registry) Lookup(name string) (*EntityType, error) {
	if r != nil {
		if et, ok := r.types[name]; ok {
			return et, nil
		}
	}
	return nil, fmt.Errorf("schema: %q: %w", name, shared.ErrInvalidType)
}

// Names lists registered entity types in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Types lists registered entity types in declaration order.
func (r *Registry) Types() []*EntityType {
	out := make([]*EntityType, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.types[name])
	}
	return out
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
