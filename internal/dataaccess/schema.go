package dataaccess

import (
	"fmt"
	"os"
	"slices"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
	"gopkg.in/yaml.v3"
)

// IDField is always projected, whatever the allowlist says.
const IDField = "id"

// defaultFields applies to collections with no schema entry.
var defaultFields = []string{"id", "createdAt", "updatedAt"}

// CollectionSchema is the static field allowlist of one collection.
type CollectionSchema struct {
	Description string   `yaml:"description"`
	Fields      []string `yaml:"fields"`
	DateField   string   `yaml:"date_field"`
	AmountField string   `yaml:"amount_field"`
}

// Schema maps collection names to their allowed fields. It is the only
// source the allowlist is built from.
type Schema struct {
	collections map[string]CollectionSchema
}

// DefaultSchema returns the built-in business collections.
func DefaultSchema() *Schema {
	return &Schema{collections: map[string]CollectionSchema{
		"finance_transactions": {
			Description: "Income and expense transactions with vendor, category and department",
			Fields: []string{"id", "date", "amount", "currency", "type", "category", "description", "vendor",
				"account", "status", "department", "projectCode", "createdAt", "updatedAt"},
			DateField:   "date",
			AmountField: "amount",
		},
		"finance_budgets": {
			Description: "Departmental budget allocations and spend per fiscal period",
			Fields: []string{"id", "department", "category", "allocatedAmount", "spentAmount", "period",
				"fiscalYear", "createdAt", "updatedAt"},
		},
		"sales_deals": {
			Description: "Sales pipeline deals with stage, value and expected close date",
			Fields: []string{"id", "name", "company", "value", "currency", "stage", "probability",
				"expectedCloseDate", "actualCloseDate", "owner", "source", "industry", "region", "createdAt", "updatedAt"},
			DateField:   "expectedCloseDate",
			AmountField: "value",
		},
		"sales_customers": {
			Description: "Customer accounts with industry, region and revenue",
			Fields: []string{"id", "name", "company", "email", "phone", "industry", "region", "annualRevenue",
				"employeeCount", "status", "firstContactDate", "createdAt", "updatedAt"},
		},
		"hr_employees": {
			Description: "Employee records with department, role and employment details",
			Fields: []string{"id", "name", "email", "phone", "department", "role", "title", "managerId",
				"hireDate", "employmentType", "salary", "currency", "location", "status", "skills", "createdAt", "updatedAt"},
			DateField: "hireDate",
		},
	}}
}

// NewSchema builds a Schema from explicit entries.
func NewSchema(collections map[string]CollectionSchema) *Schema {
	s := &Schema{collections: make(map[string]CollectionSchema, len(collections))}
	for name, c := range collections {
		s.collections[name] = c
	}
	return s
}

type schemaFile struct {
	Collections map[string]CollectionSchema `yaml:"collections"`
}

// LoadSchema reads a YAML schema file and layers it over DefaultSchema.
// Entries in the file replace built-in entries of the same name.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var f schemaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse schema file: %w", err)
	}

	s := DefaultSchema()
	for name, c := range f.Collections {
		if len(c.Fields) == 0 {
			return nil, fmt.Errorf("schema file: collection %s has no fields", name)
		}
		s.collections[name] = c
	}
	return s, nil
}

// Fields returns the ordered allowed fields of a collection.
func (s *Schema) Fields(collection string) []string {
	if c, ok := s.collections[collection]; ok && len(c.Fields) > 0 {
		return slices.Clone(c.Fields)
	}
	return slices.Clone(defaultFields)
}

// Collection returns the schema entry for a collection, falling back to the
// default field set.
func (s *Schema) Collection(name string) CollectionSchema {
	c, ok := s.collections[name]
	if !ok || len(c.Fields) == 0 {
		c.Fields = defaultFields
	}
	c.Fields = slices.Clone(c.Fields)
	if c.DateField == "" {
		c.DateField = "createdAt"
	}
	if c.AmountField == "" {
		c.AmountField = "value"
	}
	return c
}

// AllowedCollection is the allowlist for one collection of one agent.
type AllowedCollection struct {
	Name   string
	Fields []string
}

// Allows reports whether field may be read or filtered on.
func (c AllowedCollection) Allows(field string) bool {
	return field == IDField || slices.Contains(c.Fields, field)
}

// AllowedCollections derives the allowlist for an agent from its collection
// list and the static schema. Duplicate collection names collapse.
func (s *Schema) AllowedCollections(agent *models.Agent) []AllowedCollection {
	out := make([]AllowedCollection, 0, len(agent.Collections))
	seen := make(map[string]bool, len(agent.Collections))
	for _, name := range agent.Collections {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, AllowedCollection{Name: name, Fields: s.Fields(name)})
	}
	return out
}
