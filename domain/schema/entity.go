// Package schema is the runtime type registry: node type schemas with
// per-field types and protection levels, and relationship schemas with
// cardinality constraints. Nodes are schemaless at the store layer; this
// package is the validation boundary above it.
package schema

// FieldType enumerates the value types a schema field can declare.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Protection controls who may write a field. System fields are
// maintained by services and reject caller writes.
type Protection string

const (
	ProtectionUser   Protection = "user"
	ProtectionSystem Protection = "system"
)

// FieldSchema declares the type and protection level of one property.
type FieldSchema struct {
	Type       FieldType  `json:"type" yaml:"type"`
	Protection Protection `json:"protection,omitempty" yaml:"protection,omitempty"`
}

// TypeSchema declares a node type.
type TypeSchema struct {
	Name string `json:"name" yaml:"name"`

	// ContentOptional allows nodes of this type to have empty content.
	ContentOptional bool `json:"content_optional,omitempty" yaml:"content_optional,omitempty"`

	// Embeddable marks the type as participating in the vector index.
	Embeddable bool `json:"embeddable,omitempty" yaml:"embeddable,omitempty"`

	// Container marks the type as a grouping boundary; descendants cache
	// the nearest container ancestor as their container_node_id.
	Container bool `json:"container,omitempty" yaml:"container,omitempty"`

	// Singleton types derive their id from content (one node per content
	// key, e.g. one node per calendar day).
	Singleton bool `json:"singleton,omitempty" yaml:"singleton,omitempty"`

	Fields map[string]FieldSchema `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Cardinality constrains how many edges of a relationship may share an
// endpoint.
type Cardinality string

const (
	OneToOne   Cardinality = "one_to_one"
	OneToMany  Cardinality = "one_to_many"
	ManyToMany Cardinality = "many_to_many"
)

// RelationshipSchema declares a relationship name and its constraints.
type RelationshipSchema struct {
	Name          string      `json:"name" yaml:"name"`
	Cardinality   Cardinality `json:"cardinality" yaml:"cardinality"`
	Bidirectional bool        `json:"bidirectional,omitempty" yaml:"bidirectional,omitempty"`
}
