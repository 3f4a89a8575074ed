package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/loreweave/loreweave/internal/store"
	"github.com/loreweave/loreweave/pkg/apperror"
	"github.com/loreweave/loreweave/pkg/logger"
)

// Relationship schema records share the type schema table under a
// reserved name prefix; type names never contain ':'.
const relationshipPrefix = "rel:"

// Registry resolves node type and relationship schemas. Schemas are
// persisted through the store's schema passthrough and mirrored in
// memory for lock-cheap lookups on the node write path.
type Registry struct {
	store store.Store
	log   *slog.Logger

	mu    sync.RWMutex
	types map[string]*TypeSchema
	rels  map[string]*RelationshipSchema
}

// NewRegistry creates an empty registry; call Load before serving.
func NewRegistry(st store.Store, log *slog.Logger) *Registry {
	return &Registry{
		store: st,
		log:   log.With(logger.Scope("schema")),
		types: make(map[string]*TypeSchema),
		rels:  make(map[string]*RelationshipSchema),
	}
}

// Load reads every persisted schema record into memory.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.store.ListTypeSchemas(ctx)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}

	types := make(map[string]*TypeSchema)
	rels := make(map[string]*RelationshipSchema)
	for _, rec := range recs {
		if name, ok := relationshipName(rec.Name); ok {
			rs := new(RelationshipSchema)
			if err := json.Unmarshal(rec.Doc, rs); err != nil {
				return fmt.Errorf("decode relationship schema %q: %w", name, err)
			}
			rels[name] = rs
			continue
		}
		ts := new(TypeSchema)
		if err := json.Unmarshal(rec.Doc, ts); err != nil {
			return fmt.Errorf("decode type schema %q: %w", rec.Name, err)
		}
		types[rec.Name] = ts
	}

	r.mu.Lock()
	r.types = types
	r.rels = rels
	r.mu.Unlock()

	r.log.Info("schema registry loaded",
		slog.Int("types", len(types)),
		slog.Int("relationships", len(rels)),
	)
	return nil
}

// Seed registers built-in schemas plus an optional YAML seed file.
// Existing persisted schemas win over seeds of the same name.
func (r *Registry) Seed(ctx context.Context, seedPath string) error {
	seed := builtinSeed()

	if seedPath != "" {
		raw, err := os.ReadFile(seedPath)
		if err != nil {
			return fmt.Errorf("read schema seed %q: %w", seedPath, err)
		}
		var fileSeed seedFile
		if err := yaml.Unmarshal(raw, &fileSeed); err != nil {
			return fmt.Errorf("parse schema seed %q: %w", seedPath, err)
		}
		seed.Types = append(seed.Types, fileSeed.Types...)
		seed.Relationships = append(seed.Relationships, fileSeed.Relationships...)
	}

	for i := range seed.Types {
		ts := &seed.Types[i]
		if existing, _ := r.NodeType(ts.Name); existing != nil {
			continue
		}
		if err := r.RegisterType(ctx, ts); err != nil {
			return err
		}
	}
	for i := range seed.Relationships {
		rs := &seed.Relationships[i]
		if existing, _ := r.Relationship(rs.Name); existing != nil {
			continue
		}
		if err := r.RegisterRelationship(ctx, rs); err != nil {
			return err
		}
	}
	return nil
}

// NodeType returns the schema for a node type, or (nil, false).
func (r *Registry) NodeType(name string) (*TypeSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.types[name]
	return ts, ok
}

// Relationship returns the schema for a relationship name, or (nil, false).
func (r *Registry) Relationship(name string) (*RelationshipSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rels[name]
	return rs, ok
}

// RegisterType persists a type schema and makes it resolvable.
func (r *Registry) RegisterType(ctx context.Context, ts *TypeSchema) error {
	if ts.Name == "" {
		return apperror.NewValidation("name", "type name is required")
	}
	doc, err := json.Marshal(ts)
	if err != nil {
		return fmt.Errorf("encode type schema %q: %w", ts.Name, err)
	}
	if err := r.store.PutTypeSchema(ctx, &store.TypeSchemaRecord{Name: ts.Name, Doc: doc}); err != nil {
		return err
	}

	r.mu.Lock()
	r.types[ts.Name] = ts
	r.mu.Unlock()
	return nil
}

// RegisterRelationship persists a relationship schema and makes it
// resolvable.
func (r *Registry) RegisterRelationship(ctx context.Context, rs *RelationshipSchema) error {
	if rs.Name == "" {
		return apperror.NewValidation("name", "relationship name is required")
	}
	if rs.Cardinality == "" {
		rs.Cardinality = ManyToMany
	}
	switch rs.Cardinality {
	case OneToOne, OneToMany, ManyToMany:
	default:
		return apperror.NewValidation("cardinality",
			fmt.Sprintf("unknown cardinality %q", rs.Cardinality))
	}

	doc, err := json.Marshal(rs)
	if err != nil {
		return fmt.Errorf("encode relationship schema %q: %w", rs.Name, err)
	}
	rec := &store.TypeSchemaRecord{Name: relationshipPrefix + rs.Name, Doc: doc}
	if err := r.store.PutTypeSchema(ctx, rec); err != nil {
		return err
	}

	r.mu.Lock()
	r.rels[rs.Name] = rs
	r.mu.Unlock()
	return nil
}

// Types returns a snapshot of all registered node type schemas.
func (r *Registry) Types() []*TypeSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TypeSchema, 0, len(r.types))
	for _, ts := range r.types {
		out = append(out, ts)
	}
	return out
}

func relationshipName(recordName string) (string, bool) {
	if len(recordName) > len(relationshipPrefix) && recordName[:len(relationshipPrefix)] == relationshipPrefix {
		return recordName[len(relationshipPrefix):], true
	}
	return "", false
}

type seedFile struct {
	Types         []TypeSchema         `yaml:"types"`
	Relationships []RelationshipSchema `yaml:"relationships"`
}

// builtinSeed returns the schemas every installation starts with.
func builtinSeed() seedFile {
	return seedFile{
		Types: []TypeSchema{
			{Name: "text"},
			{
				Name:       "task",
				Embeddable: true,
				Fields: map[string]FieldSchema{
					"status":       {Type: FieldText},
					"priority":     {Type: FieldNumber},
					"due_date":     {Type: FieldDate},
					"completed_at": {Type: FieldDate, Protection: ProtectionSystem},
				},
			},
			{
				Name:      "date",
				Singleton: true,
				Container: true,
				Fields: map[string]FieldSchema{
					"day": {Type: FieldDate, Protection: ProtectionSystem},
				},
			},
			{
				Name:            "container",
				Container:       true,
				ContentOptional: true,
			},
			{
				Name:       "note",
				Embeddable: true,
				Fields: map[string]FieldSchema{
					"tags": {Type: FieldArray},
				},
			},
			{
				Name:       "project",
				Embeddable: true,
				Container:  true,
				Fields: map[string]FieldSchema{
					"status": {Type: FieldText},
				},
			},
		},
		Relationships: []RelationshipSchema{
			{Name: "references", Cardinality: ManyToMany},
			{Name: "assigned_to", Cardinality: OneToMany},
			{Name: "blocks", Cardinality: ManyToMany},
		},
	}
}
