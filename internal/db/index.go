package db

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DistanceMetric used by FT.SEARCH vector similarity queries.
type DistanceMetric string

const (
	// DistanceL2 is Euclidean distance.
	DistanceL2 DistanceMetric = "L2"
	// DistanceIP is inner product distance.
	DistanceIP DistanceMetric = "IP"
	// DistanceCosine is cosine distance.
	DistanceCosine DistanceMetric = "COSINE"
)

// ParseDistance maps a config value onto a DistanceMetric, defaulting to cosine.
func ParseDistance(s string) (DistanceMetric, error) {
	switch strings.ToUpper(s) {
	case "", "COSINE":
		return DistanceCosine, nil
	case "L2":
		return DistanceL2, nil
	case "IP":
		return DistanceIP, nil
	default:
		return "", fmt.Errorf("unknown distance metric %q", s)
	}
}

// IndexFieldType enumerates supported FT index field types.
type IndexFieldType int

const (
	// IndexFieldNumeric is a numeric field.
	IndexFieldNumeric IndexFieldType = iota
	// IndexFieldTag is a tag field.
	IndexFieldTag
	// IndexFieldText is a text field.
	IndexFieldText
	// IndexFieldVector is an HNSW vector field.
	IndexFieldVector
)

func (t IndexFieldType) String() string {
	switch t {
	case IndexFieldNumeric:
		return "NUMERIC"
	case IndexFieldTag:
		return "TAG"
	case IndexFieldText:
		return "TEXT"
	case IndexFieldVector:
		return "VECTOR"
	}
	return "UNKNOWN"
}

// IndexField describes a single field in an FT index schema.
type IndexField struct {
	Name string
	Type IndexFieldType

	VectorDim         int
	VectorDistance    DistanceMetric
	VectorM           int // max edges per node (default 16)
	VectorEFConstruct int // build-time candidate list size (default 200)
}

// IndexDefinition is an FT index over hashes sharing a key prefix.
type IndexDefinition struct {
	Name   string
	Prefix string
	Fields []IndexField
}

var identRegex = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

// IsValidIdentifier returns true if s matches [a-zA-Z0-9_:-]+.
func IsValidIdentifier(s string) bool {
	return identRegex.MatchString(s)
}

// Validate checks that the index definition is well-formed.
func (idx *IndexDefinition) Validate() error {
	if !IsValidIdentifier(idx.Name) {
		return fmt.Errorf("invalid index name %q", idx.Name)
	}
	if idx.Prefix == "" {
		return errors.New("index prefix is required")
	}
	if len(idx.Fields) == 0 {
		return errors.New("at least one field is required")
	}
	seen := make(map[string]bool, len(idx.Fields))
	for _, f := range idx.Fields {
		if !IsValidIdentifier(f.Name) {
			return fmt.Errorf("invalid field name %q", f.Name)
		}
		if seen[f.Name] {
			return errors.New("duplicate field name: " + f.Name)
		}
		seen[f.Name] = true
		if f.Type == IndexFieldVector && f.VectorDim <= 0 {
			return errors.New("vector field requires positive DIM")
		}
	}
	return nil
}

// Has reports whether the schema declares a field with the given name.
func (idx *IndexDefinition) Has(name string) bool {
	for _, f := range idx.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// String returns a debug representation resembling the FT.CREATE command.
func (idx *IndexDefinition) String() string {
	parts := []string{"FT.CREATE", idx.Name, "ON", "HASH", "PREFIX", "1", idx.Prefix, "SCHEMA"}
	for _, f := range idx.Fields {
		parts = append(parts, f.Name, f.Type.String())
	}
	return strings.Join(parts, " ")
}

// IndexBuilder is a fluent builder for FT index definitions.
type IndexBuilder struct {
	def IndexDefinition
}

// NewIndex starts building an index over hashes under prefix.
func NewIndex(name, prefix string) *IndexBuilder {
	return &IndexBuilder{def: IndexDefinition{Name: name, Prefix: prefix}}
}

func (b *IndexBuilder) add(name string, t IndexFieldType) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, IndexField{Name: name, Type: t})
	return b
}

// Tag adds TAG fields.
func (b *IndexBuilder) Tag(names ...string) *IndexBuilder {
	for _, n := range names {
		b.add(n, IndexFieldTag)
	}
	return b
}

// Numeric adds NUMERIC fields.
func (b *IndexBuilder) Numeric(names ...string) *IndexBuilder {
	for _, n := range names {
		b.add(n, IndexFieldNumeric)
	}
	return b
}

// Text adds a TEXT field.
func (b *IndexBuilder) Text(name string) *IndexBuilder {
	return b.add(name, IndexFieldText)
}

// Vector adds an HNSW FLOAT32 vector field.
func (b *IndexBuilder) Vector(name string, dim int, distance DistanceMetric, m, efConstruct int) *IndexBuilder {
	b.def.Fields = append(b.def.Fields, IndexField{
		Name:              name,
		Type:              IndexFieldVector,
		VectorDim:         dim,
		VectorDistance:    distance,
		VectorM:           m,
		VectorEFConstruct: efConstruct,
	})
	return b
}

// Build validates and returns the index definition.
func (b *IndexBuilder) Build() (*IndexDefinition, error) {
	if err := b.def.Validate(); err != nil {
		return nil, err
	}
	def := b.def
	def.Fields = append([]IndexField(nil), b.def.Fields...)
	return &def, nil
}
