package model

import (
	"fmt"
	"strings"
)

// FieldType is a primitive column type. Values are the CQL type names.
type FieldType string

const (
	TypeText      FieldType = "text"
	TypeInt       FieldType = "int"
	TypeBigInt    FieldType = "bigint"
	TypeDouble    FieldType = "double"
	TypeBoolean   FieldType = "boolean"
	TypeUUID      FieldType = "uuid"
	TypeTimestamp FieldType = "timestamp"
)

// ParseFieldType validates a type name. "varchar" is accepted as an alias of text.
func ParseFieldType(s string) (FieldType, error) {
	switch t := FieldType(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeText, TypeInt, TypeBigInt, TypeDouble, TypeBoolean, TypeUUID, TypeTimestamp:
		return t, nil
	case "varchar":
		return TypeText, nil
	}
	return "", fmt.Errorf("unsupported field type '%s'", s)
}

// Field is one column of the schema contract.
type Field struct {
	Name     string
	Type     FieldType
	Nullable bool
}

// Schema is the ordered contract every decoded record must satisfy.
type Schema struct {
	Fields     []Field
	PrimaryKey string
}

// Validate checks field names, types and the primary key.
func (s *Schema) Validate() error {
	if len(s.Fields) == 0 {
		return fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema field with empty name")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate schema field '%s'", f.Name)
		}
		seen[f.Name] = struct{}{}
		if _, err := ParseFieldType(string(f.Type)); err != nil {
			return fmt.Errorf("field '%s': %w", f.Name, err)
		}
	}
	idx := s.KeyIndex()
	if idx < 0 {
		return fmt.Errorf("primary key '%s' is not a schema field", s.PrimaryKey)
	}
	if s.Fields[idx].Nullable {
		return fmt.Errorf("primary key '%s' cannot be nullable", s.PrimaryKey)
	}
	return nil
}

// KeyIndex returns the index of the primary key field, or -1.
func (s *Schema) KeyIndex() int {
	return s.IndexOf(s.PrimaryKey)
}

// IndexOf returns the index of the named field, or -1.
func (s *Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// ColumnNames returns the field names in schema order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// UsersSchema is the layout of the users_created topic.
func UsersSchema() *Schema {
	text := func(name string) Field { return Field{Name: name, Type: TypeText, Nullable: false} }
	return &Schema{
		PrimaryKey: "id",
		Fields: []Field{
			{Name: "id", Type: TypeUUID},
			text("first_name"),
			text("last_name"),
			text("gender"),
			text("address"),
			text("post_code"),
			text("email"),
			text("username"),
			text("dob"),
			text("registered_date"),
			text("phone"),
			text("picture"),
		},
	}
}
