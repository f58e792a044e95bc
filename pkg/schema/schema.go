// Package schema derives JSON schemas of tool arguments from Go types.
package schema

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const defsPrefix = "#/$defs/"

// reflect.Type => *Schema
var reflected sync.Map

// Schema describes the arguments of a function
type Schema struct {
	// Parameters is the object schema with every definition inlined
	Parameters *jsonschema.Schema
}

// New returns the schema of the struct type t, pointers are dereferenced.
// Results are cached per type.
func New(t reflect.Type) (*Schema, error) {
	if v, ok := reflected.Load(t); ok {
		return v.(*Schema), nil
	}

	params, err := reflectParameters(t)
	if err != nil {
		return nil, err
	}
	v, _ := reflected.LoadOrStore(t, &Schema{Parameters: params})
	return v.(*Schema), nil
}

// JSONSchemaFor returns the parameters schema of T, and panics on error
func JSONSchemaFor[T any]() *jsonschema.Schema {
	s, err := New(reflect.TypeFor[T]())
	if err != nil {
		panic(err)
	}
	return s.Parameters
}

func (s *Schema) String() string {
	js, _ := json.MarshalIndent(s.Parameters, "", "\t")
	return string(js)
}

func reflectParameters(t reflect.Type) (*jsonschema.Schema, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, errors.Newf("schema: expected struct type, got %s", t.Kind())
	}

	doc := newReflector().ReflectFromType(t)
	params, err := inline(doc)
	if err != nil {
		return nil, errors.Wrapf(err, "schema: %s", t.Name())
	}
	return params, nil
}

func newReflector() *jsonschema.Reflector {
	return &jsonschema.Reflector{
		ExpandedStruct:            true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
		// struct names are qualified by the package hash,
		// see https://github.com/invopop/jsonschema/issues/42
		Namer: func(t reflect.Type) string {
			if t.Kind() != reflect.Struct {
				return t.Name()
			}
			return t.Name() + "@" + strconv.FormatUint(xxhash.Sum64String(t.PkgPath()+"/"+t.Name()), 10)
		},
	}
}

// inline returns the root object of the document with references replaced
// by their definitions
func inline(doc *jsonschema.Schema) (*jsonschema.Schema, error) {
	root, err := deref(doc, doc.Definitions)
	if err != nil {
		root = doc
	}

	params := &jsonschema.Schema{
		Type:       root.Type,
		Properties: root.Properties,
		Required:   root.Required,
	}
	if params.Type == "" {
		params.Type = "object"
	}
	if params.Properties == nil {
		params.Properties = orderedmap.New[string, *jsonschema.Schema]()
	}
	return params, resolve(params.Properties, doc.Definitions)
}

func resolve(props *orderedmap.OrderedMap[string, *jsonschema.Schema], defs jsonschema.Definitions) error {
	for pair := props.Oldest(); pair != nil; pair = pair.Next() {
		s, err := deref(pair.Value, defs)
		if err != nil {
			return err
		}
		if s.Items != nil {
			if s.Items, err = deref(s.Items, defs); err != nil {
				return err
			}
		}
		pair.Value = s

		for _, child := range []*jsonschema.Schema{s, s.Items} {
			if child == nil || child.Properties == nil {
				continue
			}
			if err = resolve(child.Properties, defs); err != nil {
				return err
			}
		}
	}
	return nil
}

func deref(s *jsonschema.Schema, defs jsonschema.Definitions) (*jsonschema.Schema, error) {
	if s.Ref == "" {
		return s, nil
	}
	name := strings.TrimPrefix(s.Ref, defsPrefix)
	def, ok := defs[name]
	if !ok {
		return nil, errors.Newf("definition not found: %s", name)
	}
	return def, nil
}

// MustFromAny is FromAny that panics on error, handy for literals:
//
//	schema.MustFromAny(map[string]any{
//		"type": "object",
//		"properties": map[string]any{
//			"query": map[string]any{"type": "string"},
//		},
//	})
func MustFromAny(v any) *jsonschema.Schema {
	s, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return s
}

// FromAny converts a value that encodes to a JSON schema document.
// Raw JSON is decoded as is.
func FromAny(v any) (*jsonschema.Schema, error) {
	switch val := v.(type) {
	case []byte:
		return FromJSON(val)
	case json.RawMessage:
		return FromJSON(val)
	}
	js, err := json.Marshal(v)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return FromJSON(js)
}

// FromJSON decodes a JSON schema document, property order is kept
func FromJSON(js []byte) (*jsonschema.Schema, error) {
	s := new(jsonschema.Schema)
	if err := json.Unmarshal(js, s); err != nil {
		return nil, errors.Wrap(err, "invalid json schema")
	}
	return s, nil
}
