package schema_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/effective-security/toolchat/pkg/llmutils"
	"github.com/effective-security/toolchat/pkg/schema"
	"github.com/invopop/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type SearchType string

// Search represents a search request with nested arguments.
type Search struct {
	Topic string     `json:"topic,omitempty" jsonschema:"title=Topic,description=Topic of the search\\, with coma.,example=golang"`
	Query string     `json:"query" jsonschema:"title=Query,description=Query to search for relevant content,example=what is golang"`
	Type  SearchType `json:"type"  jsonschema:"title=Type,description=Type of search,default=web,enum=web,enum=image,enum=video"`
	Args  []*KVPair  `json:"args,omitempty" jsonschema:"title=Args,description=Arguments for the search"`
	Prov  *KVPair    `json:"prov,omitempty" jsonschema:"title=Prov,description=Provider for the search"`
}

type KVPair struct {
	Key   string `json:"key" jsonschema:"title=Key,description=Key of the pair"`
	Value string `json:"value" jsonschema:"title=Value,description=Value of the pair"`
}

type addArgs struct {
	A float64 `json:"a" jsonschema:"description=First number"`
	B float64 `json:"b" jsonschema:"description=Second number"`
}

type weatherRequest struct {
	Location string `json:"location" jsonschema:"description=City name"`
	Unit     string `json:"unit" jsonschema:"description=Unit of measurement,enum=celsius,enum=fahrenheit"`
}

func golden(t *testing.T, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return strings.TrimSpace(string(b))
}

func TestNew_Golden(t *testing.T) {
	t.Parallel()

	tcases := []struct {
		golden string
		typ    reflect.Type
	}{
		{"add.json", reflect.TypeOf(addArgs{})},
		{"search.json", reflect.TypeOf(Search{})},
		{"weather.json", reflect.TypeOf(&weatherRequest{})},
	}
	for _, tc := range tcases {
		t.Run(tc.golden, func(t *testing.T) {
			exp := golden(t, tc.golden)
			s, err := schema.New(tc.typ)
			require.NoError(t, err)
			assert.Equal(t, exp, s.String())
			assert.Equal(t, exp, llmutils.ToJSONIndent(s.Parameters))

			// the golden document decodes back with its properties
			sc, err := schema.FromJSON([]byte(exp))
			require.NoError(t, err)
			assert.Equal(t, s.Parameters.Properties.Len(), sc.Properties.Len())
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	s1, err := schema.New(reflect.TypeOf(addArgs{}))
	require.NoError(t, err)
	s2, err := schema.New(reflect.TypeOf(addArgs{}))
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Same(t, s1.Parameters, schema.JSONSchemaFor[addArgs]())

	type optional struct {
		RequiredField string  `json:"requiredField"`
		OptionalField *string `json:"optionalField,omitempty"`
		OmitField     string  `json:"omitField,omitempty"`
	}
	s, err := schema.New(reflect.TypeOf(&optional{}))
	require.NoError(t, err)
	assert.Equal(t, []string{"requiredField"}, s.Parameters.Required)
	assert.Equal(t, 3, s.Parameters.Properties.Len())

	type empty struct{}
	s, err = schema.New(reflect.TypeOf(empty{}))
	require.NoError(t, err)
	assert.Equal(t, "object", s.Parameters.Type)
	require.NotNil(t, s.Parameters.Properties)
	assert.Zero(t, s.Parameters.Properties.Len())

	_, err = schema.New(reflect.TypeOf(""))
	assert.EqualError(t, err, "schema: expected struct type, got string")

	assert.Panics(t, func() {
		schema.JSONSchemaFor[int]()
	})
}

func TestFromAny(t *testing.T) {
	t.Parallel()

	exp := golden(t, "from_any.json")
	literal := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
		},
		"required": []string{"query"},
	}

	for _, v := range []any{literal, []byte(exp), json.RawMessage(exp)} {
		sc, err := schema.FromAny(v)
		require.NoError(t, err)
		assert.Equal(t, exp, llmutils.ToJSONIndent(sc))
	}

	assert.Panics(t, func() {
		schema.MustFromAny(func() {})
	})
}

func TestFromJSON(t *testing.T) {
	t.Parallel()

	sc, err := schema.FromJSON([]byte(`{"type":"object","properties":{"b":{"type":"number"},"a":{"type":"number"}},"required":["b","a"]}`))
	require.NoError(t, err)
	assert.Equal(t, "object", sc.Type)
	assert.Equal(t, []string{"b", "a"}, sc.Required)

	var keys []string
	for pair := sc.Properties.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	assert.Equal(t, []string{"b", "a"}, keys)

	_, err = schema.FromJSON([]byte(`{"type":`))
	assert.ErrorContains(t, err, "invalid json schema")

	var raw jsonschema.Schema
	require.NoError(t, json.Unmarshal([]byte(golden(t, "weather.json")), &raw))
	assert.Equal(t, 2, raw.Properties.Len())
}
