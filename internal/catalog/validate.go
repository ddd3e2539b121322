package catalog

import (
	"embed"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

//go:embed schemas/*.json
var schemaFiles embed.FS

var (
	topicSchema  = mustResolve("schemas/schema.json")
	sourceSchema = mustResolve("schemas/meta.json")
)

func mustResolve(name string) *jsonschema.Resolved {
	data, err := schemaFiles.ReadFile(name)
	if err != nil {
		panic(err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		panic(fmt.Sprintf("catalog: parse %s: %v", name, err))
	}
	rs, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("catalog: resolve %s: %v", name, err))
	}
	return rs
}

// ValidateTopicFile checks the contents of a schema.json file.
func ValidateTopicFile(data []byte) error {
	return validateJSON(topicSchema, data)
}

// ValidateSourceFile checks the contents of a meta.json file.
func ValidateSourceFile(data []byte) error {
	return validateJSON(sourceSchema, data)
}

func validateJSON(rs *jsonschema.Resolved, data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return rs.Validate(instance)
}
