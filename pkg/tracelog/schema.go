package tracelog

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const schemaFile = "trace-schema.json"

//go:embed trace-schema.json
var schemaFS embed.FS

// SchemaJSON returns the embedded trace document schema.
func SchemaJSON() ([]byte, error) {
	schema, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("tracelog: read embedded schema: %w", err)
	}

	return schema, nil
}

// ValidateDocument checks a raw trace document against the embedded schema.
// All violations are joined into one error wrapping ErrInvalidTrace.
func ValidateDocument(data []byte) error {
	schema, err := SchemaJSON()
	if err != nil {
		return err
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("tracelog: validate trace: %w", err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		details = append(details, fmt.Sprintf("%s: %s", violation.Field(), violation.Description()))
	}

	return fmt.Errorf("%w: %s", ErrInvalidTrace, strings.Join(details, "; "))
}
