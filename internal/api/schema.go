package api

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const createReportSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["classId", "reportType"],
  "additionalProperties": false,
  "properties": {
    "classId": {"type": "string", "minLength": 1, "maxLength": 128},
    "reportType": {"type": "string", "minLength": 1, "maxLength": 32}
  }
}`

var createReportValidator = mustSchema(createReportSchema)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// schemaViolations validates body and returns one message per violation.
// A non-nil error means body is not JSON at all.
func schemaViolations(schema *gojsonschema.Schema, body []byte) ([]string, error) {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to validate: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return details, nil
}
