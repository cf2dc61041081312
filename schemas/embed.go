// Package schemas embeds the JSON Schema for cascade workflow definitions.
// Editors and CI pipelines can validate YAML workflows against it before
// ever invoking the engine.
package schemas

import (
	_ "embed"
)

//go:embed workflow.schema.json
var workflowSchema []byte

// GetWorkflowSchema returns the workflow JSON Schema as raw bytes.
func GetWorkflowSchema() []byte {
	return workflowSchema
}

// GetWorkflowSchemaString returns the workflow JSON Schema as a string.
func GetWorkflowSchemaString() string {
	return string(workflowSchema)
}
